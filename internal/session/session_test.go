package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/djmurphy6/pond/internal/store"
)

func TestSetTokenPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := New(st)

	if _, ok := s.Token(); ok {
		t.Fatalf("fresh session claims a token")
	}

	if err := s.SetToken(ctx, "tok-1"); err != nil {
		t.Fatalf("set token failed: %v", err)
	}
	if got, ok := s.Token(); !ok || got != "tok-1" {
		t.Fatalf("Token() = %q, %v", got, ok)
	}
	if got, err := st.Load(ctx); err != nil || got != "tok-1" {
		t.Fatalf("persisted token = %q, %v", got, err)
	}
}

func TestLoadRestoresPersistedToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Save(ctx, "restored"); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	s := New(st)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got, ok := s.Token(); !ok || got != "restored" {
		t.Fatalf("Token() after Load = %q, %v", got, ok)
	}
}

func TestLoadToleratesEmptyStore(t *testing.T) {
	s := New(store.NewMemory())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load of empty store failed: %v", err)
	}
	if _, ok := s.Token(); ok {
		t.Fatalf("session claims a token after empty load")
	}
}

func TestClearKeepsPersistedToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := New(st)
	if err := s.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("set token failed: %v", err)
	}

	s.Clear()
	if _, ok := s.Token(); ok {
		t.Fatalf("token survived Clear")
	}
	if _, err := st.Load(ctx); err != nil {
		t.Fatalf("Clear touched the store: %v", err)
	}
}

func TestResetRemovesPersistedToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := New(st)
	if err := s.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("set token failed: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, ok := s.Token(); ok {
		t.Fatalf("token survived Reset")
	}
	if _, err := st.Load(ctx); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("store Load after Reset = %v, want ErrNoSession", err)
	}
}

func TestSessionOverSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	st, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	s := New(st)
	if err := s.SetToken(ctx, "durable"); err != nil {
		t.Fatalf("set token failed: %v", err)
	}
	st.Close()

	// A new process: reopen the store and restore the session.
	st, err = store.NewSQLite(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer st.Close()

	s = New(st)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got, ok := s.Token(); !ok || got != "durable" {
		t.Fatalf("restored token = %q, %v", got, ok)
	}
}
