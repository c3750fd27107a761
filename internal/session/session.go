package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/djmurphy6/pond/internal/store"
)

// Session owns the current access token. It is the only mutable state shared
// between concurrent request pipelines, so all access goes through the
// mutex; callers must never cache the token themselves.
//
// Writes are persisted synchronously to the backing store so a restarted
// client resumes with the last minted token.
type Session struct {
	mu    sync.Mutex
	token string
	store store.Store
}

func New(st store.Store) *Session {
	return &Session{store: st}
}

// Load restores the persisted access token, if any. A store with no session
// is not an error; the session simply starts unauthenticated.
func (s *Session) Load(ctx context.Context) error {
	token, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoSession) {
			return nil
		}
		return fmt.Errorf("restore session: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Token returns the live access token and whether one is set.
func (s *Session) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// SetToken installs a new access token and persists it.
func (s *Session) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := s.store.Save(ctx, token); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Clear drops the in-memory token without touching the store.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Reset clears the token and removes the persisted session. Used on logout
// and on unrecoverable refresh failure.
func (s *Session) Reset(ctx context.Context) error {
	s.Clear()
	if err := s.store.Delete(ctx); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}
