package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned by Load when no session has been persisted yet.
var ErrNoSession = errors.New("no persisted session")

// Store is durable storage for the single serialized session. Only the
// access token is persisted; the refresh credential lives in the HTTP
// cookie jar and the base URL is fixed configuration.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, accessToken string) error
	Delete(ctx context.Context) error
}

// Memory is an in-process Store for tests and ephemeral sessions.
type Memory struct {
	mu    sync.Mutex
	token string
	set   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", ErrNoSession
	}
	return m.token, nil
}

func (m *Memory) Save(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = accessToken
	m.set = true
	return nil
}

func (m *Memory) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}
