// gostore-cart/cartstore/local_cartstore.go

package cartstore

import (
	"context"
	"sync"
)

// LocalCartStore keeps values in process memory. Nothing survives a restart.
type LocalCartStore struct {
	mu     sync.RWMutex
	store  map[string]string
	closed bool
}

// NewLocalCartStore constructor
func NewLocalCartStore() *LocalCartStore {
	return &LocalCartStore{
		store: make(map[string]string),
	}
}

// Initialize does nothing for the in-memory store.
func (l *LocalCartStore) Initialize(ctx context.Context) error {
	log.Debug("LocalCartStore initialized")
	return nil
}

func (l *LocalCartStore) Get(ctx context.Context, key string) (string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return "", false, ErrClosed
	}
	val, ok := l.store[key]
	return val, ok, nil
}

func (l *LocalCartStore) Set(ctx context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.store[key] = value
	return nil
}

func (l *LocalCartStore) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.store = make(map[string]string)
	return nil
}

// Ping reports whether the store is still open.
func (l *LocalCartStore) Ping(ctx context.Context) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.closed
}

func (l *LocalCartStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
