// gostore-cart/cartstore/cartstore.go

package cartstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by every operation on a store after Close.
var ErrClosed = errors.New("cartstore: store is closed")

var log = logrus.WithField("component", "cartstore")

// ICartStore is the persistent key-value engine behind the cart.
// Values are opaque strings; the cart stores its serialized item list under one key.
type ICartStore interface {
	Initialize(ctx context.Context) error

	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Clear removes every key owned by this store.
	Clear(ctx context.Context) error

	Ping(ctx context.Context) bool
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// FilePath is used by the file backend.
	FilePath string

	// RedisAddr is either "host:port" or a redis:// URL.
	RedisAddr      string
	RedisKeyPrefix string
	// RedisAttempts bounds the Ping retries of Initialize. Zero means 30.
	RedisAttempts int
	// RedisMaxBackoff caps the wait between attempts. Zero means 30s.
	RedisMaxBackoff time.Duration
}

// New builds the store named by cfg.Backend and initializes it.
func New(ctx context.Context, cfg Config) (ICartStore, error) {
	var store ICartStore
	switch cfg.Backend {
	case BackendMemory, "":
		store = NewLocalCartStore()
	case BackendFile:
		if cfg.FilePath == "" {
			return nil, errors.New("cartstore: file backend requires a path")
		}
		store = NewFileCartStore(cfg.FilePath)
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("cartstore: redis backend requires an address")
		}
		opts := []RedisOption{}
		if cfg.RedisKeyPrefix != "" {
			opts = append(opts, WithKeyPrefix(cfg.RedisKeyPrefix))
		}
		if cfg.RedisAttempts > 0 {
			opts = append(opts, WithRetry(cfg.RedisAttempts, cfg.RedisMaxBackoff))
		}
		store = NewRedisCartStore(cfg.RedisAddr, opts...)
	default:
		return nil, errors.Errorf("cartstore: unknown backend %q", cfg.Backend)
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrapf(err, "cartstore: initialize %s backend", cfg.Backend)
	}
	return store, nil
}
