// gostore-cart/cartstore/redis_cartstore.go

package cartstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	defaultKeyPrefix    = "gostore:"
	defaultAttempts     = 30
	defaultMaxBackoff   = 30 * time.Second
	defaultBackoffStart = time.Second
	clearScanCount      = 100
)

// RedisCartStore is a cart store backed by Redis.
// Keys are namespaced with a prefix so Clear only touches what this store wrote.
type RedisCartStore struct {
	client *redis.Client
	prefix string

	attempts     int
	backoffStart time.Duration
	maxBackoff   time.Duration
}

// RedisOption configures a RedisCartStore.
type RedisOption func(*RedisCartStore)

// WithKeyPrefix sets the namespace prepended to every key. Default: "gostore:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisCartStore) {
		r.prefix = prefix
	}
}

// WithRetry bounds the Ping attempts made by Initialize and the longest wait between them.
func WithRetry(attempts int, maxBackoff time.Duration) RedisOption {
	return func(r *RedisCartStore) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if maxBackoff > 0 {
			r.maxBackoff = maxBackoff
			if r.backoffStart > maxBackoff {
				r.backoffStart = maxBackoff
			}
		}
	}
}

// NewRedisCartStore accepts a Redis connection string ("hostname:port" or a redis:// URL)
// and returns a store instance. No connection is made until the first command.
func NewRedisCartStore(redisAddr string, opts ...RedisOption) *RedisCartStore {
	ropts, err := redis.ParseURL(redisAddr)
	if err != nil {
		// If not in "redis://..." format, use it as a simple Addr.
		ropts = &redis.Options{
			Addr:         redisAddr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  30 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}

	client := redis.NewClient(ropts)
	client.AddHook(redisotel.NewTracingHook())

	return newRedisCartStore(client, opts...)
}

func newRedisCartStore(client *redis.Client, opts ...RedisOption) *RedisCartStore {
	r := &RedisCartStore{
		client:       client,
		prefix:       defaultKeyPrefix,
		attempts:     defaultAttempts,
		backoffStart: defaultBackoffStart,
		maxBackoff:   defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize pings Redis until it answers, backing off exponentially between attempts.
func (r *RedisCartStore) Initialize(ctx context.Context) error {
	log.Info("RedisCartStore: initializing connection...")

	for i := 0; i < r.attempts; i++ {
		log.Debugf("RedisCartStore: attempting Ping (attempt %d/%d)...", i+1, r.attempts)
		if r.Ping(ctx) {
			log.Infof("RedisCartStore: Ping successful on attempt %d", i+1)
			return nil
		}
		if i == r.attempts-1 {
			break
		}

		backoff := r.backoffStart << uint(i)
		if backoff <= 0 || backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
		log.Warnf("RedisCartStore: waiting %v before next attempt", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return errors.Errorf("cartstore: failed to connect to Redis after %d attempts", r.attempts)
}

func (r *RedisCartStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, r.wrap("GET", key, err)
	}
	return val, true, nil
}

func (r *RedisCartStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return r.wrap("SET", key, err)
	}
	return nil
}

// Clear deletes every key under the store's prefix.
func (r *RedisCartStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", clearScanCount).Result()
		if err != nil {
			return r.wrap("SCAN", r.prefix+"*", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return r.wrap("DEL", r.prefix+"*", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks whether Redis is alive.
func (r *RedisCartStore) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Debug("RedisCartStore: Ping failed")
		return false
	}
	return true
}

func (r *RedisCartStore) Close() error {
	return r.client.Close()
}

func (r *RedisCartStore) wrap(op, key string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return errors.Wrapf(err, "cartstore: redis %s %s", op, key)
}
