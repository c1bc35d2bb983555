package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreamimg/backend/internal/config"
)

// ErrHandleNotFound is returned for an unknown or expired job handle.
var ErrHandleNotFound = errors.New("job handle not found")

// AnonymousOwner marks handles created without an account.
const AnonymousOwner = "anon"

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

func (l *RateLimiter) windowKey(key string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Allow counts one request for key and reports whether it is within the limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	k := l.windowKey(key)
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// HandleStore remembers which account owns a deferred job.
type HandleStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewHandleStore(rdb redis.Cmdable, ttl time.Duration) *HandleStore {
	return &HandleStore{rdb: rdb, ttl: ttl}
}

func handleKey(provider, jobID string) string {
	return "gen:handle:" + provider + ":" + jobID
}

// Put records owner for the job. An empty owner is stored as AnonymousOwner.
func (s *HandleStore) Put(ctx context.Context, provider, jobID, owner string) error {
	if owner == "" {
		owner = AnonymousOwner
	}
	return s.rdb.Set(ctx, handleKey(provider, jobID), owner, s.ttl).Err()
}

// Owner returns the stored owner of the job.
func (s *HandleStore) Owner(ctx context.Context, provider, jobID string) (string, error) {
	owner, err := s.rdb.Get(ctx, handleKey(provider, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrHandleNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}
