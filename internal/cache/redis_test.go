package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dreamimg/backend/internal/config"
)

// testRedis connects to REDIS_TEST_ADDR or skips.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb, err := NewClient(context.Background(), config.RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestHandleKey(t *testing.T) {
	if got := handleKey("horde", "abc-123"); got != "gen:handle:horde:abc-123" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRateLimiter_WindowKey(t *testing.T) {
	l := NewRateLimiter(nil, 5, time.Minute)
	l.now = func() time.Time { return time.Unix(120, 0) }
	a := l.windowKey("acct:1")
	l.now = func() time.Time { return time.Unix(179, 0) }
	b := l.windowKey("acct:1")
	l.now = func() time.Time { return time.Unix(180, 0) }
	c := l.windowKey("acct:1")
	if a != b {
		t.Errorf("same window produced different keys: %q %q", a, b)
	}
	if a == c {
		t.Errorf("next window reused key %q", a)
	}
}

func TestRateLimiter_DisabledAllowsAll(t *testing.T) {
	l := NewRateLimiter(nil, 0, time.Minute)
	ok, err := l.Allow(context.Background(), "k")
	if err != nil || !ok {
		t.Fatalf("expected allow, got %v %v", ok, err)
	}
}

func TestRateLimiter_Redis(t *testing.T) {
	rdb := testRedis(t)
	l := NewRateLimiter(rdb, 3, time.Minute)
	key := "test:" + uuid.NewString()

	for i := 1; i <= 4; i++ {
		ok, err := l.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if want := i <= 3; ok != want {
			t.Errorf("request %d: got allow=%v, want %v", i, ok, want)
		}
	}
}

func TestHandleStore_Redis(t *testing.T) {
	rdb := testRedis(t)
	s := NewHandleStore(rdb, time.Minute)
	job := uuid.NewString()

	if _, err := s.Owner(context.Background(), "horde", job); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("expected ErrHandleNotFound, got %v", err)
	}
	if err := s.Put(context.Background(), "horde", job, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	owner, err := s.Owner(context.Background(), "horde", job)
	if err != nil || owner != AnonymousOwner {
		t.Errorf("expected anon owner, got %q %v", owner, err)
	}
}
