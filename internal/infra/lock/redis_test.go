package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisLockerExclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	l := NewRedisLocker(c, "test:lock:", 300*time.Millisecond, zap.NewNop())
	id := domain.RunID("run-" + time.Now().Format("150405.000000000"))

	release, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// outlive the ttl to exercise the keep-alive
	time.Sleep(500 * time.Millisecond)
	if _, err := l.Acquire(ctx, id); !errors.Is(err, domain.ErrRunLocked) {
		t.Fatalf("second Acquire error = %v", err)
	}
	release()

	release2, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release2()
	if n, _ := c.Exists(ctx, l.Key(id)).Result(); n != 0 {
		t.Fatalf("lock key left behind")
	}
}

func TestNewRedisLockerDefaults(t *testing.T) {
	l := NewRedisLocker(nil, "", 0, nil)
	if l.ttl != DefaultTTL {
		t.Fatalf("ttl = %v", l.ttl)
	}
	if got := l.Key("abc"); got != "plancheck:run-lock:abc" {
		t.Fatalf("Key = %q", got)
	}
}
