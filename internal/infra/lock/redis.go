package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// DefaultTTL bounds how long a crashed worker can hold a run.
const DefaultTTL = 2 * time.Minute

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker grants exclusive ownership of a run across worker processes.
// Held locks are extended in the background until released.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "plancheck:run-lock:"
	}
	if log == nil {
		log = zap.L()
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, log: log.Named("lock")}
}

// Key of the lock for a run
func (l *RedisLocker) Key(id domain.RunID) string { return l.prefix + string(id) }

func (l *RedisLocker) Acquire(ctx context.Context, id domain.RunID) (func(), error) {
	key := l.Key(id)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		return nil, eris.Wrapf(domain.ErrRunLocked, "run %s", id)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	release := func() {
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn("extend lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				l.log.Error("lock lost", zap.String("key", key))
				return
			}
		}
	}
}
