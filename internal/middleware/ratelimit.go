package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// StartCost is what POST requests draw from a bucket. Starting a run fans out into
// many model calls, so it weighs more than a status read.
const StartCost = 10

// TokenBucket refills continuously at refillRate tokens per second.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	last       time.Time
	lastUsed   time.Time
}

func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		last:       now,
		lastUsed:   now,
	}
}

// Take removes cost tokens if available. When it refuses, wait is the time until
// enough tokens accumulate (zero if they never will).
func (tb *TokenBucket) Take(cost int) (ok bool, wait time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens = math.Min(tb.capacity, tb.tokens+now.Sub(tb.last).Seconds()*tb.refillRate)
	tb.last = now
	tb.lastUsed = now

	c := float64(cost)
	if c > tb.capacity {
		// an oversized request can still pass on a full bucket
		c = tb.capacity
	}
	if tb.tokens >= c {
		tb.tokens -= c
		return true, 0
	}
	if tb.refillRate <= 0 {
		return false, 0
	}
	return false, time.Duration((c - tb.tokens) / tb.refillRate * float64(time.Second))
}

// RateLimiter keeps one bucket per caller key.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate int
	idle       time.Duration
	stop       chan struct{}
	closeOnce  sync.Once
}

func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		idle:       10 * time.Minute,
		stop:       make(chan struct{}),
	}
	go rl.cleanup(5 * time.Minute)
	return rl
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = NewTokenBucket(rl.capacity, rl.refillRate)
		rl.buckets[key] = b
	}
	return b
}

// Allow charges one token to key.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.bucket(key).Take(1)
	return ok
}

// Take charges cost tokens to key.
func (rl *RateLimiter) Take(key string, cost int) (bool, time.Duration) {
	return rl.bucket(key).Take(cost)
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastUsed) > rl.idle
		b.mu.Unlock()
		if idle {
			delete(rl.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}

// RateLimitMiddleware rejects requests once the caller's bucket is empty. Callers are
// keyed by authenticated client and IP; POST requests cost StartCost.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := GetClientFromContext(r.Context()) + ":" + clientIP(r)
			cost := 1
			if r.Method == http.MethodPost {
				cost = StartCost
			}

			if ok, wait := limiter.Take(key, cost); !ok {
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 60
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
