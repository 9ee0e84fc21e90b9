package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

func echoClient() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetClientFromContext(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"portal": "secret-1"})(echoClient())

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"bearer", "/v1/runs/x", "Bearer secret-1", http.StatusOK, "portal"},
		{"bare key", "/v1/runs/x", "secret-1", http.StatusOK, "portal"},
		{"missing", "/v1/runs/x", "", http.StatusUnauthorized, ""},
		{"wrong", "/v1/runs/x", "Bearer nope", http.StatusUnauthorized, ""},
		{"health is public", "/health", "", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.status == http.StatusOK && rec.Body.String() != tc.body {
				t.Fatalf("client = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}

func TestAPIKeyAuthKeepsRawKeyOutOfContext(t *testing.T) {
	var leaked any
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaked = r.Context().Value(contextKey("api_key"))
		w.Write([]byte(GetClientFromContext(r.Context())))
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	rec := httptest.NewRecorder()
	APIKeyAuth(map[string]string{"portal": "secret-1"})(next).ServeHTTP(rec, req)
	if rec.Body.String() != "portal" {
		t.Fatalf("client = %q", rec.Body.String())
	}
	if leaked != nil {
		t.Fatalf("raw key in request context: %v", leaked)
	}
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(echoClient()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(2, 0)
	defer limiter.Close()
	h := RateLimitMiddleware(limiter)(echoClient())

	codes := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other caller limited: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health limited: %d", rec.Code)
	}
}

func TestValidateRunID(t *testing.T) {
	for _, ok := range []string{"run-1", "0b5c9f3e-8f0e-4b69-9d0e-3d7e8f0a1b2c", "A_b"} {
		if err := ValidateRunID(ok); err != nil {
			t.Fatalf("ValidateRunID(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "a b", string(make([]byte, 65))} {
		if err := ValidateRunID(bad); err == nil {
			t.Fatalf("ValidateRunID(%q) accepted", bad)
		}
	}
}

func TestValidateStatusFilter(t *testing.T) {
	if s, err := ValidateStatusFilter(" critical "); err != nil || s != domain.StatusCritical {
		t.Fatalf("got %q, %v", s, err)
	}
	if s, err := ValidateStatusFilter(""); err != nil || s != "" {
		t.Fatalf("got %q, %v", s, err)
	}
	if _, err := ValidateStatusFilter("fine"); err == nil {
		t.Fatalf("expected error")
	}
	if ValidateLimit(0) != 50 || ValidateLimit(10_000) != 500 || ValidateLimit(7) != 7 {
		t.Fatalf("ValidateLimit bounds")
	}
}

func TestHealthHandler(t *testing.T) {
	checkers := map[string]HealthChecker{
		"database": PingChecker(func(context.Context) error { return nil }),
		"storage":  PingChecker(func(context.Context) error { return errors.New("bucket missing") }),
	}
	rec := httptest.NewRecorder()
	HealthHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["database"].Status != "healthy" || body.Checks["storage"].Message != "bucket missing" {
		t.Fatalf("checks = %+v", body.Checks)
	}
}

func TestRunNotifierSettlesGauges(t *testing.T) {
	before := atomic.LoadUint64(&globalMetrics.RunsCompleted)
	RunStarted()
	RunNotifier().RunFinished(context.Background(), pipeline.Outcome{Status: domain.RunCompleted, TotalChecks: 12})
	if got := atomic.LoadUint64(&globalMetrics.RunsCompleted); got != before+1 {
		t.Fatalf("completed = %d", got)
	}
	// a swept run never started here must not underflow the gauge
	RunNotifier().RunFinished(context.Background(), pipeline.Outcome{Status: domain.RunFailed})
	RunNotifier().RunFinished(context.Background(), pipeline.Outcome{Status: domain.RunFailed})
	if got := atomic.LoadUint64(&globalMetrics.RunsRunning); got > 1<<32 {
		t.Fatalf("running gauge underflowed: %d", got)
	}
}

func TestLoggingPassesStatus(t *testing.T) {
	h := Logging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitStartCost(t *testing.T) {
	limiter := NewRateLimiter(12, 0)
	defer limiter.Close()
	h := RateLimitMiddleware(limiter)(echoClient())

	send := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/v1/runs/x/start", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(http.MethodPost); rec.Code != http.StatusOK {
		t.Fatalf("first start = %d", rec.Code)
	}
	rec := send(http.MethodPost)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second start = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	// the two tokens left still cover reads
	if rec := send(http.MethodGet); rec.Code != http.StatusOK {
		t.Fatalf("read after start = %d", rec.Code)
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 2)
	if ok, _ := tb.Take(1); !ok {
		t.Fatalf("first take refused")
	}
	ok, wait := tb.Take(1)
	if ok {
		t.Fatalf("empty bucket granted")
	}
	if wait <= 0 || wait > 500*time.Millisecond {
		t.Fatalf("wait = %s", wait)
	}
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	defer limiter.Close()
	limiter.Allow("a")
	limiter.evictIdle(time.Now().Add(time.Hour))
	if n := len(limiter.buckets); n != 0 {
		t.Fatalf("buckets left = %d", n)
	}
}

func TestReadinessHandler(t *testing.T) {
	down := map[string]HealthChecker{
		"database": PingChecker(func(context.Context) error { return errors.New("refused") }),
	}
	rec := httptest.NewRecorder()
	ReadinessHandler(down)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ReadinessHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status without checkers = %d", rec.Code)
	}
}
