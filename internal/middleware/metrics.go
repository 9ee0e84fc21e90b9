package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	RunsStarted        uint64
	RunsRunning        uint64
	RunsCompleted      uint64
	RunsFailed         uint64
	ChecksTotal        uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// RunStarted counts a run handed to the pipeline.
func RunStarted() {
	atomic.AddUint64(&globalMetrics.RunsStarted, 1)
	atomic.AddUint64(&globalMetrics.RunsRunning, 1)
}

// RunNotifier settles the run gauges when a run ends. Swept runs may never have
// started in this process, so the running gauge stops at zero.
func RunNotifier() pipeline.Notifier {
	return pipeline.NotifierFunc(func(_ context.Context, o pipeline.Outcome) {
		switch o.Status {
		case domain.RunCompleted:
			atomic.AddUint64(&globalMetrics.RunsCompleted, 1)
		case domain.RunFailed:
			atomic.AddUint64(&globalMetrics.RunsFailed, 1)
		}
		atomic.AddUint64(&globalMetrics.ChecksTotal, uint64(o.TotalChecks))
		RunAbandoned()
	})
}

// RunAbandoned releases the running gauge for a run that returned before reaching a
// terminal state (locked elsewhere, already finished, not found).
func RunAbandoned() {
	for {
		cur := atomic.LoadUint64(&globalMetrics.RunsRunning)
		if cur == 0 || atomic.CompareAndSwapUint64(&globalMetrics.RunsRunning, cur, cur-1) {
			return
		}
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"runs_started":         atomic.LoadUint64(&globalMetrics.RunsStarted),
		"runs_running":         atomic.LoadUint64(&globalMetrics.RunsRunning),
		"runs_completed":       atomic.LoadUint64(&globalMetrics.RunsCompleted),
		"runs_failed":          atomic.LoadUint64(&globalMetrics.RunsFailed),
		"checks_total":         atomic.LoadUint64(&globalMetrics.ChecksTotal),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
