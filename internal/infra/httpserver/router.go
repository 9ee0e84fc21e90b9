package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/middleware"
)

// Runner executes one run to completion; pipeline.Service satisfies it.
type Runner interface {
	RunUntilDone(id domain.RunID) (pipeline.Outcome, error)
}

// Options carries everything the operator API needs.
type Options struct {
	Runs        domain.RunRepository
	Findings    domain.FindingRepository
	Runner      Runner
	Checkers    map[string]middleware.HealthChecker
	APIKeys     map[string]string
	Limiter     *middleware.RateLimiter
	CORSOrigins []string
	Log         *zap.Logger
}

type Router struct {
	runs     domain.RunRepository
	findings domain.FindingRepository
	runner   Runner
	log      *zap.Logger
}

func NewRouter(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{runs: opts.Runs, findings: opts.Findings, runner: opts.Runner, log: log.Named("http")}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "Authorization"},
		MaxAge:         300,
	}))
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.Limiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.Limiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/runs/{id}", func(rt chi.Router) {
		rt.Get("/", r.wrap(r.handleGet))
		rt.Get("/findings", r.wrap(r.handleFindings))
		rt.Post("/start", r.wrap(r.handleStart))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks input errors so wrap answers 400 instead of 500.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequest
			switch {
			case errors.As(err, &br):
				http.Error(w, br.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrRunNotFound):
				http.Error(w, "run not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrRunTerminal):
				http.Error(w, "run already finished", http.StatusConflict)
			case errors.Is(err, domain.ErrRunLocked):
				http.Error(w, "run is being processed", http.StatusConflict)
			case errors.Is(err, domain.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			default:
				r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}
	}
}

func runID(req *http.Request) (domain.RunID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return "", badRequest{err}
	}
	return domain.RunID(id), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// GET /v1/runs/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := runID(req)
	if err != nil {
		return err
	}
	run, err := r.runs.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

type findingsPage struct {
	RunID    domain.RunID     `json:"run_id"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	Findings []domain.Finding `json:"findings"`
}

// GET /v1/runs/{id}/findings?status=&limit=&offset=
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	id, err := runID(req)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	status, err := middleware.ValidateStatusFilter(q.Get("status"))
	if err != nil {
		return badRequest{err}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	limit = middleware.ValidateLimit(limit)
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	// 404 for unknown runs rather than an empty list
	run, err := r.runs.Get(req.Context(), id)
	if err != nil {
		return err
	}
	var all []domain.Finding
	// a FAILED run may keep rows saved just before its completion write failed;
	// they are not a report
	if run.Status != domain.RunFailed {
		all, err = r.findings.ListByRun(req.Context(), id)
		if err != nil {
			return err
		}
	}

	filtered := make([]domain.Finding, 0, len(all))
	for _, f := range all {
		if status == "" || f.Status == status {
			filtered = append(filtered, f)
		}
	}
	page := findingsPage{RunID: id, Total: len(filtered), Limit: limit, Offset: offset, Findings: []domain.Finding{}}
	if offset < len(filtered) {
		end := offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page.Findings = filtered[offset:end]
	}
	return writeJSON(w, http.StatusOK, page)
}

// POST /v1/runs/{id}/start
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	id, err := runID(req)
	if err != nil {
		return err
	}
	run, err := r.runs.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return domain.ErrRunTerminal
	}

	middleware.RunStarted()
	// jalan di background sampai selesai
	go func() {
		out, err := r.runner.RunUntilDone(id)
		if err != nil && out.Status != domain.RunFailed {
			middleware.RunAbandoned()
		}
		if err != nil {
			r.log.Warn("background run failed",
				zap.String("run_id", string(id)),
				zap.String("failed_stage", out.FailedStage),
				zap.Error(err))
			return
		}
		r.log.Info("background run finished",
			zap.String("run_id", string(id)),
			zap.String("status", string(out.Status)))
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"run_id":    id,
		"message":   "run started in background",
		"queued_at": time.Now().UTC(),
	})
}
