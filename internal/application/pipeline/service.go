package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Stage names recorded on failed runs.
const (
	StageStart     = "start"
	StageNormalize = "normalize"
	StageClassify  = "classify"
	StageAnalyze   = "analyze"
	StageValidate  = "validate"
	StageFinalize  = "finalize"
)

// Outcome summarizes a finished run for notifiers.
type Outcome struct {
	RunID       domain.RunID          `json:"run_id"`
	Status      domain.RunStatus      `json:"status"`
	Score       *float64              `json:"compliance_score,omitempty"`
	Overall     *domain.OverallStatus `json:"overall_status,omitempty"`
	TotalChecks int                   `json:"total_checks"`
	Findings    int                   `json:"findings"`
	FailedStage string                `json:"failed_stage,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Notifier is told about every run that reached a terminal state.
type Notifier interface {
	RunFinished(ctx context.Context, o Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, o Outcome)

// RunFinished implements Notifier.
func (f NotifierFunc) RunFinished(ctx context.Context, o Outcome) { f(ctx, o) }

// Service drives one run through the five stages in order.
// Service is safe for concurrent use across different runs.
type Service struct {
	Runs       domain.RunRepository
	Locker     domain.Locker
	Clock      application.Clock
	Log        *zap.Logger
	Normalizer *Normalizer
	Classifier *Classifier
	Analyzer   *Analyzer
	Validator  *Validator
	Finalizer  *Finalizer
	Notifiers  []Notifier
}

// RunUntilDone runs with context.Background() so a caller's request context cannot
// abandon a run halfway.
func (s *Service) RunUntilDone(id domain.RunID) (Outcome, error) {
	return s.Run(context.Background(), id)
}

// Run executes the pipeline. Any stage error marks the run FAILED with the stage name
// and is returned wrapped. There is no retry.
func (s *Service) Run(ctx context.Context, id domain.RunID) (Outcome, error) {
	log := logger(s.Log).With(zap.String("run_id", string(id)))

	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		return Outcome{RunID: id}, eris.Wrapf(err, "load run %s", id)
	}
	if run.Status.Terminal() {
		return Outcome{RunID: id, Status: run.Status}, domain.ErrRunTerminal
	}

	release, err := s.locker().Acquire(ctx, id)
	if err != nil {
		return Outcome{RunID: id, Status: run.Status}, err
	}
	defer release()

	t := NewTracker(s.Runs, s.Clock, log, id)
	if err := s.Runs.MarkStarted(ctx, id, s.Clock.Now()); err != nil {
		return s.fail(ctx, t, StageStart, err)
	}
	log.Info("run started", zap.String("document_type", string(run.DocumentType)), zap.Strings("codes", run.CodeIDs))

	pages, err := s.Normalizer.Normalize(ctx, t, run)
	if err != nil {
		return s.fail(ctx, t, StageNormalize, err)
	}
	classified, err := s.Classifier.Classify(ctx, t, pages)
	if err != nil {
		return s.fail(ctx, t, StageClassify, err)
	}
	matrix, err := s.Analyzer.Analyze(ctx, t, classified, run.CodeIDs)
	if err != nil {
		return s.fail(ctx, t, StageAnalyze, err)
	}
	validation, err := s.Validator.Validate(ctx, t, matrix.Results)
	if err != nil {
		return s.fail(ctx, t, StageValidate, err)
	}
	findings, err := s.Finalizer.Finalize(ctx, t, validation.Results)
	if err != nil {
		return s.fail(ctx, t, StageFinalize, err)
	}

	score := validation.Aggregate.Score
	overall := validation.Aggregate.Overall
	out := Outcome{
		RunID:       id,
		Status:      domain.RunCompleted,
		Score:       &score,
		Overall:     &overall,
		TotalChecks: matrix.Attempted,
		Findings:    len(findings),
	}
	s.notify(ctx, out)
	return out, nil
}

func (s *Service) fail(ctx context.Context, t *Tracker, stage string, cause error) (Outcome, error) {
	log := logger(s.Log).With(zap.String("run_id", string(t.RunID())), zap.String("stage", stage))
	log.Error("run failed", zap.Error(cause))

	// The failure write must land even if ctx is what broke the stage.
	writeCtx := ctx
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		writeCtx = context.WithoutCancel(ctx)
	}
	if err := t.Fail(writeCtx, stage, cause); err != nil {
		log.Error("could not record run failure", zap.Error(err))
	}
	out := Outcome{
		RunID:       t.RunID(),
		Status:      domain.RunFailed,
		TotalChecks: t.TotalChecks(),
		FailedStage: stage,
		Error:       cause.Error(),
	}
	s.notify(writeCtx, out)
	return out, eris.Wrapf(cause, "stage %s", stage)
}

func (s *Service) notify(ctx context.Context, o Outcome) {
	for _, n := range s.Notifiers {
		n.RunFinished(ctx, o)
	}
}

func (s *Service) locker() domain.Locker {
	if s.Locker == nil {
		return NopLocker{}
	}
	return s.Locker
}

// NopLocker grants every lock; suitable for a single worker process.
type NopLocker struct{}

// Acquire implements domain.Locker.
func (NopLocker) Acquire(context.Context, domain.RunID) (func(), error) { return func() {}, nil }
