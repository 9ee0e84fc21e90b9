package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Tracker is the only handle stages use to mutate a run. It keeps persistence out of
// the stage algorithms and enforces the progress invariants.
type Tracker struct {
	repo  domain.RunRepository
	clock application.Clock
	log   *zap.Logger

	runID  domain.RunID
	status domain.RunStatus

	mu          sync.Mutex
	totalChecks int
	finalized   bool
}

// NewTracker binds a tracker to one run.
func NewTracker(repo domain.RunRepository, clock application.Clock, log *zap.Logger, runID domain.RunID) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		repo:   repo,
		clock:  clock,
		log:    log.With(zap.String("run_id", string(runID))),
		runID:  runID,
		status: domain.RunPending,
	}
}

// RunID of the tracked run
func (t *Tracker) RunID() domain.RunID { return t.runID }

// Enter moves the run into a new lifecycle status with its opening stage text.
func (t *Tracker) Enter(ctx context.Context, status domain.RunStatus, stage string) error {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
	return t.write(ctx, status, stage)
}

// SetStage updates the human-readable progress text without changing status.
func (t *Tracker) SetStage(ctx context.Context, stage string) error {
	t.mu.Lock()
	status := t.status
	t.mu.Unlock()
	return t.write(ctx, status, stage)
}

func (t *Tracker) write(ctx context.Context, status domain.RunStatus, stage string) error {
	if err := t.repo.UpdateStage(ctx, t.runID, status, stage); err != nil {
		return eris.Wrapf(err, "update stage of run %s", t.runID)
	}
	t.log.Debug("stage", zap.String("status", string(status)), zap.String("stage", stage))
	return nil
}

// SetTotalChecks records cumulative completed checks. Lower values than already
// written are ignored so the polled counter never goes backwards.
func (t *Tracker) SetTotalChecks(ctx context.Context, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= t.totalChecks {
		return nil
	}
	if err := t.repo.UpdateTotalChecks(ctx, t.runID, n); err != nil {
		return eris.Wrapf(err, "update total checks of run %s", t.runID)
	}
	t.totalChecks = n
	return nil
}

// TotalChecks is the last value written.
func (t *Tracker) TotalChecks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalChecks
}

// Finalize writes score, verdict, counts and conflicts in one call. It may succeed only once.
func (t *Tracker) Finalize(ctx context.Context, agg domain.Aggregate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return eris.Errorf("run %s aggregate already written", t.runID)
	}
	if err := t.repo.SaveAggregate(ctx, t.runID, agg); err != nil {
		return eris.Wrapf(err, "save aggregate of run %s", t.runID)
	}
	t.finalized = true
	return nil
}

// Complete marks the run COMPLETED. Nothing may be written afterwards.
func (t *Tracker) Complete(ctx context.Context, stage string) error {
	if err := t.repo.MarkCompleted(ctx, t.runID, t.clock.Now(), stage); err != nil {
		return eris.Wrapf(err, "complete run %s", t.runID)
	}
	t.mu.Lock()
	t.status = domain.RunCompleted
	t.mu.Unlock()
	return nil
}

// Fail marks the run FAILED, recording the stage that raised.
func (t *Tracker) Fail(ctx context.Context, failedStage string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := t.repo.MarkFailed(ctx, t.runID, t.clock.Now(), failedStage, msg); err != nil {
		return eris.Wrapf(err, "mark run %s failed", t.runID)
	}
	t.mu.Lock()
	t.status = domain.RunFailed
	t.mu.Unlock()
	return nil
}
