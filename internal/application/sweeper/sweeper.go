package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Stage is recorded as failed_stage on swept runs.
const Stage = "sweeper"

const (
	DefaultStaleAfter = 30 * time.Minute
	DefaultBatchSize  = 100
	DefaultSchedule   = "@every 5m"
)

// Sweeper fails runs whose worker stopped writing progress, so they do not stay
// in a non-terminal state forever.
type Sweeper struct {
	Runs       domain.RunRepository
	Locker     domain.Locker
	Clock      application.Clock
	Log        *zap.Logger
	StaleAfter time.Duration
	BatchSize  int
	Notifiers  []pipeline.Notifier

	mu   sync.Mutex
	cron *cron.Cron
}

// Sweep runs one pass and returns how many runs were failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	log := s.logger()
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	now := s.Clock.Now()
	runs, err := s.Runs.ListStale(ctx, now.Add(-staleAfter), batch)
	if err != nil {
		return 0, eris.Wrap(err, "list stale runs")
	}

	swept := 0
	for _, run := range runs {
		ok, err := s.sweepOne(ctx, run, now)
		if err != nil {
			log.Warn("could not sweep run", zap.String("run_id", string(run.ID)), zap.Error(err))
			continue
		}
		if ok {
			swept++
		}
	}
	if swept > 0 {
		log.Info("stale runs failed", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, run *domain.Run, now time.Time) (bool, error) {
	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, run.ID)
		if errors.Is(err, domain.ErrRunLocked) {
			// a live worker still owns it
			return false, nil
		}
		if err != nil {
			return false, err
		}
		defer release()
	}

	msg := fmt.Sprintf("no progress since %s during %s", run.UpdatedAt.UTC().Format(time.RFC3339), run.Status)
	err := s.Runs.MarkFailed(ctx, run.ID, now, Stage, msg)
	if errors.Is(err, domain.ErrRunTerminal) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	out := pipeline.Outcome{
		RunID:       run.ID,
		Status:      domain.RunFailed,
		TotalChecks: run.TotalChecks,
		FailedStage: Stage,
		Error:       msg,
	}
	for _, n := range s.Notifiers {
		n.RunFinished(ctx, out)
	}
	return true, nil
}

// Start schedules Sweep with a cron spec such as "@every 5m".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return eris.New("sweeper already started")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger().Error("sweep failed", zap.Error(err))
		}
	}); err != nil {
		return eris.Wrapf(err, "failed to add cron job %q", schedule)
	}
	c.Start()
	s.cron = c
	s.logger().Info("sweeper scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) logger() *zap.Logger {
	if s.Log == nil {
		return zap.L().Named("sweeper")
	}
	return s.Log
}
