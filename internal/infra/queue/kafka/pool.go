package kafka

import (
	"context"
	"sync"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// RunPool executes run requests on at most size goroutines outside the consumer
// session. ConsumeClaim only waits for a free slot, so a rebalance or shutdown
// ends the session promptly while handed-off runs still reach a terminal state.
type RunPool struct {
	slots chan struct{}
	wg    sync.WaitGroup
	run   func(ctx context.Context, id domain.RunID) error
	log   *zap.Logger
}

func NewRunPool(size int, run func(ctx context.Context, id domain.RunID) error, log *zap.Logger) *RunPool {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.L()
	}
	return &RunPool{slots: make(chan struct{}, size), run: run, log: log.Named("runs")}
}

// Submit waits for a free slot and starts id in the background. If ctx ends
// first the run is not started and ctx.Err() is returned.
func (p *RunPool) Submit(ctx context.Context, id domain.RunID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		// a started run outlives the session
		if err := p.run(context.Background(), id); err != nil {
			p.log.Warn("run failed", zap.String("run_id", string(id)), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every started run has returned.
func (p *RunPool) Wait() {
	p.wg.Wait()
}
