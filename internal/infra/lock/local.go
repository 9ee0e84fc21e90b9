package lock

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// LocalLocker guards runs within one process, for deployments without redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[domain.RunID]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[domain.RunID]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, id domain.RunID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, eris.Wrapf(domain.ErrRunLocked, "run %s", id)
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}
