package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Validation is the cross-validator's output.
type Validation struct {
	Results   []domain.Result
	Aggregate domain.Aggregate
}

// Validator resolves cross-page disagreement and scores the run.
type Validator struct {
	Log *zap.Logger
}

// Validate deduplicates to one result per requirement and writes the aggregate once.
func (v *Validator) Validate(ctx context.Context, t *Tracker, results []domain.Result) (Validation, error) {
	log := logger(v.Log).With(zap.String("run_id", string(t.RunID())))

	if err := t.Enter(ctx, domain.RunValidating, fmt.Sprintf("Cross-validating %d results", len(results))); err != nil {
		return Validation{}, err
	}
	deduped, agg := domain.CrossValidate(results)
	for _, c := range agg.Conflicts {
		log.Info("pages disagree on requirement",
			zap.String("requirement_id", c.RequirementID),
			zap.String("code_ref", c.CodeRef),
			zap.Any("pages", c.Pages))
	}
	if err := t.Finalize(ctx, agg); err != nil {
		return Validation{}, err
	}
	log.Info("run scored",
		zap.Float64("score", agg.Score),
		zap.String("overall", string(agg.Overall)),
		zap.Int("requirements", len(deduped)),
		zap.Int("conflicts", len(agg.Conflicts)))
	return Validation{Results: deduped, Aggregate: agg}, nil
}
