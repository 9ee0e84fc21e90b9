package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/prompt"
)

// DefaultConcurrency caps in-flight model calls during matrix evaluation.
const DefaultConcurrency = 10

// ManualReview is the recommendation attached to pairs whose evaluation failed.
const ManualReview = "Manual review required"

// MatrixOutcome is the analyzer's output.
type MatrixOutcome struct {
	Results   []domain.Result
	Attempted int
}

// Analyzer builds the requirement × page matrix and evaluates every pair.
type Analyzer struct {
	Requirements domain.RequirementRepository
	Store        domain.ObjectStore
	Model        domain.VisionModel
	Log          *zap.Logger
	// Concurrency lowers the in-flight cap when positive. It never raises it
	// above DefaultConcurrency.
	Concurrency int

	once sync.Once
	inst *instruments
}

func (a *Analyzer) limit() int {
	if a.Concurrency > 0 && a.Concurrency < DefaultConcurrency {
		return a.Concurrency
	}
	return DefaultConcurrency
}

// Analyze evaluates all applicable pairs. Per-pair failures become NOT_ASSESSED results;
// only requirement loading and tracker writes can fail the stage.
func (a *Analyzer) Analyze(ctx context.Context, t *Tracker, pages []domain.ClassifiedPage, codeIDs []string) (MatrixOutcome, error) {
	a.once.Do(func() { a.inst = newInstruments() })
	log := logger(a.Log).With(zap.String("run_id", string(t.RunID())))

	if err := t.Enter(ctx, domain.RunAnalyzing, "Loading code requirements"); err != nil {
		return MatrixOutcome{}, err
	}
	reqs, err := a.Requirements.ListPublished(ctx, codeIDs)
	if err != nil {
		return MatrixOutcome{}, eris.Wrap(err, "load published requirements")
	}
	pairs := domain.BuildMatrix(reqs, pages)
	log.Info("matrix built", zap.Int("requirements", len(reqs)), zap.Int("pages", len(pages)), zap.Int("pairs", len(pairs)))
	if len(pairs) == 0 {
		if err := t.SetStage(ctx, "No applicable requirements for this drawing set"); err != nil {
			return MatrixOutcome{}, err
		}
		return MatrixOutcome{}, nil
	}

	total := len(pairs)
	if err := t.SetStage(ctx, fmt.Sprintf("Evaluating %d checks (%d requirements × %d pages)", total, len(reqs), len(pages))); err != nil {
		return MatrixOutcome{}, err
	}

	results := make([]domain.Result, total)
	flushEvery := a.limit()

	// completed and the tracker write share one lock so every write carries a
	// strictly larger count than the previous one.
	var mu sync.Mutex
	completed := 0
	var writeErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit())
	for i, pair := range pairs {
		g.Go(func() error {
			results[i] = a.evaluate(gctx, pair, log)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if completed%flushEvery == 0 || completed == total {
				if err := t.SetTotalChecks(ctx, completed); err != nil && writeErr == nil {
					writeErr = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if writeErr != nil {
		return MatrixOutcome{}, writeErr
	}
	return MatrixOutcome{Results: results, Attempted: completed}, nil
}

func (a *Analyzer) evaluate(ctx context.Context, pair domain.MatrixPair, log *zap.Logger) domain.Result {
	req, page := pair.Requirement, pair.Page
	add(ctx, a.inst.pairs, req.Category)

	res, err := a.evaluateOne(ctx, req, page)
	if err != nil {
		add(ctx, a.inst.pairFailures, req.Category)
		log.Warn("pair evaluation failed",
			zap.String("requirement_id", req.ID), zap.Int("page", page.PageNumber), zap.Error(err))
		return FailedResult(req, page.PageNumber, err)
	}
	return res
}

func (a *Analyzer) evaluateOne(ctx context.Context, req domain.Requirement, page domain.ClassifiedPage) (domain.Result, error) {
	img, err := a.Store.Fetch(ctx, page.ImageKey)
	if err != nil {
		return domain.Result{}, eris.Wrapf(err, "fetch %s", page.ImageKey)
	}
	reply, err := a.Model.Generate(ctx, prompt.EvaluateRequirement(req, page), img)
	if err != nil {
		return domain.Result{}, err
	}
	return ParseEvaluation(req, page.PageNumber, reply)
}

// ParseEvaluation converts a model reply into a result, coercing enums and filling defaults.
func ParseEvaluation(req domain.Requirement, pageNumber int, reply string) (domain.Result, error) {
	var r prompt.EvaluationReply
	if err := prompt.Decode(reply, &r); err != nil {
		return domain.Result{}, eris.Wrap(err, "malformed evaluation reply")
	}
	raw, _ := prompt.ExtractObject(reply)

	res := domain.Result{
		RequirementID:  req.ID,
		CodeRef:        req.CodeRef,
		Category:       req.Category,
		PageNumber:     pageNumber,
		Status:         domain.ParseStatus(r.Status.String()),
		Confidence:     domain.ParseConfidence(r.Confidence.String()),
		RequiredValue:  r.RequiredValue.String(),
		ProposedValue:  r.ProposedValue.String(),
		Location:       r.Location.String(),
		Notes:          r.Reasoning.String(),
		Recommendation: r.Recommendation.String(),
		Raw:            []byte(raw),
	}
	if res.RequiredValue == "" {
		res.RequiredValue = prompt.CompactThresholds(req.Thresholds)
	}
	// Recommendations only carry meaning for non-compliant findings.
	if res.Status == domain.StatusCompliant || res.Status == domain.StatusNotAssessed {
		res.Recommendation = ""
	}
	return res, nil
}

// FailedResult is the conservative stand-in for a pair whose evaluation raised.
func FailedResult(req domain.Requirement, pageNumber int, cause error) domain.Result {
	return domain.Result{
		RequirementID:  req.ID,
		CodeRef:        req.CodeRef,
		Category:       req.Category,
		PageNumber:     pageNumber,
		Status:         domain.StatusNotAssessed,
		Confidence:     domain.ConfidenceLow,
		RequiredValue:  prompt.CompactThresholds(req.Thresholds),
		Notes:          fmt.Sprintf("Evaluation failed: %v", cause),
		Recommendation: ManualReview,
	}
}
