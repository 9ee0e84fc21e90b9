package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/prompt"
)

// CompletedStage is the final progress text of a successful run.
const CompletedStage = "Analysis complete"

// Finalizer consolidates recommendations, orders findings and persists them.
type Finalizer struct {
	Findings domain.FindingRepository
	// Model serves the single text-only consolidation call.
	Model domain.VisionModel
	Clock application.Clock
	Log   *zap.Logger
}

// Finalize persists one finding per result and completes the run.
func (f *Finalizer) Finalize(ctx context.Context, t *Tracker, results []domain.Result) ([]domain.Finding, error) {
	log := logger(f.Log).With(zap.String("run_id", string(t.RunID())))

	if err := t.Enter(ctx, domain.RunFinalizing, "Generating coordinated recommendations"); err != nil {
		return nil, err
	}
	entries := make([]domain.Result, len(results))
	copy(entries, results)

	if issues := nonCompliant(entries); len(issues) > 0 {
		reply, err := f.consolidate(ctx, issues)
		if err != nil {
			log.Warn("recommendation consolidation failed, keeping per-check recommendations", zap.Error(err))
		} else {
			MergeRecommendations(entries, reply)
			if reply.Summary != "" {
				log.Info("consolidated summary", zap.String("summary", reply.Summary))
			}
		}
	}

	domain.SortForReport(entries)
	now := f.Clock.Now()
	findings := make([]domain.Finding, len(entries))
	for i, e := range entries {
		findings[i] = domain.Finding{
			ID:             uuid.New().String(),
			RunID:          t.RunID(),
			RequirementID:  e.RequirementID,
			CodeRef:        e.CodeRef,
			Category:       e.Category,
			PageNumber:     e.PageNumber,
			Status:         e.Status,
			Confidence:     e.Confidence,
			RequiredValue:  e.RequiredValue,
			ProposedValue:  e.ProposedValue,
			Location:       e.Location,
			Notes:          e.Notes,
			Recommendation: e.Recommendation,
			Raw:            e.Raw,
			SortOrder:      i,
			CreatedAt:      now,
		}
	}

	if err := t.SetStage(ctx, fmt.Sprintf("Saving %d findings", len(findings))); err != nil {
		return nil, err
	}
	if err := f.Findings.InsertBatch(ctx, t.RunID(), findings); err != nil {
		return nil, eris.Wrap(err, "persist findings")
	}
	if err := t.Complete(ctx, CompletedStage); err != nil {
		return nil, err
	}
	log.Info("run completed", zap.Int("findings", len(findings)))
	return findings, nil
}

func (f *Finalizer) consolidate(ctx context.Context, issues []domain.Result) (prompt.ConsolidationReply, error) {
	text, err := prompt.Consolidate(issues)
	if err != nil {
		return prompt.ConsolidationReply{}, err
	}
	reply, err := f.Model.Generate(ctx, text, nil)
	if err != nil {
		return prompt.ConsolidationReply{}, err
	}
	var r prompt.ConsolidationReply
	if err := prompt.Decode(reply, &r); err != nil {
		return prompt.ConsolidationReply{}, eris.Wrap(err, "malformed consolidation reply")
	}
	return r, nil
}

func nonCompliant(results []domain.Result) []domain.Result {
	var out []domain.Result
	for _, r := range results {
		if r.Status == domain.StatusCritical || r.Status == domain.StatusWarning {
			out = append(out, r)
		}
	}
	return out
}

// MergeRecommendations applies consolidated guidance onto matching non-compliant entries
// by code reference. Entries without a match keep their own recommendation.
func MergeRecommendations(entries []domain.Result, reply prompt.ConsolidationReply) {
	byRef := make(map[string]prompt.ConsolidatedRecommendation, len(reply.Recommendations))
	for _, r := range reply.Recommendations {
		ref := strings.TrimSpace(r.CodeRef)
		if ref == "" || strings.TrimSpace(r.Recommendation) == "" {
			continue
		}
		byRef[ref] = r
	}
	for i := range entries {
		e := &entries[i]
		if e.Status != domain.StatusCritical && e.Status != domain.StatusWarning {
			continue
		}
		rec, ok := byRef[strings.TrimSpace(e.CodeRef)]
		if !ok {
			continue
		}
		e.Recommendation = FormatRecommendation(rec)
	}
}

// FormatRecommendation appends the bracketed priority and related-code tags.
func FormatRecommendation(r prompt.ConsolidatedRecommendation) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Recommendation))
	fmt.Fprintf(&b, " [Priority: %s]", domain.ParsePriority(r.Priority))
	var related []string
	for _, c := range r.RelatedCodes {
		if c = strings.TrimSpace(c); c != "" && c != strings.TrimSpace(r.CodeRef) {
			related = append(related, c)
		}
	}
	if len(related) > 0 {
		fmt.Fprintf(&b, " [Coordinate with: %s]", strings.Join(related, ", "))
	}
	return b.String()
}
