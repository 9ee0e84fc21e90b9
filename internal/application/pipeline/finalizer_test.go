package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/prompt"
)

func finalizerInput() []domain.Result {
	return []domain.Result{
		{RequirementID: "R1", CodeRef: "IBC 1005.1", Category: "Structural", PageNumber: 2, Status: domain.StatusCompliant, Confidence: domain.ConfidenceHigh},
		{RequirementID: "R2", CodeRef: "IBC 1020.2", Category: "Fire Safety", PageNumber: 1, Status: domain.StatusWarning, Confidence: domain.ConfidenceMedium, Recommendation: "Check corridor rating"},
		{RequirementID: "R3", CodeRef: "IBC 1604.3", Category: "Structural", PageNumber: 4, Status: domain.StatusCritical, Confidence: domain.ConfidenceHigh, Recommendation: "Add beam"},
		{RequirementID: "R4", CodeRef: "IBC 1010.1", Category: "Egress", PageNumber: 3, Status: domain.StatusNotAssessed, Confidence: domain.ConfidenceLow, Recommendation: ManualReview},
	}
}

func TestFinalizeMergesAndPersists(t *testing.T) {
	var calls int
	model := modelFunc(func(_ context.Context, p string, img []byte) (string, error) {
		calls++
		if img != nil {
			t.Errorf("consolidation must be text only")
		}
		if strings.Contains(p, "IBC 1005.1") {
			t.Errorf("compliant result sent for consolidation")
		}
		return `{"recommendations":[
			{"code_ref":"IBC 1604.3","recommendation":"Upsize the transfer beam","priority":"high","related_codes":["IBC 1020.2","IBC 1604.3"]},
			{"code_ref":"IBC 1005.1","recommendation":"ignored","priority":"low"}
		],"summary":"Structural issues drive the corridor change."}`, nil
	})
	findings := &memFindings{}
	runs := newMemRuns()
	tr := NewTracker(runs, testClock, nil, "run-1")
	f := &Finalizer{Findings: findings, Model: model, Clock: testClock, Log: zap.NewNop()}

	got, err := f.Finalize(context.Background(), tr, finalizerInput())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if calls != 1 {
		t.Fatalf("consolidation called %d times", calls)
	}

	wantOrder := []string{"R3", "R2", "R4", "R1"}
	for i, fnd := range got {
		if fnd.RequirementID != wantOrder[i] {
			t.Fatalf("position %d = %s, want %s", i, fnd.RequirementID, wantOrder[i])
		}
		if fnd.SortOrder != i || fnd.RunID != "run-1" || fnd.ID == "" || !fnd.CreatedAt.Equal(testNow) {
			t.Fatalf("finding %d = %+v", i, fnd)
		}
	}
	if want := "Upsize the transfer beam [Priority: HIGH] [Coordinate with: IBC 1020.2]"; got[0].Recommendation != want {
		t.Fatalf("merged recommendation = %q", got[0].Recommendation)
	}
	if got[1].Recommendation != "Check corridor rating" {
		t.Fatalf("unmatched entry changed: %q", got[1].Recommendation)
	}
	if got[3].Recommendation != "" {
		t.Fatalf("compliant entry got recommendation %q", got[3].Recommendation)
	}

	if len(findings.batches) != 1 || len(findings.batches[0]) != 4 {
		t.Fatalf("batches = %v", findings.batches)
	}
	r := runs.runs["run-1"]
	if r.Status != domain.RunCompleted || r.CurrentStage != CompletedStage || r.CompletedAt == nil {
		t.Fatalf("run = %+v", r)
	}
}

func TestFinalizeConsolidationFallback(t *testing.T) {
	for name, model := range map[string]modelFunc{
		"error":     func(context.Context, string, []byte) (string, error) { return "", errors.New("quota") },
		"malformed": func(context.Context, string, []byte) (string, error) { return "sorry", nil },
	} {
		t.Run(name, func(t *testing.T) {
			findings := &memFindings{}
			tr := NewTracker(newMemRuns(), testClock, nil, "run-1")
			f := &Finalizer{Findings: findings, Model: model, Clock: testClock}
			got, err := f.Finalize(context.Background(), tr, finalizerInput())
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if got[0].Recommendation != "Add beam" || got[1].Recommendation != "Check corridor rating" {
				t.Fatalf("recommendations changed: %q, %q", got[0].Recommendation, got[1].Recommendation)
			}
			if len(findings.batches) != 1 {
				t.Fatalf("findings not persisted")
			}
		})
	}
}

func TestFinalizeSkipsConsolidationWhenAllCompliant(t *testing.T) {
	model := modelFunc(func(context.Context, string, []byte) (string, error) {
		t.Errorf("consolidation must be skipped")
		return "", nil
	})
	in := []domain.Result{
		{RequirementID: "R1", CodeRef: "IBC 1", Category: "Egress", Status: domain.StatusCompliant},
		{RequirementID: "R2", CodeRef: "IBC 2", Category: "Egress", Status: domain.StatusNotAssessed, Recommendation: ManualReview},
	}
	tr := NewTracker(newMemRuns(), testClock, nil, "run-1")
	f := &Finalizer{Findings: &memFindings{}, Model: model, Clock: testClock}
	got, err := f.Finalize(context.Background(), tr, in)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got[0].RequirementID != "R2" {
		t.Fatalf("NOT_ASSESSED must sort before COMPLIANT")
	}
}

func TestFinalizePersistFailure(t *testing.T) {
	runs := newMemRuns()
	tr := NewTracker(runs, testClock, nil, "run-1")
	f := &Finalizer{Findings: &memFindings{err: errors.New("constraint")}, Model: modelFunc(func(context.Context, string, []byte) (string, error) { return "{}", nil }), Clock: testClock}
	if _, err := f.Finalize(context.Background(), tr, finalizerInput()); err == nil {
		t.Fatalf("expected error")
	}
	if runs.runs["run-1"].Status == domain.RunCompleted {
		t.Fatalf("run completed despite failed insert")
	}
}

func TestFormatRecommendation(t *testing.T) {
	tests := []struct {
		in   prompt.ConsolidatedRecommendation
		want string
	}{
		{prompt.ConsolidatedRecommendation{CodeRef: "A", Recommendation: " Fix it ", Priority: "low"}, "Fix it [Priority: LOW]"},
		{prompt.ConsolidatedRecommendation{CodeRef: "A", Recommendation: "Fix", Priority: "urgent", RelatedCodes: []string{"A", " ", "B", "C"}}, "Fix [Priority: MEDIUM] [Coordinate with: B, C]"},
	}
	for _, tc := range tests {
		if got := FormatRecommendation(tc.in); got != tc.want {
			t.Fatalf("FormatRecommendation = %q, want %q", got, tc.want)
		}
	}
}
