package compliance

import (
	"testing"
)

func res(req string, page int, st Status, conf Confidence) Result {
	return Result{RequirementID: req, CodeRef: "IBC " + req, PageNumber: page, Status: st, Confidence: conf}
}

func TestBuildMatrix(t *testing.T) {
	pages := []ClassifiedPage{
		{NormalizedPage: NormalizedPage{PageNumber: 1}, PageType: PageFloorPlan},
		{NormalizedPage: NormalizedPage{PageNumber: 2}, PageType: PageElevation},
		{NormalizedPage: NormalizedPage{PageNumber: 3}, PageType: PageFloorPlan},
	}
	reqs := []Requirement{
		{ID: "r1", DrawingTypes: ParseApplicability([]string{"floor_plan"})},
		{ID: "r2", DrawingTypes: ParseApplicability([]string{"all"})},
		{ID: "r3", DrawingTypes: ParseApplicability([]string{"schedule"})},
	}
	pairs := BuildMatrix(reqs, pages)
	if len(pairs) != 5 {
		t.Fatalf("got %d pairs; want 5", len(pairs))
	}
	for _, p := range pairs {
		if p.Requirement.ID == "r3" {
			t.Fatalf("r3 should not match any page")
		}
		if p.Requirement.ID == "r1" && p.Page.PageType != PageFloorPlan {
			t.Fatalf("r1 matched page %d of type %s", p.Page.PageNumber, p.Page.PageType)
		}
	}
	if len(BuildMatrix(nil, pages)) != 0 || len(BuildMatrix(reqs, nil)) != 0 {
		t.Fatalf("empty inputs must yield no pairs")
	}
}

func TestDetectConflict(t *testing.T) {
	cases := []struct {
		name  string
		group []Result
		want  bool
	}{
		{"agreeing", []Result{res("a", 1, StatusCompliant, ConfidenceHigh), res("a", 2, StatusCompliant, ConfidenceLow)}, false},
		{"disagreeing", []Result{res("a", 1, StatusCompliant, ConfidenceHigh), res("a", 3, StatusCritical, ConfidenceLow)}, true},
		{"not assessed ignored", []Result{res("a", 1, StatusCompliant, ConfidenceHigh), res("a", 2, StatusNotAssessed, ConfidenceLow)}, false},
		{"single", []Result{res("a", 1, StatusWarning, ConfidenceHigh)}, false},
		{"all not assessed", []Result{res("a", 1, StatusNotAssessed, ConfidenceHigh), res("a", 2, StatusNotAssessed, ConfidenceLow)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			conf, ok := DetectConflict(c.group)
			if ok != c.want {
				t.Fatalf("conflict = %v; want %v", ok, c.want)
			}
			if ok {
				for _, p := range conf.Pages {
					if p.Status == StatusNotAssessed {
						t.Fatalf("NOT_ASSESSED page listed in conflict")
					}
				}
			}
		})
	}
}

func TestBetterTieBreak(t *testing.T) {
	if !Better(res("a", 5, StatusCompliant, ConfidenceHigh), res("a", 1, StatusCritical, ConfidenceMedium)) {
		t.Fatalf("confidence must dominate")
	}
	if !Better(res("a", 5, StatusCritical, ConfidenceMedium), res("a", 1, StatusWarning, ConfidenceMedium)) {
		t.Fatalf("severity must break confidence ties")
	}
	if !Better(res("a", 2, StatusWarning, ConfidenceLow), res("a", 7, StatusWarning, ConfidenceLow)) {
		t.Fatalf("earlier page must win full ties")
	}
	if !Better(res("a", 9, StatusCompliant, ConfidenceLow), res("a", 1, StatusNotAssessed, ConfidenceLow)) {
		t.Fatalf("COMPLIANT outranks NOT_ASSESSED")
	}
}

func permutations(in []Result) [][]Result {
	if len(in) <= 1 {
		return [][]Result{append([]Result(nil), in...)}
	}
	var out [][]Result
	for i := range in {
		rest := make([]Result, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Result{in[i]}, p...))
		}
	}
	return out
}

func TestDedupeIsOrderIndependent(t *testing.T) {
	group := []Result{
		res("a", 4, StatusWarning, ConfidenceMedium),
		res("a", 2, StatusCritical, ConfidenceMedium),
		res("a", 1, StatusCompliant, ConfidenceLow),
		res("a", 3, StatusCritical, ConfidenceMedium),
	}
	for _, p := range permutations(group) {
		got := Dedupe(p)
		if len(got) != 1 {
			t.Fatalf("want one result, got %d", len(got))
		}
		if got[0].PageNumber != 2 || got[0].Status != StatusCritical {
			t.Fatalf("selected page %d %s; want page 2 CRITICAL", got[0].PageNumber, got[0].Status)
		}
	}
}

func TestScoreAndOverall(t *testing.T) {
	cases := []struct {
		name    string
		counts  StatusCounts
		score   float64
		overall OverallStatus
	}{
		{"conditional", StatusCounts{Compliant: 8, Warning: 1, Critical: 1, NotAssessed: 5}, 80.0, OverallConditional},
		{"pass", StatusCounts{Compliant: 10}, 100.0, OverallPass},
		{"zero denominator", StatusCounts{NotAssessed: 4}, 0, OverallFail},
		{"high score with critical", StatusCounts{Compliant: 19, Critical: 1}, 95.0, OverallConditional},
		{"fail", StatusCounts{Compliant: 2, Warning: 2}, 50.0, OverallFail},
		{"rounding", StatusCounts{Compliant: 2, Warning: 1}, 66.7, OverallFail},
		{"boundary 90", StatusCounts{Compliant: 9, Warning: 1}, 90.0, OverallPass},
		{"boundary 70", StatusCounts{Compliant: 7, Warning: 3}, 70.0, OverallConditional},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := Score(c.counts)
			if s != c.score {
				t.Fatalf("Score = %v; want %v", s, c.score)
			}
			if o := Overall(s, c.counts); o != c.overall {
				t.Fatalf("Overall = %s; want %s", o, c.overall)
			}
		})
	}
}

func TestCrossValidate(t *testing.T) {
	results := []Result{
		res("a", 1, StatusCompliant, ConfidenceHigh),
		res("a", 2, StatusCritical, ConfidenceLow),
		res("b", 1, StatusWarning, ConfidenceMedium),
		res("c", 3, StatusNotAssessed, ConfidenceLow),
	}
	deduped, agg := CrossValidate(results)
	if len(deduped) != 3 {
		t.Fatalf("want 3 deduped results, got %d", len(deduped))
	}
	if agg.Counts != (StatusCounts{Compliant: 1, Warning: 1, NotAssessed: 1}) {
		t.Fatalf("unexpected counts %+v", agg.Counts)
	}
	if agg.Score != 50 || agg.Overall != OverallFail {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if len(agg.Conflicts) != 1 || agg.Conflicts[0].RequirementID != "a" || len(agg.Conflicts[0].Pages) != 2 {
		t.Fatalf("unexpected conflicts %+v", agg.Conflicts)
	}
}
