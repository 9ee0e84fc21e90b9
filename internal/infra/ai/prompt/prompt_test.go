package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

func TestDecodeToleratesFencesAndProse(t *testing.T) {
	cases := []string{
		`{"page_type":"floor_plan","description":"Level 1","scale_detected":null}`,
		"```json\n{\"page_type\":\"floor_plan\",\"description\":\"Level 1\",\"scale_detected\":null}\n```",
		`Sure! Here it is: {"page_type": "floor_plan", "description": "Level 1"} Hope that helps.`,
		"{\"page_type\":\"floor_plan\",\"description\":\"Level 1\"}\nNote: see grid {B-3}.",
		"Looking at sheet {A-101} first.\n{\"page_type\":\"floor_plan\",\"description\":\"Level 1\"}",
	}
	for _, c := range cases {
		var r ClassificationReply
		if err := Decode(c, &r); err != nil {
			t.Fatalf("Decode(%q) error: %v", c, err)
		}
		if r.PageType != "floor_plan" || r.Description != "Level 1" || r.ScaleDetected != "" {
			t.Fatalf("unexpected reply %+v", r)
		}
	}
	for _, c := range []string{"no json here", "grid {B-3} only", `{"page_type":"floor_plan"`} {
		var r ClassificationReply
		if err := Decode(c, &r); err != ErrNoJSON {
			t.Fatalf("Decode(%q): want ErrNoJSON, got %v", c, err)
		}
	}
}

func TestTextAcceptsScalars(t *testing.T) {
	var r EvaluationReply
	raw := `{"status":"WARNING","confidence":"high","required_value":44,"proposed_value":36.5,"location":null,"recommendation":false}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.RequiredValue != "44" || r.ProposedValue != "36.5" || r.Location != "" || r.Recommendation != "false" {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestEvaluateRequirementIncludesGuidance(t *testing.T) {
	req := domain.Requirement{
		CodeRef:            "IBC 1005.1",
		Category:           "Egress",
		RequirementText:    "Means of egress width shall be sufficient.",
		Thresholds:         json.RawMessage(`{ "min_width_in" : 44 }`),
		Exceptions:         []string{"Group R-3 occupancies"},
		ExtractionGuidance: "Corridor clear widths",
		EvaluationGuidance: "Compare against 44 inches",
		BuildingTypes:      domain.ParseApplicability([]string{"all"}),
		Spaces:             domain.ParseApplicability([]string{"corridor"}),
	}
	page := domain.ClassifiedPage{NormalizedPage: domain.NormalizedPage{PageNumber: 3}, PageType: domain.PageFloorPlan, ScaleDetected: "1/8\" = 1'-0\""}
	p := EvaluateRequirement(req, page)
	for _, want := range []string{"IBC 1005.1", `{"min_width_in":44}`, "Group R-3 occupancies", "Corridor clear widths", "Compare against 44 inches", "page 3", "corridor"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "Applies to building types") {
		t.Fatalf("wildcard building types should not be listed")
	}
}

func TestConsolidateListsIssues(t *testing.T) {
	p, err := Consolidate([]domain.Result{{CodeRef: "IBC 903.2", Status: domain.StatusCritical, Category: "Fire Safety"}})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if !strings.Contains(p, `"code_ref": "IBC 903.2"`) || !strings.Contains(p, "related_codes") {
		t.Fatalf("unexpected prompt: %s", p)
	}
}

func TestClassifyPageListsTaxonomy(t *testing.T) {
	p := ClassifyPage(2, 9)
	for _, pt := range domain.PageTypes {
		if !strings.Contains(p, string(pt)) {
			t.Fatalf("prompt missing page type %s", pt)
		}
	}
	if !strings.Contains(p, "sheet 2 of 9") {
		t.Fatalf("prompt missing position")
	}
}
