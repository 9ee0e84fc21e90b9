package prompt

import (
	"encoding/json"
	"fmt"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// ConsolidatedRecommendation is one per-code entry of the consolidation reply.
type ConsolidatedRecommendation struct {
	CodeRef        string   `json:"code_ref"`
	Recommendation string   `json:"recommendation"`
	Priority       string   `json:"priority"`
	RelatedCodes   []string `json:"related_codes"`
}

// ConsolidationReply is the JSON object requested from the consolidation prompt.
type ConsolidationReply struct {
	Recommendations []ConsolidatedRecommendation `json:"recommendations"`
	Summary         string                       `json:"summary"`
}

type issue struct {
	CodeRef        string `json:"code_ref"`
	Category       string `json:"category"`
	Status         string `json:"status"`
	Page           int    `json:"page"`
	RequiredValue  string `json:"required_value"`
	ProposedValue  string `json:"proposed_value,omitempty"`
	Location       string `json:"location,omitempty"`
	Notes          string `json:"notes"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Consolidate asks for one coordinated pass over all non-compliant results.
func Consolidate(results []domain.Result) (string, error) {
	issues := make([]issue, 0, len(results))
	for _, r := range results {
		issues = append(issues, issue{
			CodeRef:        r.CodeRef,
			Category:       r.Category,
			Status:         string(r.Status),
			Page:           r.PageNumber,
			RequiredValue:  r.RequiredValue,
			ProposedValue:  r.ProposedValue,
			Location:       r.Location,
			Notes:          r.Notes,
			Recommendation: r.Recommendation,
		})
	}
	payload, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal issues: %w", err)
	}
	return fmt.Sprintf(`You are a senior building-code consultant. The following code issues were found on one drawing set. Write coordinated remediation guidance: where fixing one issue affects another, say so and list the related code references so they are remediated together.

Issues:
%s

Respond with one valid JSON object only (no markdown, no commentary, no code fences):
{
  "recommendations": [
    {
      "code_ref": "<code reference exactly as given>",
      "recommendation": "<specific corrective action>",
      "priority": "<HIGH|MEDIUM|LOW>",
      "related_codes": ["<other code_ref to fix together>"]
    }
  ],
  "summary": "<overall summary of the design changes needed>"
}`, payload), nil
}
