package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// EvaluationReply is the JSON object requested for one requirement × page check.
type EvaluationReply struct {
	MeasurementsFound json.RawMessage `json:"measurements_found"`
	Status            Text            `json:"status"`
	Confidence        Text            `json:"confidence"`
	Reasoning         Text            `json:"reasoning"`
	RequiredValue     Text            `json:"required_value"`
	ProposedValue     Text            `json:"proposed_value"`
	Location          Text            `json:"location"`
	Recommendation    Text            `json:"recommendation"`
}

// EvaluateRequirement synthesizes the check prompt from the requirement's text,
// thresholds, exceptions and guidance fields.
func EvaluateRequirement(req domain.Requirement, page domain.ClassifiedPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a building-code plan reviewer. Check the attached drawing sheet (page %d, classified as %s", page.PageNumber, page.PageType)
	if page.ScaleDetected != "" {
		fmt.Fprintf(&b, ", scale %s", page.ScaleDetected)
	}
	b.WriteString(") against one code requirement.\n\n")

	fmt.Fprintf(&b, "Code reference: %s\n", req.CodeRef)
	fmt.Fprintf(&b, "Category: %s\n", req.Category)
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}
	if req.CheckType != "" {
		fmt.Fprintf(&b, "Check type: %s\n", req.CheckType)
	}
	fmt.Fprintf(&b, "Requirement: %s\n", req.RequirementText)
	if th := CompactThresholds(req.Thresholds); th != "" {
		fmt.Fprintf(&b, "Thresholds: %s\n", th)
	}
	if !req.BuildingTypes.All && len(req.BuildingTypes.Values) > 0 {
		fmt.Fprintf(&b, "Applies to building types: %s\n", strings.Join(req.BuildingTypes.Values, ", "))
	}
	if !req.Spaces.All && len(req.Spaces.Values) > 0 {
		fmt.Fprintf(&b, "Applies to spaces: %s\n", strings.Join(req.Spaces.Values, ", "))
	}
	if len(req.Exceptions) > 0 {
		b.WriteString("Exceptions:\n")
		for _, e := range req.Exceptions {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if req.ExtractionGuidance != "" {
		fmt.Fprintf(&b, "\nWhat to extract from the drawing: %s\n", req.ExtractionGuidance)
	}
	if req.EvaluationGuidance != "" {
		fmt.Fprintf(&b, "How to evaluate: %s\n", req.EvaluationGuidance)
	}

	b.WriteString(`
Respond with one valid JSON object only (no markdown, no commentary, no code fences):
{
  "measurements_found": [{"item": "<what was measured>", "value": "<value with units>", "location": "<where on the sheet>"}],
  "status": "<COMPLIANT|WARNING|CRITICAL|NOT_ASSESSED>",
  "confidence": "<HIGH|MEDIUM|LOW>",
  "reasoning": "<short explanation of the verdict>",
  "required_value": "<what the code requires>",
  "proposed_value": "<what the drawing shows, or null>",
  "location": "<grid line, room or detail reference, or null>",
  "recommendation": "<corrective action if not compliant, or null>"
}

Use NOT_ASSESSED when the sheet does not contain enough information to evaluate the requirement.
Use CRITICAL for clear violations affecting life safety or structure, WARNING for minor or likely violations.`)
	return b.String()
}

// CompactThresholds renders stored thresholds as single-line JSON; empty or null thresholds yield "".
func CompactThresholds(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "{}" {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}
