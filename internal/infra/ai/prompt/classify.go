package prompt

import (
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// ClassificationReply is the JSON object requested from the classifier prompt.
type ClassificationReply struct {
	PageType      Text `json:"page_type"`
	Description   Text `json:"description"`
	ScaleDetected Text `json:"scale_detected"`
}

// ClassifyPage builds the fixed classification instruction for one sheet.
func ClassifyPage(page, total int) string {
	types := make([]string, len(domain.PageTypes))
	for i, t := range domain.PageTypes {
		types[i] = string(t)
	}
	return fmt.Sprintf(`You are reviewing sheet %d of %d from an architectural drawing set. Identify the drawing type of this sheet.

Respond with one valid JSON object only (no markdown, no commentary, no code fences):
{
  "page_type": "<one of: %s>",
  "description": "<one or two sentences describing what the sheet shows>",
  "scale_detected": "<drawing scale as printed, e.g. 1/4\" = 1'-0\", or null if none is visible>"
}

Definitions:
- floor_plan: horizontal cut showing walls, doors, rooms and dimensions of a level.
- elevation: exterior or interior vertical view of a facade or wall.
- section: vertical cut through the building showing floor-to-floor relationships.
- site_plan: property, building footprint, setbacks, parking and site access.
- detail: enlarged construction detail of an assembly or connection.
- schedule: tabular door, window, finish or fixture schedules.
- title_block: cover sheet, sheet index, code summary or project data.
- other: anything that fits none of the above.`, page, total, strings.Join(types, ", "))
}
