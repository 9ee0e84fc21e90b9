package compliance

import (
	"math"
	"sort"
)

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

func severityRank(s Status) int {
	switch s {
	case StatusCritical:
		return 4
	case StatusWarning:
		return 3
	case StatusCompliant:
		return 2
	case StatusNotAssessed:
		return 1
	}
	return 0
}

// Better reports whether a should be preferred over b as the canonical result for a
// requirement: higher confidence, then higher severity, then the earlier page.
func Better(a, b Result) bool {
	if ca, cb := confidenceRank(a.Confidence), confidenceRank(b.Confidence); ca != cb {
		return ca > cb
	}
	if sa, sb := severityRank(a.Status), severityRank(b.Status); sa != sb {
		return sa > sb
	}
	return a.PageNumber < b.PageNumber
}

// GroupByRequirement partitions results by requirement id, keeping first-seen order of ids.
func GroupByRequirement(results []Result) (order []string, groups map[string][]Result) {
	groups = make(map[string][]Result)
	for _, r := range results {
		if _, ok := groups[r.RequirementID]; !ok {
			order = append(order, r.RequirementID)
		}
		groups[r.RequirementID] = append(groups[r.RequirementID], r)
	}
	return order, groups
}

// Best reduces a non-empty group to its canonical result.
func Best(group []Result) Result {
	best := group[0]
	for _, r := range group[1:] {
		if Better(r, best) {
			best = r
		}
	}
	return best
}

// Dedupe returns one result per requirement.
func Dedupe(results []Result) []Result {
	order, groups := GroupByRequirement(results)
	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, Best(groups[id]))
	}
	return out
}

// DetectConflict returns a conflict when the assessed results of one requirement disagree.
// NOT_ASSESSED entries never participate.
func DetectConflict(group []Result) (Conflict, bool) {
	distinct := make(map[Status]struct{})
	var pages []PageVerdict
	for _, r := range group {
		if r.Status == StatusNotAssessed {
			continue
		}
		distinct[r.Status] = struct{}{}
		pages = append(pages, PageVerdict{PageNumber: r.PageNumber, Status: r.Status})
	}
	if len(distinct) < 2 {
		return Conflict{}, false
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return Conflict{
		RequirementID: group[0].RequirementID,
		CodeRef:       group[0].CodeRef,
		Pages:         pages,
	}, true
}

// DetectConflicts scans every requirement group.
func DetectConflicts(results []Result) []Conflict {
	order, groups := GroupByRequirement(results)
	var out []Conflict
	for _, id := range order {
		if c, ok := DetectConflict(groups[id]); ok {
			out = append(out, c)
		}
	}
	return out
}

// Tally counts results per status.
func Tally(results []Result) StatusCounts {
	var c StatusCounts
	for _, r := range results {
		switch r.Status {
		case StatusCompliant:
			c.Compliant++
		case StatusWarning:
			c.Warning++
		case StatusCritical:
			c.Critical++
		default:
			c.NotAssessed++
		}
	}
	return c
}

// Score is compliant / assessed × 100, rounded to one decimal. NOT_ASSESSED is excluded;
// with nothing assessed the score is 0.
func Score(c StatusCounts) float64 {
	assessed := c.Compliant + c.Warning + c.Critical
	if assessed == 0 {
		return 0
	}
	raw := float64(c.Compliant) / float64(assessed) * 100
	return math.Round(raw*10) / 10
}

// Overall derives the verdict from the score and the critical count.
func Overall(score float64, c StatusCounts) OverallStatus {
	switch {
	case score < 70:
		return OverallFail
	case score >= 90 && c.Critical == 0:
		return OverallPass
	default:
		return OverallConditional
	}
}

// CrossValidate collapses per-page results into one per requirement and computes the aggregate.
func CrossValidate(results []Result) ([]Result, Aggregate) {
	deduped := Dedupe(results)
	counts := Tally(deduped)
	score := Score(counts)
	return deduped, Aggregate{
		Score:     score,
		Overall:   Overall(score, counts),
		Counts:    counts,
		Conflicts: DetectConflicts(results),
	}
}
