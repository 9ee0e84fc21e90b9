package compliance

import (
	"sort"
	"strings"
)

// CategoryPriority is the fixed display order of requirement categories.
var CategoryPriority = []string{
	"Structural",
	"Fire Safety",
	"Egress",
	"Accessibility",
	"Energy",
	"General Building",
	"Site",
	"Plumbing",
	"Electrical",
	"Mechanical",
}

func reportRank(s Status) int {
	switch s {
	case StatusCritical:
		return 0
	case StatusWarning:
		return 1
	case StatusNotAssessed:
		return 2
	case StatusCompliant:
		return 3
	}
	return 4
}

func categoryRank(category string) int {
	for i, c := range CategoryPriority {
		if strings.EqualFold(c, strings.TrimSpace(category)) {
			return i
		}
	}
	return len(CategoryPriority)
}

// SortForReport stable-sorts results by status, category priority and code reference.
// The resulting index is the finding's sort order.
func SortForReport(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ra, rb := reportRank(a.Status), reportRank(b.Status); ra != rb {
			return ra < rb
		}
		if ca, cb := categoryRank(a.Category), categoryRank(b.Category); ca != cb {
			return ca < cb
		}
		return a.CodeRef < b.CodeRef
	})
}
