package compliance

// BuildMatrix pairs every requirement with the pages its drawing-type filter accepts.
// Requirements that match no page contribute nothing. Pair order follows requirement
// order, then page order.
func BuildMatrix(reqs []Requirement, pages []ClassifiedPage) []MatrixPair {
	var pairs []MatrixPair
	for _, r := range reqs {
		for _, p := range pages {
			if r.DrawingTypes.Matches(string(p.PageType)) {
				pairs = append(pairs, MatrixPair{Requirement: r, Page: p})
			}
		}
	}
	return pairs
}
