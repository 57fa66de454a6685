package records

import (
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
)

const defaultSuggestLimit = 10

// Suggest returns history keywords fuzzily matching query. Keywords starting
// with the query come first; otherwise history order (newest first) is kept.
func Suggest(history []string, query string, limit int) []string {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	if query == "" {
		return lo.Subset(history, 0, uint(limit))
	}

	lowered := strings.ToLower(query)
	matches := lo.Filter(history, func(keyword string, _ int) bool {
		return fuzzy.MatchFold(query, keyword)
	})
	slices.SortStableFunc(matches, func(a, b string) int {
		aPrefix := strings.HasPrefix(strings.ToLower(a), lowered)
		bPrefix := strings.HasPrefix(strings.ToLower(b), lowered)
		switch {
		case aPrefix && !bPrefix:
			return -1
		case !aPrefix && bPrefix:
			return 1
		default:
			return 0
		}
	})
	return lo.Subset(matches, 0, uint(limit))
}
