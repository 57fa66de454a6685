package search

import (
	"strings"

	"github.com/samber/lo"

	"vodstream/searchservice/internal/domain"
)

// ContentFilter drops items whose category label contains a blocked word
// and, when TitleMatch is set, items whose title does not contain the query.
type ContentFilter struct {
	Words      []string
	Disabled   bool
	TitleMatch bool
}

func (f ContentFilter) Apply(items []domain.SearchResultItem, query string) []domain.SearchResultItem {
	blockWords := !f.Disabled && len(f.Words) > 0
	if !blockWords && !f.TitleMatch {
		return items
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	return lo.Filter(items, func(item domain.SearchResultItem, _ int) bool {
		if blockWords && f.blocked(item.TypeName) {
			return false
		}
		if f.TitleMatch && !strings.Contains(strings.ToLower(item.Title), needle) {
			return false
		}
		return true
	})
}

func (f ContentFilter) blocked(typeName string) bool {
	if typeName == "" {
		return false
	}
	return lo.SomeBy(f.Words, func(word string) bool {
		return word != "" && strings.Contains(typeName, word)
	})
}
