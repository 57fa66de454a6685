package ranking

import (
	"slices"

	"github.com/samber/lo"

	"vodstream/searchservice/internal/domain"
)

// ApplyItems filters the flat view and, when a year order is set, sorts it.
// With no year order the filtered slice keeps its incoming order.
func ApplyItems(items []domain.SearchResultItem, filter domain.FilterState, query string) []domain.SearchResultItem {
	out := lo.Filter(items, func(item domain.SearchResultItem, _ int) bool {
		if !filter.SourceAll() && item.Source != filter.Source {
			return false
		}
		if !filter.TitleAll() && item.Title != filter.Title {
			return false
		}
		if !filter.YearAll() && item.Year != filter.Year {
			return false
		}
		return true
	})
	if filter.YearOrder == domain.YearOrderNone || filter.YearOrder == "" {
		return out
	}
	cmp := explicitComparator(filter.YearOrder, query)
	slices.SortStableFunc(out, func(a, b domain.SearchResultItem) int {
		return cmp(a.Title, a.Year, b.Title, b.Year)
	})
	return out
}

// ApplyGroups is ApplyItems for the grouped view. A group passes the source
// filter when any member comes from that source; title and year are matched
// against the group's display fields.
func ApplyGroups(groups []domain.AggregationGroup, filter domain.FilterState, query string) []domain.AggregationGroup {
	out := lo.Filter(groups, func(group domain.AggregationGroup, _ int) bool {
		if !filter.SourceAll() && !group.HasSource(filter.Source) {
			return false
		}
		if !filter.TitleAll() && group.Title != filter.Title {
			return false
		}
		if !filter.YearAll() && group.Year != filter.Year {
			return false
		}
		return true
	})
	if filter.YearOrder == domain.YearOrderNone || filter.YearOrder == "" {
		return out
	}
	cmp := explicitComparator(filter.YearOrder, query)
	slices.SortStableFunc(out, func(a, b domain.AggregationGroup) int {
		return cmp(a.Title, a.Year, b.Title, b.Year)
	})
	return out
}

// Options lists the filter values present in a result set. Each list starts
// with the "all" entry.
func Options(items []domain.SearchResultItem) domain.FilterOptions {
	col := newCollator()

	names := make(map[string]string)
	for _, item := range items {
		if item.Source != "" && item.SourceName != "" {
			names[item.Source] = item.SourceName
		}
	}
	sourceKeys := lo.Keys(names)
	slices.SortFunc(sourceKeys, func(a, b string) int {
		if c := col.CompareString(names[a], names[b]); c != 0 {
			return c
		}
		return col.CompareString(a, b)
	})

	titles := lo.Uniq(lo.FilterMap(items, func(item domain.SearchResultItem, _ int) (string, bool) {
		return item.Title, item.Title != ""
	}))
	slices.SortFunc(titles, col.CompareString)

	years := lo.Uniq(lo.FilterMap(items, func(item domain.SearchResultItem, _ int) (string, bool) {
		return item.Year, item.Year != ""
	}))
	known, unknown := lo.FilterReject(years, func(year string, _ int) bool {
		return year != domain.UnknownYear
	})
	slices.SortStableFunc(known, func(a, b string) int {
		ay, _ := leadingInt(a)
		by, _ := leadingInt(b)
		return by - ay
	})

	opts := domain.FilterOptions{
		Sources: []domain.FilterOption{{Label: "All sources", Value: domain.FilterAll}},
		Titles:  []domain.FilterOption{{Label: "All titles", Value: domain.FilterAll}},
		Years:   []domain.FilterOption{{Label: "All years", Value: domain.FilterAll}},
	}
	for _, key := range sourceKeys {
		opts.Sources = append(opts.Sources, domain.FilterOption{Label: names[key], Value: key})
	}
	for _, title := range titles {
		opts.Titles = append(opts.Titles, domain.FilterOption{Label: title, Value: title})
	}
	for _, year := range known {
		opts.Years = append(opts.Years, domain.FilterOption{Label: year, Value: year})
	}
	if len(unknown) > 0 {
		opts.Years = append(opts.Years, domain.FilterOption{Label: "Unknown", Value: domain.UnknownYear})
	}
	return opts
}
