package ranking

import (
	"strings"
	"unicode"

	"github.com/samber/lo"

	"vodstream/searchservice/internal/domain"
)

const (
	mediaMovie = "movie"
	mediaTV    = "tv"
)

// GroupKey derives the aggregation key "title-year-type" for one item. The
// title loses all whitespace; a blank year becomes "unknown"; an item with
// exactly one episode is a movie, anything else tv.
func GroupKey(item domain.SearchResultItem) string {
	title := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, item.Title)

	year := strings.TrimSpace(item.Year)
	if year == "" {
		year = domain.UnknownYear
	}

	media := mediaTV
	if len(item.Episodes) == 1 {
		media = mediaMovie
	}
	return title + "-" + year + "-" + media
}

// Group clusters items by GroupKey. Groups are returned in order of first
// appearance and members keep arrival order. Display fields come from the
// first member; episode count and douban id are majority votes.
func Group(items []domain.SearchResultItem) []domain.AggregationGroup {
	if len(items) == 0 {
		return nil
	}
	index := make(map[string]int)
	groups := make([]domain.AggregationGroup, 0)
	for _, item := range items {
		key := GroupKey(item)
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, domain.AggregationGroup{Key: key})
		}
		groups[pos].Items = append(groups[pos].Items, item)
	}
	for i := range groups {
		fillRepresentative(&groups[i])
	}
	return groups
}

func fillRepresentative(group *domain.AggregationGroup) {
	first := group.Items[0]
	group.Title = first.Title
	group.Poster = first.Poster
	group.Year = first.Year
	if strings.TrimSpace(group.Year) == "" {
		group.Year = domain.UnknownYear
	}
	group.Source = first.Source
	group.ID = first.ID

	counts := lo.FilterMap(group.Items, func(item domain.SearchResultItem, _ int) (int, bool) {
		return item.EpisodeCount(), item.EpisodeCount() > 0
	})
	group.EpisodeCount, _ = Mode(counts)

	douban := lo.FilterMap(group.Items, func(item domain.SearchResultItem, _ int) (int, bool) {
		return item.DoubanID, item.DoubanID != 0
	})
	group.DoubanID, _ = Mode(douban)
}

// Mode returns the most frequent value. Ties go to the value seen first.
// ok is false for an empty input.
func Mode[T comparable](values []T) (T, bool) {
	var best T
	if len(values) == 0 {
		return best, false
	}
	counts := lo.CountValues(values)
	bestCount := 0
	for _, value := range lo.Uniq(values) {
		if counts[value] > bestCount {
			best = value
			bestCount = counts[value]
		}
	}
	return best, true
}
