package ranking

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"vodstream/searchservice/internal/domain"
)

// SortBatchDefault orders a batch when no year order is chosen:
// exact title matches first, then parseable years descending, then the rest.
// The sort is stable and the input slice is left untouched.
func SortBatchDefault(items []domain.SearchResultItem, query string) []domain.SearchResultItem {
	out := slices.Clone(items)
	q := strings.TrimSpace(query)
	slices.SortStableFunc(out, func(a, b domain.SearchResultItem) int {
		if c := compareExact(strings.TrimSpace(a.Title), strings.TrimSpace(b.Title), q); c != 0 {
			return c
		}
		ay, aok := leadingInt(a.Year)
		by, bok := leadingInt(b.Year)
		switch {
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		case aok && bok:
			return by - ay
		}
		return 0
	})
	return out
}

// compareYear puts blank and unknown years last for either direction.
func compareYear(a, b string, order domain.YearOrder) int {
	if order == domain.YearOrderNone {
		return 0
	}
	aEmpty := isUnknownYear(a)
	bEmpty := isUnknownYear(b)
	switch {
	case aEmpty && bEmpty:
		return 0
	case aEmpty:
		return 1
	case bEmpty:
		return -1
	}
	ay, aok := leadingInt(a)
	by, bok := leadingInt(b)
	if !aok || !bok {
		return 0
	}
	if order == domain.YearOrderAsc {
		return ay - by
	}
	return by - ay
}

func isUnknownYear(year string) bool {
	year = strings.TrimSpace(year)
	return year == "" || year == domain.UnknownYear
}

func compareExact(a, b, query string) int {
	aExact := a == query
	bExact := b == query
	switch {
	case aExact && !bExact:
		return -1
	case !aExact && bExact:
		return 1
	}
	return 0
}

// explicitComparator builds the year-ordered comparator: year, then exact
// title, then collated title in the chosen direction.
func explicitComparator(order domain.YearOrder, query string) func(titleA, yearA, titleB, yearB string) int {
	q := strings.TrimSpace(query)
	col := newCollator()
	return func(titleA, yearA, titleB, yearB string) int {
		if c := compareYear(yearA, yearB, order); c != 0 {
			return c
		}
		if c := compareExact(titleA, titleB, q); c != 0 {
			return c
		}
		if order == domain.YearOrderAsc {
			return col.CompareString(titleA, titleB)
		}
		return col.CompareString(titleB, titleA)
	}
}

// newCollator returns a fresh collator; collate.Collator is not safe for
// concurrent use.
func newCollator() *collate.Collator {
	return collate.New(language.Chinese)
}

// leadingInt parses an optional sign followed by leading digits, ignoring
// any trailing text ("2010年" -> 2010).
func leadingInt(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		n = n*10 + int(s[digits]-'0')
		digits++
		if digits > 9 {
			break
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}
