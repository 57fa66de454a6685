package ranking

import (
	"reflect"
	"sort"
	"testing"

	"vodstream/searchservice/internal/domain"
)

func item(source, id, title, year string, episodes int) domain.SearchResultItem {
	eps := make([]string, episodes)
	for i := range eps {
		eps[i] = "https://cdn.example/" + source + "/" + id + "/" + string(rune('a'+i)) + ".m3u8"
	}
	return domain.SearchResultItem{
		ID:         id,
		Title:      title,
		Year:       year,
		Episodes:   eps,
		Source:     source,
		SourceName: "Source " + source,
	}
}

func titles(items []domain.SearchResultItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title + "/" + it.Year
	}
	return out
}

// ---------------------------------------------------------------------------
// Grouping
// ---------------------------------------------------------------------------

func TestGroupKey(t *testing.T) {
	cases := []struct {
		in   domain.SearchResultItem
		want string
	}{
		{item("a", "1", "The Matrix", "1999", 1), "TheMatrix-1999-movie"},
		{item("a", "1", " Friends\t", "", 24), "Friends-unknown-tv"},
		{item("a", "1", "Trailer", "2020", 0), "Trailer-2020-tv"},
	}
	for _, tc := range cases {
		if got := GroupKey(tc.in); got != tc.want {
			t.Errorf("GroupKey(%q) = %q, want %q", tc.in.Title, got, tc.want)
		}
	}
}

func TestGroupInceptionAcrossTwoSources(t *testing.T) {
	items := []domain.SearchResultItem{
		item("a", "1", "Inception", "2010", 1),
		item("b", "9", "Inception", "2010", 1),
	}
	groups := Group(items)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Items) != 2 || groups[0].Source != "a" || groups[0].EpisodeCount != 1 {
		t.Fatalf("unexpected group: %+v", groups[0])
	}
}

func TestGroupIsOrderIndependent(t *testing.T) {
	batchA := []domain.SearchResultItem{item("a", "1", "Show", "2020", 10), item("a", "2", "Movie", "2019", 1)}
	batchB := []domain.SearchResultItem{item("b", "1", "Show", "2020", 12), item("b", "3", "Other", "", 1)}

	forward := Group(append(append([]domain.SearchResultItem{}, batchA...), batchB...))
	reverse := Group(append(append([]domain.SearchResultItem{}, batchB...), batchA...))

	membership := func(groups []domain.AggregationGroup) map[string][]string {
		out := make(map[string][]string)
		for _, g := range groups {
			keys := make(map[string]bool)
			for _, it := range g.Items {
				keys[it.Key()] = true
			}
			for k := range keys {
				out[g.Key] = append(out[g.Key], k)
			}
		}
		for k := range out {
			sort.Strings(out[k])
		}
		return out
	}
	if !reflect.DeepEqual(membership(forward), membership(reverse)) {
		t.Fatalf("group membership differs:\n%v\n%v", membership(forward), membership(reverse))
	}
}

func TestRepresentativeEpisodeCountIsMode(t *testing.T) {
	group := Group([]domain.SearchResultItem{
		item("a", "1", "Show", "2020", 2),
		item("b", "1", "Show", "2020", 2),
		item("c", "1", "Show", "2020", 3),
	})
	if len(group) != 1 {
		t.Fatalf("expected one group, got %d", len(group))
	}
	if group[0].EpisodeCount != 2 {
		t.Fatalf("expected mode 2, got %d", group[0].EpisodeCount)
	}
}

func TestModeTieGoesToFirstSeen(t *testing.T) {
	if got, _ := Mode([]int{1, 1, 2}); got != 1 {
		t.Fatalf("Mode([1 1 2]) = %d", got)
	}
	if got, _ := Mode([]int{3, 5, 5, 3}); got != 3 {
		t.Fatalf("Mode([3 5 5 3]) = %d, want 3", got)
	}
	if _, ok := Mode([]int(nil)); ok {
		t.Fatal("empty input should report ok=false")
	}
}

func TestRepresentativeDoubanIgnoresZero(t *testing.T) {
	a := item("a", "1", "Movie", "2020", 1)
	b := item("b", "1", "Movie", "2020", 1)
	c := item("c", "1", "Movie", "2020", 1)
	b.DoubanID = 42
	group := Group([]domain.SearchResultItem{a, b, c})
	if group[0].DoubanID != 42 {
		t.Fatalf("expected douban id 42, got %d", group[0].DoubanID)
	}
}

// ---------------------------------------------------------------------------
// Sorting
// ---------------------------------------------------------------------------

func TestSortBatchDefault(t *testing.T) {
	in := []domain.SearchResultItem{
		item("a", "1", "Inception 2", "unknown", 1),
		item("a", "2", "Inception Making Of", "2011", 1),
		item("a", "3", "Inception", "2010", 1),
		item("a", "4", "Inception Extras", "2015", 1),
		item("a", "5", "Inception Shorts", "", 1),
	}
	got := titles(SortBatchDefault(in, " Inception "))
	want := []string{
		"Inception/2010",
		"Inception Extras/2015",
		"Inception Making Of/2011",
		"Inception 2/unknown",
		"Inception Shorts/",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortBatchDefault = %v, want %v", got, want)
	}
	if in[0].ID != "1" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestApplyItemsYearDescUnknownLast(t *testing.T) {
	perms := [][]domain.SearchResultItem{
		{item("a", "1", "X", "unknown", 1), item("a", "2", "Y", "2001", 1), item("a", "3", "Z", "2010", 1)},
		{item("a", "2", "Y", "2001", 1), item("a", "3", "Z", "2010", 1), item("a", "1", "X", "unknown", 1)},
		{item("a", "3", "Z", "2010", 1), item("a", "1", "X", "unknown", 1), item("a", "2", "Y", "2001", 1)},
	}
	filter := domain.DefaultFilterState()
	filter.YearOrder = domain.YearOrderDesc
	for _, perm := range perms {
		got := ApplyItems(perm, filter, "q")
		if got[len(got)-1].Year != domain.UnknownYear {
			t.Fatalf("unknown year not last: %v", titles(got))
		}
		if got[0].Year != "2010" {
			t.Fatalf("expected 2010 first: %v", titles(got))
		}
	}
}

func TestApplyItemsYearAscUnknownStillLast(t *testing.T) {
	filter := domain.DefaultFilterState()
	filter.YearOrder = domain.YearOrderAsc
	got := ApplyItems([]domain.SearchResultItem{
		item("a", "1", "X", "", 1),
		item("a", "2", "Y", "2010", 1),
		item("a", "3", "Z", "2001", 1),
	}, filter, "q")
	want := []string{"Z/2001", "Y/2010", "X/"}
	if !reflect.DeepEqual(titles(got), want) {
		t.Fatalf("got %v, want %v", titles(got), want)
	}
}

func TestApplyItemsTieBreaks(t *testing.T) {
	in := []domain.SearchResultItem{
		item("a", "1", "Beta", "2010", 1),
		item("a", "2", "Alpha", "2010", 1),
		item("a", "3", "Inception", "2010", 1),
	}
	filter := domain.DefaultFilterState()

	filter.YearOrder = domain.YearOrderAsc
	if got, want := titles(ApplyItems(in, filter, "Inception")), []string{"Inception/2010", "Alpha/2010", "Beta/2010"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("asc: got %v, want %v", got, want)
	}

	filter.YearOrder = domain.YearOrderDesc
	if got, want := titles(ApplyItems(in, filter, "Inception")), []string{"Inception/2010", "Beta/2010", "Alpha/2010"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("desc: got %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Filtering
// ---------------------------------------------------------------------------

func TestApplyItemsFiltersAndKeepsOrder(t *testing.T) {
	in := []domain.SearchResultItem{
		item("a", "1", "Inception", "2010", 1),
		item("b", "2", "Inception", "2010", 1),
		item("a", "3", "Inception", "2011", 1),
	}
	filter := domain.ParseFilterState("a", "", "2010", "")
	got := ApplyItems(in, filter, "Inception")
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("unexpected filter result: %+v", got)
	}

	again := ApplyItems(in, filter, "Inception")
	if !reflect.DeepEqual(got, again) {
		t.Fatal("filter must be idempotent")
	}
}

func TestApplyGroupsSourceMatchesAnyMember(t *testing.T) {
	groups := Group([]domain.SearchResultItem{
		item("a", "1", "Inception", "2010", 1),
		item("b", "2", "Inception", "2010", 1),
		item("a", "3", "Memento", "2000", 1),
	})
	got := ApplyGroups(groups, domain.ParseFilterState("b", "all", "all", "none"), "")
	if len(got) != 1 || got[0].Title != "Inception" {
		t.Fatalf("unexpected groups: %+v", got)
	}
}

func TestApplyGroupsYearOrder(t *testing.T) {
	groups := Group([]domain.SearchResultItem{
		item("a", "1", "Old", "1990", 1),
		item("a", "2", "Mystery", "unknown", 1),
		item("a", "3", "New", "2020", 1),
	})
	got := ApplyGroups(groups, domain.ParseFilterState("", "", "", "desc"), "")
	if got[0].Title != "New" || got[2].Title != "Mystery" {
		t.Fatalf("unexpected order: %v, %v, %v", got[0].Title, got[1].Title, got[2].Title)
	}
}

func TestOptions(t *testing.T) {
	in := []domain.SearchResultItem{
		{Source: "b", SourceName: "Beta", Title: "Zulu", Year: "2001"},
		{Source: "a", SourceName: "Alpha", Title: "Alpha", Year: domain.UnknownYear},
		{Source: "a", SourceName: "Alpha", Title: "Mike", Year: "2019"},
	}
	opts := Options(in)

	values := func(options []domain.FilterOption) []string {
		out := make([]string, len(options))
		for i, o := range options {
			out[i] = o.Value
		}
		return out
	}
	if got, want := values(opts.Sources), []string{"all", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}
	if got, want := values(opts.Titles), []string{"all", "Alpha", "Mike", "Zulu"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("titles = %v, want %v", got, want)
	}
	if got, want := values(opts.Years), []string{"all", "2019", "2001", "unknown"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("years = %v, want %v", got, want)
	}
}
