package domain

import (
	"strings"
	"time"
)

const UnknownYear = "unknown"

// SearchResultItem is one playable title returned by a single source.
type SearchResultItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Poster     string   `json:"poster"`
	Year       string   `json:"year"`
	Episodes   []string `json:"episodes"`
	Source     string   `json:"source"`
	SourceName string   `json:"source_name"`
	DoubanID   int      `json:"douban_id,omitempty"`
	TypeName   string   `json:"type_name,omitempty"`
	Class      string   `json:"class,omitempty"`
	Desc       string   `json:"desc,omitempty"`
}

// Key returns the composite "source+id" identifier.
func (i SearchResultItem) Key() string {
	return RecordKey(i.Source, i.ID)
}

func (i SearchResultItem) EpisodeCount() int {
	return len(i.Episodes)
}

type SourceInfo struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	API     string `json:"api"`
	Detail  string `json:"detail,omitempty"`
	Enabled bool   `json:"enabled"`
}

type SourceStatus struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type SourceDiagnostics struct {
	Key                 string     `json:"key"`
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs"`
	LastTimeout         bool       `json:"lastTimeout"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
}

type SearchResponse struct {
	Query     string             `json:"query"`
	Results   []SearchResultItem `json:"results"`
	Sources   []SourceStatus     `json:"sources,omitempty"`
	ElapsedMS int64              `json:"elapsedMs"`
}

// AggregationGroup clusters items sharing title, year and media type.
type AggregationGroup struct {
	Key          string             `json:"key"`
	Title        string             `json:"title"`
	Poster       string             `json:"poster"`
	Year         string             `json:"year"`
	Source       string             `json:"source"`
	ID           string             `json:"id"`
	EpisodeCount int                `json:"episodeCount"`
	DoubanID     int                `json:"douban_id,omitempty"`
	Items        []SearchResultItem `json:"items"`
}

func (g AggregationGroup) HasSource(source string) bool {
	for _, item := range g.Items {
		if item.Source == source {
			return true
		}
	}
	return false
}

type YearOrder string

const (
	YearOrderNone YearOrder = "none"
	YearOrderAsc  YearOrder = "asc"
	YearOrderDesc YearOrder = "desc"
)

func NormalizeYearOrder(raw string) YearOrder {
	switch YearOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case YearOrderAsc:
		return YearOrderAsc
	case YearOrderDesc:
		return YearOrderDesc
	default:
		return YearOrderNone
	}
}

const FilterAll = "all"

// FilterState is the caller-owned view filter. Empty fields behave like "all".
type FilterState struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Year      string    `json:"year"`
	YearOrder YearOrder `json:"yearOrder"`
}

func DefaultFilterState() FilterState {
	return FilterState{Source: FilterAll, Title: FilterAll, Year: FilterAll, YearOrder: YearOrderNone}
}

func ParseFilterState(source, title, year, yearOrder string) FilterState {
	state := DefaultFilterState()
	if v := strings.TrimSpace(source); v != "" {
		state.Source = v
	}
	if v := strings.TrimSpace(title); v != "" {
		state.Title = v
	}
	if v := strings.TrimSpace(year); v != "" {
		state.Year = v
	}
	state.YearOrder = NormalizeYearOrder(yearOrder)
	return state
}

func (f FilterState) matchAll(value string) bool {
	return value == "" || value == FilterAll
}

func (f FilterState) SourceAll() bool { return f.matchAll(f.Source) }
func (f FilterState) TitleAll() bool  { return f.matchAll(f.Title) }
func (f FilterState) YearAll() bool   { return f.matchAll(f.Year) }

type StreamEventType string

const (
	StreamEventStart        StreamEventType = "start"
	StreamEventSourceResult StreamEventType = "source_result"
	StreamEventSourceError  StreamEventType = "source_error"
	StreamEventComplete     StreamEventType = "complete"
)

// StreamEvent is one message of an incremental search. Generation tags the
// operation that produced it so stale events can be dropped by a Session.
type StreamEvent struct {
	Type             StreamEventType    `json:"type"`
	Generation       uint64             `json:"-"`
	Query            string             `json:"query,omitempty"`
	TotalSources     int                `json:"totalSources,omitempty"`
	Source           string             `json:"source,omitempty"`
	SourceName       string             `json:"sourceName,omitempty"`
	Results          []SearchResultItem `json:"results,omitempty"`
	Error            string             `json:"error,omitempty"`
	CompletedSources int                `json:"completedSources,omitempty"`
	FailedSources    int                `json:"failedSources,omitempty"`
	ElapsedMS        int64              `json:"elapsedMs,omitempty"`
}

type FilterOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type FilterOptions struct {
	Sources []FilterOption `json:"sources"`
	Titles  []FilterOption `json:"titles"`
	Years   []FilterOption `json:"years"`
}

type SiteConfig struct {
	SiteName     string `json:"siteName"`
	Announcement string `json:"announcement"`
}
