package domain

import "strings"

// RecordKey builds the "source+id" key shared by play records and favorites.
func RecordKey(source, id string) string {
	return source + "+" + id
}

// SplitRecordKey is the inverse of RecordKey. The id may itself contain '+'.
func SplitRecordKey(key string) (source, id string, ok bool) {
	source, id, ok = strings.Cut(key, "+")
	if !ok || source == "" || id == "" {
		return "", "", false
	}
	return source, id, true
}

type PlayRecord struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Cover         string `json:"cover"`
	Year          string `json:"year"`
	Index         int    `json:"index"`
	TotalEpisodes int    `json:"total_episodes"`
	PlayTime      int    `json:"play_time"`
	TotalTime     int    `json:"total_time"`
	SaveTime      int64  `json:"save_time"`
	SearchTitle   string `json:"search_title"`
}

type Favorite struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Cover         string `json:"cover"`
	Year          string `json:"year"`
	TotalEpisodes int    `json:"total_episodes"`
	SaveTime      int64  `json:"save_time"`
	SearchTitle   string `json:"search_title"`
}

type RefreshReport struct {
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Messages []string `json:"messages,omitempty"`
	Message  string   `json:"message,omitempty"`
	Total    int      `json:"total"`
}
