package sources

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"vodstream/searchservice/internal/domain"
)

type apiResponse struct {
	Code      flexInt   `json:"code"`
	Msg       string    `json:"msg"`
	Page      flexInt   `json:"page"`
	PageCount flexInt   `json:"pagecount"`
	List      []apiItem `json:"list"`
}

type apiItem struct {
	VodID       flexString `json:"vod_id"`
	VodName     string     `json:"vod_name"`
	VodPic      string     `json:"vod_pic"`
	VodYear     flexString `json:"vod_year"`
	VodPlayURL  string     `json:"vod_play_url"`
	TypeName    string     `json:"type_name"`
	VodClass    string     `json:"vod_class"`
	VodContent  string     `json:"vod_content"`
	VodDoubanID flexInt    `json:"vod_douban_id"`
}

// flexInt accepts 12, "12" and "" from upstream APIs.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int(value))
	return nil
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(data))
	return nil
}

func parseAPIResponse(payload []byte) (apiResponse, error) {
	var resp apiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return apiResponse{}, err
	}
	return resp, nil
}

var yearPattern = regexp.MustCompile(`\d{4}`)

func normalizeYear(raw string) string {
	if match := yearPattern.FindString(raw); match != "" {
		return match
	}
	return domain.UnknownYear
}

// parseEpisodes picks the play group carrying the most m3u8 links. Entries
// look like "name$url" joined by '#', groups are joined by "$$$".
func parseEpisodes(playURL string) []string {
	playURL = strings.TrimSpace(playURL)
	if playURL == "" {
		return nil
	}
	var best, first []string
	bestHLS := 0
	for i, group := range strings.Split(playURL, "$$$") {
		urls := make([]string, 0, 8)
		hls := 0
		for _, entry := range strings.Split(group, "#") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			link := entry
			if idx := strings.LastIndex(entry, "$"); idx >= 0 {
				link = strings.TrimSpace(entry[idx+1:])
			}
			if link == "" {
				continue
			}
			urls = append(urls, link)
			if strings.Contains(strings.ToLower(link), ".m3u8") {
				hls++
			}
		}
		if i == 0 {
			first = urls
		}
		if hls > bestHLS {
			best, bestHLS = urls, hls
		}
	}
	if bestHLS == 0 {
		return first
	}
	return best
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	newlineRunPattern = regexp.MustCompile(`\n+`)
	blankRunPattern   = regexp.MustCompile(`[ \t]+`)
)

// cleanHTMLText turns tags into line breaks and collapses whitespace while
// keeping paragraph boundaries.
func cleanHTMLText(raw string) string {
	if raw == "" {
		return ""
	}
	value := tagPattern.ReplaceAllString(raw, "\n")
	value = newlineRunPattern.ReplaceAllString(value, "\n")
	value = blankRunPattern.ReplaceAllString(value, " ")
	value = strings.Trim(value, "\n")
	value = strings.ReplaceAll(value, "&nbsp;", " ")
	return strings.TrimSpace(value)
}

func toResult(src Source, item apiItem) (domain.SearchResultItem, bool) {
	id := strings.TrimSpace(string(item.VodID))
	title := strings.TrimSpace(item.VodName)
	if id == "" || title == "" {
		return domain.SearchResultItem{}, false
	}
	return domain.SearchResultItem{
		ID:         id,
		Title:      title,
		Poster:     strings.TrimSpace(item.VodPic),
		Year:       normalizeYear(string(item.VodYear)),
		Episodes:   parseEpisodes(item.VodPlayURL),
		Source:     src.Key,
		SourceName: src.Name,
		DoubanID:   int(item.VodDoubanID),
		TypeName:   strings.TrimSpace(item.TypeName),
		Class:      strings.TrimSpace(item.VodClass),
		Desc:       cleanHTMLText(item.VodContent),
	}, true
}
