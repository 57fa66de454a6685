package probe

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindMaster
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URL       string
	Bandwidth int64
	Width     int
	Height    int
	Codecs    string
}

func (v Variant) HasResolution() bool {
	return v.Width > 0 || v.Height > 0
}

func (v Variant) Pixels() int {
	return v.Width * v.Height
}

// segment is one media URI together with its position in the playlist.
type segment struct {
	URL      string
	Sequence int
	Duration float64
}

var (
	bandwidthPattern  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionPattern = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)
	codecsPattern     = regexp.MustCompile(`CODECS="([^"]+)"`)
)

// Classify reports master when the text lists variants and no media
// segments, media when it has #EXTINF entries.
func Classify(text string) Kind {
	hasStreamInf := strings.Contains(text, "#EXT-X-STREAM-INF")
	hasExtInf := strings.Contains(text, "#EXTINF")
	switch {
	case hasStreamInf && !hasExtInf:
		return KindMaster
	case hasExtInf:
		return KindMedia
	default:
		return KindUnknown
	}
}

// ParseMaster extracts variants. The URI is the line right after each
// #EXT-X-STREAM-INF tag and is resolved against base; a tag not followed by
// a URI line is skipped.
func ParseMaster(text string, base *url.URL) []Variant {
	lines := splitLines(text)
	var variants []Variant
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		next := lines[i+1]
		if next == "" || strings.HasPrefix(next, "#") {
			continue
		}
		resolved, ok := resolveURI(base, next)
		if !ok {
			continue
		}

		attrs := strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")
		variant := Variant{URL: resolved}
		if m := bandwidthPattern.FindStringSubmatch(attrs); m != nil {
			variant.Bandwidth, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m := resolutionPattern.FindStringSubmatch(attrs); m != nil {
			variant.Width, _ = strconv.Atoi(m[1])
			variant.Height, _ = strconv.Atoi(m[2])
		}
		if m := codecsPattern.FindStringSubmatch(attrs); m != nil {
			variant.Codecs = m[1]
		}
		variants = append(variants, variant)
		i++
	}
	return variants
}

// BestVariant picks the largest pixel area among variants that declare a
// resolution, else the highest bandwidth. Ties keep the earlier entry.
func BestVariant(variants []Variant) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	best := -1
	for i, v := range variants {
		if !v.HasResolution() {
			continue
		}
		if best < 0 || v.Pixels() > variants[best].Pixels() {
			best = i
		}
	}
	if best >= 0 {
		return variants[best], true
	}

	best = 0
	for i, v := range variants[1:] {
		if v.Bandwidth > variants[best].Bandwidth {
			best = i + 1
		}
	}
	return variants[best], true
}

// ExtractResolution returns the first RESOLUTION=WxH found anywhere in text.
func ExtractResolution(text string) (width, height int, ok bool) {
	m := resolutionPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	return width, height, true
}

func parseSegments(text string, base *url.URL) []segment {
	var (
		segments     []segment
		nextDuration float64
		sawExtInf    bool
	)
	for _, line := range splitLines(text) {
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			durStr := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.IndexByte(durStr, ','); idx >= 0 {
				durStr = durStr[:idx]
			}
			nextDuration, _ = strconv.ParseFloat(strings.TrimSpace(durStr), 64)
			sawExtInf = true
		case line == "" || strings.HasPrefix(line, "#"):
		case sawExtInf:
			if resolved, ok := resolveURI(base, line); ok {
				segments = append(segments, segment{
					URL:      resolved,
					Sequence: len(segments),
					Duration: nextDuration,
				})
			}
			nextDuration = 0
			sawExtInf = false
		}
	}
	return segments
}

func resolveURI(base *url.URL, raw string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if base == nil {
		if !ref.IsAbs() {
			return "", false
		}
		return ref.String(), true
	}
	return base.ResolveReference(ref).String(), true
}

func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return lines
}
