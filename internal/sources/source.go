package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source describes one upstream content API.
type Source struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	API      string  `json:"api"`
	Detail   string  `json:"detail,omitempty"`
	Disabled bool    `json:"disabled,omitempty"`
	MaxPages int     `json:"max_pages,omitempty"`
	RateRPS  float64 `json:"rate_rps,omitempty"`
}

type fileConfig struct {
	CacheTime int             `json:"cache_time"`
	APISite   json.RawMessage `json:"api_site"`
	Sources   []Source        `json:"sources"`
}

// LoadFile reads a sources config file. A missing file yields no sources.
func LoadFile(path string) ([]Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig accepts either {"api_site": {"key": {...}}} or
// {"sources": [{"key": ...}]}. Declaration order of api_site is kept.
func ParseConfig(data []byte) ([]Source, error) {
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode sources config: %w", err)
	}

	var out []Source
	if len(bytes.TrimSpace(cfg.APISite)) > 0 && !bytes.Equal(bytes.TrimSpace(cfg.APISite), []byte("null")) {
		sites, err := decodeOrderedSites(cfg.APISite)
		if err != nil {
			return nil, err
		}
		out = append(out, sites...)
	}
	out = append(out, cfg.Sources...)

	seen := make(map[string]struct{}, len(out))
	cleaned := make([]Source, 0, len(out))
	for _, src := range out {
		src.Key = strings.TrimSpace(src.Key)
		src.API = strings.TrimSpace(src.API)
		src.Name = strings.TrimSpace(src.Name)
		if src.Key == "" || src.API == "" {
			continue
		}
		if _, dup := seen[src.Key]; dup {
			continue
		}
		seen[src.Key] = struct{}{}
		if src.Name == "" {
			src.Name = src.Key
		}
		if src.MaxPages <= 0 {
			src.MaxPages = 1
		}
		cleaned = append(cleaned, src)
	}
	return cleaned, nil
}

func decodeOrderedSites(raw json.RawMessage) ([]Source, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode api_site: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("decode api_site: expected object")
	}
	var out []Source
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode api_site: %w", err)
		}
		key, _ := keyTok.(string)
		var src Source
		if err := dec.Decode(&src); err != nil {
			return nil, fmt.Errorf("decode api_site %q: %w", key, err)
		}
		if src.Key == "" {
			src.Key = key
		}
		out = append(out, src)
	}
	return out, nil
}
