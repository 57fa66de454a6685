package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/htmlindex"

	"vodstream/searchservice/internal/domain"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; vodstream-search/1.0)"
	maxResponseBytes   = 4 * 1024 * 1024
	maxErrorBodyBytes  = 2048
	maxConcurrentPages = 3
)

type Config struct {
	Source    Source
	UserAgent string
	Client    *http.Client
}

// Client queries one CMS-style source. It never retries; a failure is
// reported once as *domain.SourceQueryError.
type Client struct {
	source    Source
	client    *http.Client
	userAgent string
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "unexpected status"
	}
	return e.body
}

type pageResult struct {
	items     []domain.SearchResultItem
	pageCount int
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	src := cfg.Source
	if src.MaxPages <= 0 {
		src.MaxPages = 1
	}
	if src.Name == "" {
		src.Name = src.Key
	}
	return &Client{source: src, client: client, userAgent: userAgent}
}

func (c *Client) Key() string  { return c.source.Key }
func (c *Client) Name() string { return c.source.Name }

func (c *Client) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Key:     c.source.Key,
		Name:    c.source.Name,
		API:     c.source.API,
		Detail:  c.source.Detail,
		Enabled: !c.source.Disabled,
	}
}

func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResultItem, error) {
	query = strings.TrimSpace(query)
	first, err := c.fetchPage(ctx, url.Values{"ac": {"videolist"}, "wd": {query}}, 1)
	if err != nil {
		return nil, c.wrap("search", err)
	}

	items := first.items
	pages := min(first.pageCount, c.source.MaxPages)
	if pages <= 1 {
		return items, nil
	}

	extra := make([][]domain.SearchResultItem, pages-1)
	var g errgroup.Group
	g.SetLimit(maxConcurrentPages)
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			res, err := c.fetchPage(ctx, url.Values{"ac": {"videolist"}, "wd": {query}}, page)
			if err != nil {
				slog.Debug("source extra page failed",
					slog.String("source", c.source.Key),
					slog.Int("page", page),
					slog.String("error", err.Error()),
				)
				return nil
			}
			extra[page-2] = res.items
			return nil
		})
	}
	_ = g.Wait()
	for _, chunk := range extra {
		items = append(items, chunk...)
	}
	return items, nil
}

// Detail fetches a single item by id.
func (c *Client) Detail(ctx context.Context, id string) (domain.SearchResultItem, error) {
	id = strings.TrimSpace(id)
	res, err := c.fetchPage(ctx, url.Values{"ac": {"videolist"}, "ids": {id}}, 0)
	if err != nil {
		return domain.SearchResultItem{}, c.wrap("detail", err)
	}
	for _, item := range res.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.SearchResultItem{}, c.wrap("detail", domain.ErrNotFound)
}

func (c *Client) fetchPage(ctx context.Context, params url.Values, page int) (pageResult, error) {
	uri, err := url.Parse(c.source.API)
	if err != nil {
		return pageResult{}, fmt.Errorf("invalid api endpoint: %w", err)
	}
	query := uri.Query()
	for key, values := range params {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	if page > 1 {
		query.Set("pg", strconv.Itoa(page))
	}
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return pageResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return pageResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return pageResult{}, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pageResult{}, err
	}
	payload, err = decodeCharset(resp.Header.Get("Content-Type"), payload)
	if err != nil {
		return pageResult{}, err
	}

	parsed, err := parseAPIResponse(payload)
	if err != nil {
		return pageResult{}, fmt.Errorf("malformed payload: %w", err)
	}

	items := make([]domain.SearchResultItem, 0, len(parsed.List))
	for _, raw := range parsed.List {
		if item, ok := toResult(c.source, raw); ok {
			items = append(items, item)
		}
	}
	return pageResult{items: items, pageCount: int(parsed.PageCount)}, nil
}

func (c *Client) wrap(op string, err error) error {
	qerr := &domain.SourceQueryError{Source: c.source.Key, Op: op, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		qerr.StatusCode = se.code
	}
	return qerr
}

// decodeCharset converts non-UTF-8 bodies declared via Content-Type.
func decodeCharset(contentType string, payload []byte) ([]byte, error) {
	if contentType == "" {
		return payload, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return payload, nil
	}
	charset := strings.ToLower(strings.TrimSpace(params["charset"]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return payload, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return payload, nil
	}
	decoded, err := enc.NewDecoder().Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", charset, err)
	}
	return decoded, nil
}
