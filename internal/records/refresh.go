package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"vodstream/searchservice/internal/domain"
)

const (
	detailMaxTries       = 3
	detailMaxElapsedTime = 20 * time.Second
)

// DetailSource looks up the current version of an item on its source.
type DetailSource interface {
	Enabled(key string) bool
	Detail(ctx context.Context, sourceKey, id string) (domain.SearchResultItem, error)
}

// Refresher walks every play record and bumps TotalEpisodes when the source
// now lists more episodes than the record knows about.
type Refresher struct {
	records *Service
	details DetailSource
	backoff func() backoff.BackOff
	now     func() time.Time
}

type RefresherOption func(*Refresher)

// WithRetryBackOff replaces the exponential back-off used between detail
// fetch attempts.
func WithRetryBackOff(factory func() backoff.BackOff) RefresherOption {
	return func(r *Refresher) {
		r.backoff = factory
	}
}

func NewRefresher(records *Service, details DetailSource, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		records: records,
		details: details,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Refresher) Refresh(ctx context.Context) (domain.RefreshReport, error) {
	all, err := r.records.plays.All(ctx)
	if err != nil {
		return domain.RefreshReport{}, fmt.Errorf("load play records: %w", err)
	}
	if len(all) == 0 {
		return domain.RefreshReport{Message: "no play records"}, nil
	}

	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	report := domain.RefreshReport{Total: len(keys), Messages: make([]string, 0, len(keys))}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		record := all[key]
		message, outcome := r.refreshOne(ctx, key, record)
		report.Messages = append(report.Messages, message)
		switch outcome {
		case outcomeUpdated:
			report.Updated++
		case outcomeFailed:
			report.Failed++
		}
	}

	if report.Updated > 0 {
		if err := r.records.publishPlayRecords(ctx); err != nil {
			slog.Warn("play records refresh not published", slog.String("error", err.Error()))
		}
	}
	slog.Info("play records refreshed",
		slog.Int("total", report.Total),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

type refreshOutcome int

const (
	outcomeUnchanged refreshOutcome = iota
	outcomeUpdated
	outcomeFailed
)

func (r *Refresher) refreshOne(ctx context.Context, key string, record domain.PlayRecord) (string, refreshOutcome) {
	source, id, ok := domain.SplitRecordKey(key)
	if !ok || !r.details.Enabled(source) {
		return record.Title + ": invalid source", outcomeFailed
	}

	detail, err := r.fetchDetail(ctx, source, id)
	if err != nil || len(detail.Episodes) == 0 {
		if err != nil {
			slog.Debug("play record detail failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return record.Title + ": fetch failed", outcomeFailed
	}

	newTotal := len(detail.Episodes)
	if newTotal <= record.TotalEpisodes {
		return record.Title + ": no new episodes", outcomeUnchanged
	}

	oldTotal := record.TotalEpisodes
	record.TotalEpisodes = newTotal
	record.SaveTime = r.now().UnixMilli()
	if err := r.records.plays.Save(ctx, key, record); err != nil {
		slog.Warn("play record save failed", slog.String("key", key), slog.String("error", err.Error()))
		return record.Title + ": fetch failed", outcomeFailed
	}
	return fmt.Sprintf("%s: %d → %d", record.Title, oldTotal, newTotal), outcomeUpdated
}

// fetchDetail retries transient failures. A missing item is permanent.
func (r *Refresher) fetchDetail(ctx context.Context, source, id string) (domain.SearchResultItem, error) {
	operation := func() (domain.SearchResultItem, error) {
		item, err := r.details.Detail(ctx, source, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
				return domain.SearchResultItem{}, backoff.Permanent(err)
			}
			return domain.SearchResultItem{}, err
		}
		return item, nil
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(detailMaxTries),
		backoff.WithMaxElapsedTime(detailMaxElapsedTime),
	)
}
