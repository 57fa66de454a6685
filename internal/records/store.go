package records

import (
	"context"
	"errors"

	"vodstream/searchservice/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// MaxSearchHistory is how many keywords a history keeps.
const MaxSearchHistory = 20

// PlayRecordStore persists playback progress keyed by "source+id".
type PlayRecordStore interface {
	All(ctx context.Context) (map[string]domain.PlayRecord, error)
	Save(ctx context.Context, key string, record domain.PlayRecord) error
	Delete(ctx context.Context, key string) error
}

// SearchHistoryStore keeps recent keywords, newest first. Add moves an
// existing keyword to the front and trims to MaxSearchHistory.
type SearchHistoryStore interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, keyword string) error
	Delete(ctx context.Context, keyword string) error
	Clear(ctx context.Context) error
}

type FavoriteStore interface {
	IsFavorite(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string, favorite domain.Favorite) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]domain.Favorite, error)
}
