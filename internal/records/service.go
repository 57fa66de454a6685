package records

import (
	"context"
	"fmt"
	"strings"

	"vodstream/searchservice/internal/domain"
)

// Service is the facade the HTTP layer talks to. Every successful mutation
// publishes the new state of the affected collection on the bus.
type Service struct {
	plays     PlayRecordStore
	history   SearchHistoryStore
	favorites FavoriteStore
	bus       *Bus
}

func NewService(plays PlayRecordStore, history SearchHistoryStore, favorites FavoriteStore, bus *Bus) *Service {
	if plays == nil {
		plays = NewMemoryPlayRecords()
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	if favorites == nil {
		favorites = NewMemoryFavorites()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Service{plays: plays, history: history, favorites: favorites, bus: bus}
}

func (s *Service) Bus() *Bus { return s.bus }

// ---------------------------------------------------------------------------
// Search history
// ---------------------------------------------------------------------------

func (s *Service) History(ctx context.Context) ([]string, error) {
	return s.history.List(ctx)
}

func (s *Service) AddHistory(ctx context.Context, keyword string) ([]string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: empty keyword", ErrInvalidInput)
	}
	if err := s.history.Add(ctx, keyword); err != nil {
		return nil, err
	}
	return s.publishHistory(ctx)
}

// DeleteHistory removes one keyword, or clears the history when keyword is
// empty.
func (s *Service) DeleteHistory(ctx context.Context, keyword string) ([]string, error) {
	keyword = strings.TrimSpace(keyword)
	var err error
	if keyword == "" {
		err = s.history.Clear(ctx)
	} else {
		err = s.history.Delete(ctx, keyword)
	}
	if err != nil {
		return nil, err
	}
	return s.publishHistory(ctx)
}

func (s *Service) SuggestHistory(ctx context.Context, query string, limit int) ([]string, error) {
	keywords, err := s.history.List(ctx)
	if err != nil {
		return nil, err
	}
	return Suggest(keywords, query, limit), nil
}

func (s *Service) publishHistory(ctx context.Context) ([]string, error) {
	keywords, err := s.history.List(ctx)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(TopicSearchHistoryUpdated, keywords)
	return keywords, nil
}

// ---------------------------------------------------------------------------
// Play records
// ---------------------------------------------------------------------------

func (s *Service) PlayRecords(ctx context.Context) (map[string]domain.PlayRecord, error) {
	return s.plays.All(ctx)
}

func (s *Service) SavePlayRecord(ctx context.Context, key string, record domain.PlayRecord) error {
	if _, _, ok := domain.SplitRecordKey(key); !ok {
		return fmt.Errorf("%w: key must be source+id", ErrInvalidInput)
	}
	if err := s.plays.Save(ctx, key, record); err != nil {
		return err
	}
	return s.publishPlayRecords(ctx)
}

func (s *Service) DeletePlayRecord(ctx context.Context, key string) error {
	if err := s.plays.Delete(ctx, key); err != nil {
		return err
	}
	return s.publishPlayRecords(ctx)
}

func (s *Service) publishPlayRecords(ctx context.Context) error {
	all, err := s.plays.All(ctx)
	if err != nil {
		return err
	}
	s.bus.Publish(TopicPlayRecordsUpdated, all)
	return nil
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func (s *Service) Favorites(ctx context.Context) (map[string]domain.Favorite, error) {
	return s.favorites.All(ctx)
}

func (s *Service) IsFavorite(ctx context.Context, key string) (bool, error) {
	return s.favorites.IsFavorite(ctx, key)
}

func (s *Service) SaveFavorite(ctx context.Context, key string, favorite domain.Favorite) error {
	if _, _, ok := domain.SplitRecordKey(key); !ok {
		return fmt.Errorf("%w: key must be source+id", ErrInvalidInput)
	}
	if err := s.favorites.Save(ctx, key, favorite); err != nil {
		return err
	}
	return s.publishFavorites(ctx)
}

func (s *Service) DeleteFavorite(ctx context.Context, key string) error {
	if err := s.favorites.Delete(ctx, key); err != nil {
		return err
	}
	return s.publishFavorites(ctx)
}

func (s *Service) publishFavorites(ctx context.Context) error {
	all, err := s.favorites.All(ctx)
	if err != nil {
		return err
	}
	s.bus.Publish(TopicFavoritesUpdated, all)
	return nil
}
