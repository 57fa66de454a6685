package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/records"
)

const (
	playRecordsCollection   = "play_records"
	searchHistoryCollection = "search_history"
	favoritesCollection     = "favorites"
)

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes every repository relies on.
func EnsureIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	if _, err := db.Collection(searchHistoryCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	}); err != nil {
		return err
	}
	if _, err := db.Collection(playRecordsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "saveTime", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := db.Collection(favoritesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "saveTime", Value: -1}},
	})
	return err
}

// ---------------------------------------------------------------------------
// Play records
// ---------------------------------------------------------------------------

type playRecordDoc struct {
	ID            string `bson:"_id"`
	Title         string `bson:"title"`
	SourceName    string `bson:"sourceName"`
	Cover         string `bson:"cover"`
	Year          string `bson:"year"`
	Index         int    `bson:"index"`
	TotalEpisodes int    `bson:"totalEpisodes"`
	PlayTime      int    `bson:"playTime"`
	TotalTime     int    `bson:"totalTime"`
	SaveTime      int64  `bson:"saveTime"`
	SearchTitle   string `bson:"searchTitle"`
}

type PlayRecordRepository struct {
	collection *mongo.Collection
}

var _ records.PlayRecordStore = (*PlayRecordRepository)(nil)

func NewPlayRecordRepository(client *mongo.Client, dbName string) *PlayRecordRepository {
	return &PlayRecordRepository{collection: client.Database(dbName).Collection(playRecordsCollection)}
}

func (r *PlayRecordRepository) All(ctx context.Context) (map[string]domain.PlayRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "saveTime", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []playRecordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]domain.PlayRecord, len(docs))
	for _, doc := range docs {
		out[doc.ID] = playDocToRecord(doc)
	}
	return out, nil
}

func (r *PlayRecordRepository) Save(ctx context.Context, key string, record domain.PlayRecord) error {
	doc := playRecordToDoc(key, record)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *PlayRecordRepository) Delete(ctx context.Context, key string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func playRecordToDoc(key string, record domain.PlayRecord) playRecordDoc {
	return playRecordDoc{
		ID:            key,
		Title:         record.Title,
		SourceName:    record.SourceName,
		Cover:         record.Cover,
		Year:          record.Year,
		Index:         record.Index,
		TotalEpisodes: record.TotalEpisodes,
		PlayTime:      record.PlayTime,
		TotalTime:     record.TotalTime,
		SaveTime:      record.SaveTime,
		SearchTitle:   record.SearchTitle,
	}
}

func playDocToRecord(doc playRecordDoc) domain.PlayRecord {
	return domain.PlayRecord{
		Title:         doc.Title,
		SourceName:    doc.SourceName,
		Cover:         doc.Cover,
		Year:          doc.Year,
		Index:         doc.Index,
		TotalEpisodes: doc.TotalEpisodes,
		PlayTime:      doc.PlayTime,
		TotalTime:     doc.TotalTime,
		SaveTime:      doc.SaveTime,
		SearchTitle:   doc.SearchTitle,
	}
}

// ---------------------------------------------------------------------------
// Search history
// ---------------------------------------------------------------------------

type historyDoc struct {
	Keyword   string `bson:"_id"`
	UpdatedAt int64  `bson:"updatedAt"`
}

type SearchHistoryRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ records.SearchHistoryStore = (*SearchHistoryRepository)(nil)

func NewSearchHistoryRepository(client *mongo.Client, dbName string) *SearchHistoryRepository {
	return &SearchHistoryRepository{
		collection: client.Database(dbName).Collection(searchHistoryCollection),
		now:        time.Now,
	}
}

func (r *SearchHistoryRepository) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(records.MaxSearchHistory)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return historyKeywords(docs), nil
}

// Add upserts the keyword with a fresh timestamp so it sorts first, then
// drops everything beyond MaxSearchHistory.
func (r *SearchHistoryRepository) Add(ctx context.Context, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": keyword},
		bson.M{"$set": bson.M{"updatedAt": r.now().UnixNano()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}
	return r.trim(ctx)
}

func (r *SearchHistoryRepository) trim(ctx context.Context) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(records.MaxSearchHistory).
		SetProjection(bson.M{"_id": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var stale []historyDoc
	if err := cursor.All(ctx, &stale); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	_, err = r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": historyKeywords(stale)}})
	return err
}

func (r *SearchHistoryRepository) Delete(ctx context.Context, keyword string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": keyword})
	return err
}

func (r *SearchHistoryRepository) Clear(ctx context.Context) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{})
	return err
}

func historyKeywords(docs []historyDoc) []string {
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Keyword)
	}
	return out
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

type favoriteDoc struct {
	ID            string `bson:"_id"`
	Title         string `bson:"title"`
	SourceName    string `bson:"sourceName"`
	Cover         string `bson:"cover"`
	Year          string `bson:"year"`
	TotalEpisodes int    `bson:"totalEpisodes"`
	SaveTime      int64  `bson:"saveTime"`
	SearchTitle   string `bson:"searchTitle"`
}

type FavoriteRepository struct {
	collection *mongo.Collection
}

var _ records.FavoriteStore = (*FavoriteRepository)(nil)

func NewFavoriteRepository(client *mongo.Client, dbName string) *FavoriteRepository {
	return &FavoriteRepository{collection: client.Database(dbName).Collection(favoritesCollection)}
}

func (r *FavoriteRepository) IsFavorite(ctx context.Context, key string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"_id": key}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *FavoriteRepository) Save(ctx context.Context, key string, favorite domain.Favorite) error {
	doc := favoriteToDoc(key, favorite)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *FavoriteRepository) Delete(ctx context.Context, key string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *FavoriteRepository) All(ctx context.Context) (map[string]domain.Favorite, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "saveTime", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []favoriteDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Favorite, len(docs))
	for _, doc := range docs {
		out[doc.ID] = favoriteDocToFavorite(doc)
	}
	return out, nil
}

func favoriteToDoc(key string, favorite domain.Favorite) favoriteDoc {
	return favoriteDoc{
		ID:            key,
		Title:         favorite.Title,
		SourceName:    favorite.SourceName,
		Cover:         favorite.Cover,
		Year:          favorite.Year,
		TotalEpisodes: favorite.TotalEpisodes,
		SaveTime:      favorite.SaveTime,
		SearchTitle:   favorite.SearchTitle,
	}
}

func favoriteDocToFavorite(doc favoriteDoc) domain.Favorite {
	return domain.Favorite{
		Title:         doc.Title,
		SourceName:    doc.SourceName,
		Cover:         doc.Cover,
		Year:          doc.Year,
		TotalEpisodes: doc.TotalEpisodes,
		SaveTime:      doc.SaveTime,
		SearchTitle:   doc.SearchTitle,
	}
}
