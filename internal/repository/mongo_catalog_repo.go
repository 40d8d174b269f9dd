package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/eventexplorer/internal/model"
)

type weatherDoc struct {
	Temp      string     `bson:"temp"`
	Condition string     `bson:"condition"`
	FetchedAt *time.Time `bson:"fetchedAt,omitempty"`
}

type catalogDoc struct {
	ID          string      `bson:"_id"`
	Title       string      `bson:"title"`
	Date        string      `bson:"date"`
	ImageURL    string      `bson:"imageUrl"`
	Location    string      `bson:"location"`
	Category    string      `bson:"category"`
	Price       string      `bson:"price,omitempty"`
	Description string      `bson:"description,omitempty"`
	Weather     *weatherDoc `bson:"weather,omitempty"`
	SourceID    string      `bson:"sourceId,omitempty"`
	GUID        string      `bson:"guid,omitempty"`
	Link        string      `bson:"link,omitempty"`
	CreatedAt   time.Time   `bson:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt"`
}

func newWeatherDoc(w *model.WeatherSnapshot) *weatherDoc {
	if w == nil {
		return nil
	}
	return &weatherDoc{Temp: w.Temp, Condition: w.Condition, FetchedAt: w.FetchedAt}
}

func newCatalogDoc(e *model.CatalogEvent) catalogDoc {
	return catalogDoc{
		ID:          e.ID,
		Title:       e.Title,
		Date:        e.Date,
		ImageURL:    e.ImageURL,
		Location:    e.Location,
		Category:    e.Category,
		Price:       e.Price,
		Description: e.Description,
		Weather:     newWeatherDoc(e.Weather),
		SourceID:    e.SourceID,
		GUID:        e.GUID,
		Link:        e.Link,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (d catalogDoc) toModel() *model.CatalogEvent {
	e := &model.CatalogEvent{
		ID:          d.ID,
		Title:       d.Title,
		Date:        d.Date,
		ImageURL:    d.ImageURL,
		Location:    d.Location,
		Category:    d.Category,
		Price:       d.Price,
		Description: d.Description,
		SourceID:    d.SourceID,
		GUID:        d.GUID,
		Link:        d.Link,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Weather != nil {
		e.Weather = &model.WeatherSnapshot{
			Temp:      d.Weather.Temp,
			Condition: d.Weather.Condition,
			FetchedAt: d.Weather.FetchedAt,
		}
	}
	return e
}

// MongoCatalogRepo はMongoDBを使用したカタログイベントリポジトリ。
type MongoCatalogRepo struct {
	col *mongo.Collection
}

// NewMongoCatalogRepo はMongoCatalogRepoを生成する。
func NewMongoCatalogRepo(db *mongo.Database) *MongoCatalogRepo {
	return &MongoCatalogRepo{col: db.Collection(mongoCatalogCollection)}
}

func (r *MongoCatalogRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.CatalogEvent, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find catalog events: %w", err)
	}
	defer cur.Close(ctx)

	events := []*model.CatalogEvent{}
	for cur.Next(ctx) {
		var doc catalogDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode catalog event: %w", err)
		}
		events = append(events, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("catalog events cursor: %w", err)
	}
	return events, nil
}

// List は絞り込み条件に一致するイベントを作成日時の昇順で返す。
func (r *MongoCatalogRepo) List(ctx context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(filter.Category) + "$", Options: "i"}
	}
	if filter.Keyword != "" {
		kw := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Keyword), Options: "i"}
		query["$or"] = bson.A{bson.M{"title": kw}, bson.M{"location": kw}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, query, opts)
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *MongoCatalogRepo) FindByID(ctx context.Context, id string) (*model.CatalogEvent, error) {
	var doc catalogDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find catalog event: %w", err)
	}
	return doc.toModel(), nil
}

// Count はイベント数を返す。
func (r *MongoCatalogRepo) Count(ctx context.Context) (int, error) {
	n, err := r.col.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count catalog events: %w", err)
	}
	return int(n), nil
}

// Create はイベントを作成する。
func (r *MongoCatalogRepo) Create(ctx context.Context, event *model.CatalogEvent) error {
	_, err := r.col.InsertOne(ctx, newCatalogDoc(event))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert catalog event: %w", err)
	}
	return nil
}

// Update はイベントを部分更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *MongoCatalogRepo) Update(ctx context.Context, id string, update model.CatalogEventUpdate, now time.Time) (*model.CatalogEvent, error) {
	set := bson.M{"updatedAt": now}
	for field, v := range map[string]*string{
		"title":       update.Title,
		"date":        update.Date,
		"imageUrl":    update.ImageURL,
		"location":    update.Location,
		"category":    update.Category,
		"price":       update.Price,
		"description": update.Description,
	} {
		if v != nil {
			set[field] = *v
		}
	}
	if update.Weather != nil {
		set["weather"] = newWeatherDoc(update.Weather)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc catalogDoc
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update catalog event: %w", err)
	}
	return doc.toModel(), nil
}

// Delete は指定IDのイベントを削除する。
func (r *MongoCatalogRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete catalog event: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedIfEmpty はイベントが1件もない場合に限り一括登録する。
// シードのIDは固定値のため、同時実行で競合した側は重複キーエラーとなり登録済みとして扱う。
func (r *MongoCatalogRepo) SeedIfEmpty(ctx context.Context, events []*model.CatalogEvent) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("count catalog events: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	docs := make([]any, 0, len(events))
	for _, e := range events {
		docs = append(docs, newCatalogDoc(e))
	}
	_, err = r.col.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert seed events: %w", err)
	}
	return true, nil
}

// UpsertFromSource はフィード由来のイベントを(sourceId, guid)で照合してUPSERTする。
func (r *MongoCatalogRepo) UpsertFromSource(ctx context.Context, e *model.CatalogEvent) (bool, error) {
	set := bson.M{
		"title":       e.Title,
		"date":        e.Date,
		"description": e.Description,
		"link":        e.Link,
		"updatedAt":   e.UpdatedAt,
	}
	setOnInsert := bson.M{
		"_id":       e.ID,
		"location":  e.Location,
		"category":  e.Category,
		"createdAt": e.CreatedAt,
	}
	if e.ImageURL != "" {
		set["imageUrl"] = e.ImageURL
	} else {
		setOnInsert["imageUrl"] = ""
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"sourceId": e.SourceID, "guid": e.GUID},
		bson.M{"$set": set, "$setOnInsert": setOnInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("upsert feed event: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// ListNeedingWeather は天気の取得・更新が必要なイベントを返す。
// 昇順ソートではfetchedAt未設定のドキュメントが先頭に並ぶ。
func (r *MongoCatalogRepo) ListNeedingWeather(ctx context.Context, staleBefore time.Time, limit int) ([]*model.CatalogEvent, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"weather.fetchedAt": bson.M{"$exists": false}},
		bson.M{"weather.fetchedAt": nil},
		bson.M{"weather.fetchedAt": bson.M{"$lt": staleBefore}},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "weather.fetchedAt", Value: 1}, {Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

// UpdateWeather はイベントの天気スナップショットを更新する。
func (r *MongoCatalogRepo) UpdateWeather(ctx context.Context, id string, w model.WeatherSnapshot) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"weather":   newWeatherDoc(&w),
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update weather: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type categoryDoc struct {
	Name     string `bson:"_id"`
	Position int64  `bson:"position"`
}

// MongoCategoryRepo はMongoDBを使用したカテゴリリポジトリ。
// カテゴリ名を_idとして一意性を保証する。
type MongoCategoryRepo struct {
	col *mongo.Collection
}

// NewMongoCategoryRepo はMongoCategoryRepoを生成する。
func NewMongoCategoryRepo(db *mongo.Database) *MongoCategoryRepo {
	return &MongoCategoryRepo{col: db.Collection(mongoCategoriesCollection)}
}

// List はカテゴリ名を登録順に返す。
func (r *MongoCategoryRepo) List(ctx context.Context) ([]string, error) {
	cur, err := r.col.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer cur.Close(ctx)

	names := []string{}
	for cur.Next(ctx) {
		var doc categoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode category: %w", err)
		}
		names = append(names, doc.Name)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("categories cursor: %w", err)
	}
	return names, nil
}

// Add はカテゴリを追加する。
func (r *MongoCategoryRepo) Add(ctx context.Context, name string) error {
	_, err := r.col.InsertOne(ctx, categoryDoc{Name: name, Position: time.Now().UnixNano()})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// Delete はカテゴリを削除する。
func (r *MongoCategoryRepo) Delete(ctx context.Context, name string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedIfEmpty はカテゴリが1件もない場合に限り登録する。
func (r *MongoCategoryRepo) SeedIfEmpty(ctx context.Context, names []string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	docs := make([]any, 0, len(names))
	for i, name := range names {
		docs = append(docs, categoryDoc{Name: name, Position: int64(i)})
	}
	_, err = r.col.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert seed categories: %w", err)
	}
	return true, nil
}

// compile-time interface check
var (
	_ CatalogRepository  = (*MongoCatalogRepo)(nil)
	_ CategoryRepository = (*MongoCategoryRepo)(nil)
)
