package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/eventexplorer/internal/model"
)

type feedSourceDoc struct {
	ID                string    `bson:"_id"`
	FeedURL           string    `bson:"feedUrl"`
	SiteURL           string    `bson:"siteUrl,omitempty"`
	Title             string    `bson:"title"`
	Category          string    `bson:"category"`
	ETag              string    `bson:"etag,omitempty"`
	LastModified      string    `bson:"lastModified,omitempty"`
	FetchStatus       string    `bson:"fetchStatus"`
	ConsecutiveErrors int       `bson:"consecutiveErrors"`
	ErrorMessage      string    `bson:"errorMessage,omitempty"`
	NextFetchAt       time.Time `bson:"nextFetchAt"`
	CreatedAt         time.Time `bson:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

func (d feedSourceDoc) toModel() *model.FeedSource {
	return &model.FeedSource{
		ID:                d.ID,
		FeedURL:           d.FeedURL,
		SiteURL:           d.SiteURL,
		Title:             d.Title,
		Category:          d.Category,
		ETag:              d.ETag,
		LastModified:      d.LastModified,
		FetchStatus:       model.FetchStatus(d.FetchStatus),
		ConsecutiveErrors: d.ConsecutiveErrors,
		ErrorMessage:      d.ErrorMessage,
		NextFetchAt:       d.NextFetchAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// MongoFeedSourceRepo はMongoDBを使用した取り込み元フィードリポジトリ。
type MongoFeedSourceRepo struct {
	col *mongo.Collection
}

// NewMongoFeedSourceRepo はMongoFeedSourceRepoを生成する。
func NewMongoFeedSourceRepo(db *mongo.Database) *MongoFeedSourceRepo {
	return &MongoFeedSourceRepo{col: db.Collection(mongoFeedSourcesCollection)}
}

func (r *MongoFeedSourceRepo) findOne(ctx context.Context, filter bson.M) (*model.FeedSource, error) {
	var doc feedSourceDoc
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find feed source: %w", err)
	}
	return doc.toModel(), nil
}

func (r *MongoFeedSourceRepo) find(ctx context.Context, filter bson.M, sortKey string) ([]*model.FeedSource, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list feed sources: %w", err)
	}
	defer cur.Close(ctx)

	sources := []*model.FeedSource{}
	for cur.Next(ctx) {
		var doc feedSourceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode feed source: %w", err)
		}
		sources = append(sources, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("feed sources cursor: %w", err)
	}
	return sources, nil
}

// FindByID は指定IDの取り込み元を取得する。
func (r *MongoFeedSourceRepo) FindByID(ctx context.Context, id string) (*model.FeedSource, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByFeedURL はフィードURLで取り込み元を検索する。
func (r *MongoFeedSourceRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.FeedSource, error) {
	return r.findOne(ctx, bson.M{"feedUrl": feedURL})
}

// List は全取り込み元を作成日時の昇順で返す。
func (r *MongoFeedSourceRepo) List(ctx context.Context) ([]*model.FeedSource, error) {
	return r.find(ctx, bson.M{}, "createdAt")
}

// Create は取り込み元を作成する。
func (r *MongoFeedSourceRepo) Create(ctx context.Context, src *model.FeedSource) error {
	_, err := r.col.InsertOne(ctx, feedSourceDoc{
		ID:                src.ID,
		FeedURL:           src.FeedURL,
		SiteURL:           src.SiteURL,
		Title:             src.Title,
		Category:          src.Category,
		ETag:              src.ETag,
		LastModified:      src.LastModified,
		FetchStatus:       string(src.FetchStatus),
		ConsecutiveErrors: src.ConsecutiveErrors,
		ErrorMessage:      src.ErrorMessage,
		NextFetchAt:       src.NextFetchAt,
		CreatedAt:         src.CreatedAt,
		UpdatedAt:         src.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert feed source: %w", err)
	}
	return nil
}

// Delete は取り込み元を削除する。取り込み済みイベントはカタログに残る。
func (r *MongoFeedSourceRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete feed source: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueForFetch はフェッチ対象の取り込み元を返す。
func (r *MongoFeedSourceRepo) ListDueForFetch(ctx context.Context, now time.Time) ([]*model.FeedSource, error) {
	return r.find(ctx, bson.M{
		"fetchStatus": string(model.FetchStatusActive),
		"nextFetchAt": bson.M{"$lte": now},
	}, "nextFetchAt")
}

// UpdateFetchState はフェッチ状態を更新する。
func (r *MongoFeedSourceRepo) UpdateFetchState(ctx context.Context, src *model.FeedSource) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": src.ID}, bson.M{"$set": bson.M{
		"fetchStatus":       string(src.FetchStatus),
		"consecutiveErrors": src.ConsecutiveErrors,
		"errorMessage":      src.ErrorMessage,
		"nextFetchAt":       src.NextFetchAt,
		"etag":              src.ETag,
		"lastModified":      src.LastModified,
		"title":             src.Title,
		"siteUrl":           src.SiteURL,
		"updatedAt":         time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update fetch state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeedSourceRepository = (*MongoFeedSourceRepo)(nil)
