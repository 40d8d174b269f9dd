package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// MongoDBのコレクション名。
const (
	mongoUsersCollection       = "users"
	mongoSessionsCollection    = "sessions"
	mongoCatalogCollection     = "catalog_events"
	mongoCategoriesCollection  = "categories"
	mongoFeedSourcesCollection = "feed_sources"
)

// EnsureMongoIndexes は各コレクションのインデックスを作成する。既存のインデックスはそのまま維持される。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(mongoUsersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_email_unique"),
		},
		{
			Keys:    bson.D{{Key: "role", Value: 1}},
			Options: options.Index().SetName("users_role"),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	_, err = db.Collection(mongoSessionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetName("sessions_user_id"),
		},
		{
			// 期限切れセッションはMongoDBのTTLモニタが自動削除する
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("sessions_expires_at_ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("sessions indexes: %w", err)
	}

	_, err = db.Collection(mongoCatalogCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("catalog_created_at"),
		},
		{
			Keys: bson.D{{Key: "sourceId", Value: 1}, {Key: "guid", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("catalog_source_guid_unique").
				SetPartialFilterExpression(bson.M{"sourceId": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "weather.fetchedAt", Value: 1}},
			Options: options.Index().SetName("catalog_weather_fetched_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("catalog indexes: %w", err)
	}

	_, err = db.Collection(mongoFeedSourcesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "feedUrl", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("feed_sources_url_unique"),
		},
		{
			Keys:    bson.D{{Key: "fetchStatus", Value: 1}, {Key: "nextFetchAt", Value: 1}},
			Options: options.Index().SetName("feed_sources_due"),
		},
	})
	if err != nil {
		return fmt.Errorf("feed_sources indexes: %w", err)
	}
	return nil
}

type userDoc struct {
	ID           string         `bson:"_id"`
	Name         string         `bson:"name"`
	Email        string         `bson:"email"`
	PasswordHash string         `bson:"passwordHash"`
	Role         string         `bson:"role"`
	Favorites    []string       `bson:"favorites"`
	Tickets      []ticketRecord `bson:"tickets"`
	CreatedAt    time.Time      `bson:"createdAt"`
	UpdatedAt    time.Time      `bson:"updatedAt"`
}

func newUserDoc(u *model.User) userDoc {
	favorites := u.Favorites
	if favorites == nil {
		favorites = []string{}
	}
	return userDoc{
		ID:           u.ID,
		Name:         u.Name,
		Email:        strings.ToLower(u.Email),
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Favorites:    favorites,
		Tickets:      toTicketRecords(u.Tickets),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDoc) toModel() (*model.User, error) {
	tickets, err := fromTicketRecords(d.Tickets)
	if err != nil {
		return nil, err
	}
	favorites := d.Favorites
	if favorites == nil {
		favorites = []string{}
	}
	return &model.User{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         model.Role(d.Role),
		Favorites:    favorites,
		Tickets:      tickets,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
// メールアドレスは小文字に正規化して保存し、一意インデックスで重複を防ぐ。
type MongoUserRepo struct {
	col *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{col: db.Collection(mongoUsersCollection)}
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toModel()
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := r.findOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *MongoUserRepo) List(ctx context.Context) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	users := []*model.User{}
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		u, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list users cursor: %w", err)
	}
	return users, nil
}

// CountByRole は指定ロールのユーザー数を返す。
func (r *MongoUserRepo) CountByRole(ctx context.Context, role model.Role) (int, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"role": string(role)})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

// Create はユーザーを作成する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.col.InsertOne(ctx, newUserDoc(user))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Update はユーザーを部分更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *MongoUserRepo) Update(ctx context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error) {
	set := bson.M{"updatedAt": now}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Email != nil {
		set["email"] = strings.ToLower(*update.Email)
	}
	if update.PasswordHash != nil {
		set["passwordHash"] = *update.PasswordHash
	}
	if update.Role != nil {
		set["role"] = string(*update.Role)
	}

	u, err := r.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

func (r *MongoUserRepo) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*model.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toModel()
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MongoUserRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFavorite は$addToSetでイベントキーを追加する。
func (r *MongoUserRepo) AddFavorite(ctx context.Context, id, eventKey string) ([]string, error) {
	return r.mutateFavorites(ctx, id, bson.M{
		"$addToSet": bson.M{"favorites": eventKey},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
}

// RemoveFavorite は$pullでイベントキーを除去する。
func (r *MongoUserRepo) RemoveFavorite(ctx context.Context, id, eventKey string) ([]string, error) {
	return r.mutateFavorites(ctx, id, bson.M{
		"$pull": bson.M{"favorites": eventKey},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (r *MongoUserRepo) mutateFavorites(ctx context.Context, id string, update bson.M) ([]string, error) {
	u, err := r.findOneAndUpdate(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, fmt.Errorf("update favorites: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u.Favorites, nil
}

// AppendTickets は$pushでチケットを追加する。
func (r *MongoUserRepo) AppendTickets(ctx context.Context, id string, tickets []model.Ticket) (*model.User, error) {
	u, err := r.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"tickets": bson.M{"$each": toTicketRecords(tickets)}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return nil, fmt.Errorf("append tickets: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// SetTicketStatus は位置演算子でチケットの状態を変更する。
// requireCurrentは$elemMatchの条件に含めるため、判定と更新は1回の操作で行われる。
func (r *MongoUserRepo) SetTicketStatus(ctx context.Context, id, ticketID string, status, requireCurrent model.TicketStatus) (*model.User, error) {
	match := bson.M{"id": ticketID}
	if requireCurrent != "" {
		match["status"] = string(requireCurrent)
	}
	u, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "tickets": bson.M{"$elemMatch": match}},
		bson.M{"$set": bson.M{"tickets.$.status": string(status), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return nil, fmt.Errorf("set ticket status: %w", err)
	}
	if u != nil {
		return u, nil
	}
	return nil, r.explainTicketMiss(ctx, id, ticketID)
}

// DeleteTicket は$pullでチケットを削除する。
func (r *MongoUserRepo) DeleteTicket(ctx context.Context, id, ticketID string) (*model.User, error) {
	u, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "tickets.id": ticketID},
		bson.M{
			"$pull": bson.M{"tickets": bson.M{"id": ticketID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("delete ticket: %w", err)
	}
	if u != nil {
		return u, nil
	}
	return nil, r.explainTicketMiss(ctx, id, ticketID)
}

// explainTicketMiss は条件付き更新が一致しなかった理由を判定する。
func (r *MongoUserRepo) explainTicketMiss(ctx context.Context, id, ticketID string) error {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}
	if u.FindTicket(ticketID) == nil {
		return ErrTicketNotFound
	}
	return ErrTicketStatusConflict
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
