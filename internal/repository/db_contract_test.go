package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/eventexplorer/internal/database"
)

// PostgreSQL / MongoDB実装の契約テスト。
// TEST_DATABASE_URL / TEST_MONGO_URI に接続できない場合はスキップする。

func TestPostgresRepositories_Contract(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	runRepositoryContract(t, func(t *testing.T) repoSet {
		truncatePostgres(t, db)
		return repoSet{
			users:      NewPostgresUserRepo(db),
			sessions:   NewPostgresSessionRepo(db),
			catalog:    NewPostgresCatalogRepo(db),
			categories: NewPostgresCategoryRepo(db),
			sources:    NewPostgresFeedSourceRepo(db),
		}
	})
}

func truncatePostgres(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE sessions, users, catalog_events, feed_sources, categories RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestMongoRepositories_Contract(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI が未設定のためスキップ")
	}
	ctx := context.Background()
	client, err := database.OpenMongo(ctx, uri)
	if err != nil {
		t.Skipf("テスト用MongoDBに接続できません（スキップ）: %v", err)
	}
	defer client.Disconnect(ctx)

	runRepositoryContract(t, func(t *testing.T) repoSet {
		db := freshMongoDatabase(t, client)
		return repoSet{
			users:      NewMongoUserRepo(db),
			sessions:   NewMongoSessionRepo(db),
			catalog:    NewMongoCatalogRepo(db),
			categories: NewMongoCategoryRepo(db),
			sources:    NewMongoFeedSourceRepo(db),
		}
	})
}

// freshMongoDatabase はサブテストごとに独立したデータベースを用意し、終了時に削除する。
func freshMongoDatabase(t *testing.T, client *mongo.Client) *mongo.Database {
	t.Helper()
	name := fmt.Sprintf("eventexplorer_test_%d", time.Now().UnixNano())
	name = strings.ReplaceAll(name, "-", "_")
	db := client.Database(name)
	if err := EnsureMongoIndexes(context.Background(), db); err != nil {
		t.Fatalf("EnsureMongoIndexes: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})
	return db
}
