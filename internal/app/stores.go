package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/eventexplorer/internal/config"
	"github.com/hitoshi/eventexplorer/internal/database"
	"github.com/hitoshi/eventexplorer/internal/handler"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// stores はSTORE_DRIVERに応じて選択したリポジトリ一式。
type stores struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	events     repository.CatalogRepository
	categories repository.CategoryRepository
	sources    repository.FeedSourceRepository

	// pinger はヘルスチェック用の疎通確認。インメモリの場合はnil。
	pinger handler.Pinger
	close  func()
}

// openStores はSTORE_DRIVERに応じてストレージに接続し、リポジトリを構築する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return openPostgresStores(ctx, cfg)
	case config.StoreDriverMongo:
		return openMongoStores(ctx, cfg)
	case config.StoreDriverMemory:
		slog.Warn("in-memory store selected; data is lost on restart")
		return &stores{
			users:      repository.NewMemoryUserRepo(),
			sessions:   repository.NewMemorySessionRepo(),
			events:     repository.NewMemoryCatalogRepo(),
			categories: repository.NewMemoryCategoryRepo(),
			sources:    repository.NewMemoryFeedSourceRepo(),
			close:      func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

func openPostgresStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("driver", cfg.StoreDriver))

	return &stores{
		users:      repository.NewPostgresUserRepo(db),
		sessions:   repository.NewPostgresSessionRepo(db),
		events:     repository.NewPostgresCatalogRepo(db),
		categories: repository.NewPostgresCategoryRepo(db),
		sources:    repository.NewPostgresFeedSourceRepo(db),
		pinger:     db,
		close:      func() { db.Close() },
	}, nil
}

func openMongoStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	client, err := database.OpenMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.MongoDatabase)

	if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", cfg.StoreDriver),
		slog.String("database", cfg.MongoDatabase),
	)

	return &stores{
		users:      repository.NewMongoUserRepo(db),
		sessions:   repository.NewMongoSessionRepo(db),
		events:     repository.NewMongoCatalogRepo(db),
		categories: repository.NewMongoCategoryRepo(db),
		sources:    repository.NewMongoFeedSourceRepo(db),
		pinger: handler.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}),
		close: func() { _ = client.Disconnect(context.Background()) },
	}, nil
}
