package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/eventexplorer/internal/auth"
	"github.com/hitoshi/eventexplorer/internal/cache"
	"github.com/hitoshi/eventexplorer/internal/catalog"
	"github.com/hitoshi/eventexplorer/internal/config"
	"github.com/hitoshi/eventexplorer/internal/database"
	"github.com/hitoshi/eventexplorer/internal/discovery"
	"github.com/hitoshi/eventexplorer/internal/feed"
	"github.com/hitoshi/eventexplorer/internal/handler"
	"github.com/hitoshi/eventexplorer/internal/logger"
	"github.com/hitoshi/eventexplorer/internal/metrics"
	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/provider/maps"
	"github.com/hitoshi/eventexplorer/internal/provider/ticketmaster"
	weatherprovider "github.com/hitoshi/eventexplorer/internal/provider/weather"
	"github.com/hitoshi/eventexplorer/internal/repository"
	"github.com/hitoshi/eventexplorer/internal/security"
	"github.com/hitoshi/eventexplorer/internal/ticket"
	"github.com/hitoshi/eventexplorer/internal/user"
	"github.com/hitoshi/eventexplorer/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/eventexplorer/internal/worker/fetch"
	"github.com/hitoshi/eventexplorer/internal/worker/weather"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandSeed:
		return runSeed(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストレージ接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 認証・ユーザー
	tokens := auth.NewTokenIssuer(cfg.SessionSecret)
	authService := auth.NewService(st.users, st.sessions, tokens, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BcryptCost:    cfg.BcryptCost,
	})
	authService.SetLoginRecorder(collector)
	userService := user.NewService(st.users, st.sessions, authService, cfg.BcryptCost)
	ticketService := ticket.NewService(st.users, st.events, collector)

	// 4. カタログ
	catalogService := catalog.NewService(st.events, st.categories, security.NewEventSanitizer())
	if err := bootstrap(ctx, cfg, authService, catalogService); err != nil {
		return err
	}
	sourceService := feed.NewSourceService(st.sources, feed.NewDetector(security.NewSSRFGuard()))

	// 5. 外部プロバイダー
	discoveryService := newDiscoveryService(ctx, cfg, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:      st.sessions,
		UserFinder:         st.users,
		TokenParser:        tokens,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:  rateLimiter,
		Logger:       slog.Default(),
		HTTPRecorder: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService:      userService,
		TicketService:    ticketService,
		CatalogService:   catalogService,
		SourceService:    sourceService,
		DiscoveryService: discoveryService,

		Pinger:         st.pinger,
		MetricsHandler: metrics.Handler(registry),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// bootstrap は管理者ユーザーと初期カタログを準備する。
func bootstrap(ctx context.Context, cfg *config.Config, authService *auth.Service, catalogService *catalog.Service) error {
	created, err := authService.EnsureAdmin(ctx, auth.AdminBootstrap{
		Name:     cfg.AdminName,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %w", err)
	}
	if created {
		slog.Info("bootstrap admin user created", slog.String("email", cfg.AdminEmail))
	}

	if _, err := catalogService.InitializeEvents(ctx); err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	return nil
}

// newDiscoveryService は外部プロバイダーとキャッシュを組み立てる。
// REDIS_URLが未設定または接続できない場合はキャッシュなしで動作する。
func newDiscoveryService(ctx context.Context, cfg *config.Config, collector *metrics.Collector) *discovery.Service {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	var c cache.Cache
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, provider cache disabled", slog.String("error", err.Error()))
		} else {
			c = cache.NewRedisCache(client, "eventexplorer")
			slog.Info("provider cache enabled")
		}
	}

	return discovery.NewService(
		ticketmaster.NewClient(httpClient, slog.Default(), cfg.TicketmasterAPIKey, cfg.TicketmasterBaseURL),
		weatherprovider.NewClient(httpClient, slog.Default(), cfg.OpenWeatherAPIKey, cfg.OpenWeatherBaseURL),
		maps.NewService(),
		c,
		collector,
		slog.Default(),
		discovery.Options{
			SearchTTL:  cfg.SearchCacheTTL,
			WeatherTTL: cfg.WeatherCacheTTL,
		},
	)
}

// runWorker はワーカーモードで起動する。
// フィード取り込みスケジューラ、天気更新バッチ、セッションクリーンアップを実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("worker with in-memory store only sees its own process data")
	}

	// 1. ストレージ接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	// 3. フィード取り込み
	importer := catalog.NewImporter(st.events, security.NewEventSanitizer())
	fetcher := fetchpkg.NewFetcher(
		st.sources, importer, security.NewSSRFGuard(), collector, slog.Default(),
		fetchpkg.Options{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Interval:    cfg.FetchInterval,
		},
	)
	scheduler := fetchpkg.NewScheduler(st.sources, fetcher, slog.Default(), cfg.FetchMaxConcurrent)

	// 4. 天気更新バッチ
	weatherClient := weatherprovider.NewClient(
		&http.Client{Timeout: cfg.ProviderTimeout},
		slog.Default(), cfg.OpenWeatherAPIKey, cfg.OpenWeatherBaseURL,
	)
	weatherBatch := weather.NewBatchJob(st.events, weatherClient, collector, slog.Default(), weather.BatchConfig{
		BatchInterval: cfg.WeatherBatchInterval,
		APIInterval:   cfg.WeatherAPIInterval,
		MaxPerCycle:   cfg.WeatherMaxPerCycle,
		TTL:           cfg.WeatherTTL,
	})

	// 5. セッションクリーンアップ
	cleanupJob := cleanup.NewCleanupJob(st.sessions, slog.Default())

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Bool("weather_enabled", weatherClient.Configured()),
	)

	if weatherClient.Configured() {
		go weatherBatch.Start(ctx)
	} else {
		slog.Warn("OPENWEATHER_API_KEY is not set, weather refresh disabled")
	}
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.FetchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はスキーマを最新化する。
// PostgreSQLは未適用マイグレーションを順番に適用し、MongoDBはインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		v, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("schema version", slog.Uint64("version", uint64(v.Version)))
	case config.StoreDriverMongo:
		client, err := database.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		if err := repository.EnsureMongoIndexes(ctx, client.Database(cfg.MongoDatabase)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	default:
		slog.Info("no migrations required", slog.String("store_driver", cfg.StoreDriver))
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は管理者ユーザーと初期カタログだけを登録して終了する。
func runSeed(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	authService := auth.NewService(st.users, st.sessions, auth.NewTokenIssuer(cfg.SessionSecret), auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		BcryptCost:    cfg.BcryptCost,
	})
	if err := bootstrap(ctx, cfg, authService, catalog.NewService(st.events, st.categories, security.NewEventSanitizer())); err != nil {
		return err
	}

	slog.Info("seed completed successfully")
	return nil
}

// serveUntilDone はサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// healthcheckPort はヘルスチェック対象のポートを環境変数から決定する。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "5050"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
