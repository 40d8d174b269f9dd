package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder      middleware.SessionFinder
	UserFinder         middleware.UserFinder
	TokenParser        middleware.TokenParser
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	HTTPRecorder       middleware.HTTPRecorder // nilの場合はメトリクスを記録しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー・チケット
	UserService   UserServiceInterface
	TicketService TicketServiceInterface

	// カタログ
	CatalogService CatalogServiceInterface
	SourceService  SourceServiceInterface

	// ディスカバリー
	DiscoveryService DiscoveryServiceInterface

	// 運用
	Pinger         Pinger       // nilの場合はヘルスチェックで疎通確認しない
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → CSRF
//	  認証が必要なルート: → Session → RateLimit(General) → RequireRole / RequireSelfOrAdmin
//
// ログインと新規登録にはクライアントIPごとのレート制限を別途適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.TokenParser, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	ticketHandler := NewTicketHandler(deps.TicketService)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	sourceHandler := NewSourceHandler(deps.SourceService)
	discoveryHandler := NewDiscoveryHandler(deps.DiscoveryService)

	requireAdmin := middleware.RequireRole(model.RoleAdmin)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Get("/health", NewHealthHandler(deps.Pinger))
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/users/register", authHandler.Register)
			r.Post("/users/login", authHandler.Login)
		})
		r.Post("/users/logout", authHandler.Logout)

		r.Get("/ticket-types", ticketHandler.Types)
		r.Post("/tickets/quote", ticketHandler.Quote)

		r.Get("/catalog/events", catalogHandler.ListEvents)
		r.Get("/catalog/events/{id}", catalogHandler.GetEvent)
		r.Get("/catalog/categories", catalogHandler.ListCategories)

		r.Route("/discovery", func(r chi.Router) {
			r.Get("/events", discoveryHandler.Events)
			r.Get("/weather", discoveryHandler.Weather)
			r.Get("/directions", discoveryHandler.Directions)
			r.Get("/nearby", discoveryHandler.Nearby)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.UserFinder, deps.TokenParser))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/users/me", userHandler.Me)

			// 管理者専用
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)

				r.Post("/catalog/events", catalogHandler.AddEvent)
				r.Post("/catalog/events/seed", catalogHandler.Seed)
				r.Put("/catalog/events/{id}", catalogHandler.UpdateEvent)
				r.Delete("/catalog/events/{id}", catalogHandler.DeleteEvent)
				r.Post("/catalog/categories", catalogHandler.AddCategory)
				r.Delete("/catalog/categories/{name}", catalogHandler.DeleteCategory)

				r.Route("/catalog/sources", func(r chi.Router) {
					r.Get("/", sourceHandler.List)
					r.Post("/", sourceHandler.Register)
					r.Delete("/{id}", sourceHandler.Delete)
					r.Post("/{id}/resume", sourceHandler.Resume)
				})

				r.Get("/admin/tickets", ticketHandler.ListAll)
				r.Get("/admin/stats", ticketHandler.Stats)
			})

			// 本人または管理者
			r.Route("/users/{id}", func(r chi.Router) {
				r.Use(middleware.RequireSelfOrAdmin("id"))

				r.Get("/", userHandler.Get)
				r.Put("/", userHandler.Update)
				r.Delete("/", userHandler.Delete)

				r.Post("/favorites", userHandler.AddFavorite)
				r.Delete("/favorites/{eventId}", userHandler.RemoveFavorite)

				r.Get("/tickets", ticketHandler.List)
				r.Post("/tickets", ticketHandler.Book)
				r.Post("/tickets/{ticketId}/cancel", ticketHandler.Cancel)
				r.With(requireAdmin).Patch("/tickets/{ticketId}", ticketHandler.SetStatus)
				r.With(requireAdmin).Delete("/tickets/{ticketId}", ticketHandler.Delete)
			})
		})
	})

	return r
}
