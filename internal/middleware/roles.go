package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// RequireRole は指定ロールの主体のみ通過させるミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if p.Role != role {
				slog.Warn("role check failed",
					slog.String("user_id", p.UserID),
					slog.String("required_role", string(role)),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrAdmin はURLパラメータparamのユーザーIDが本人である場合か、
// 主体が管理者である場合のみ通過させるミドルウェアを返す。
func RequireSelfOrAdmin(param string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if p.IsAdmin() || chi.URLParam(r, param) == p.UserID {
				next.ServeHTTP(w, r)
				return
			}
			slog.Warn("ownership check failed",
				slog.String("user_id", p.UserID),
				slog.String("target_id", chi.URLParam(r, param)),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		})
	}
}
