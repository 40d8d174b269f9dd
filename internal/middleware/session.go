// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal は認証済みリクエストの主体。
type Principal struct {
	UserID    string
	SessionID string
	Role      model.Role
	// Bearer はAuthorizationヘッダーで認証された場合にtrue。
	Bearer bool
}

// IsAdmin は管理者かを返す。
func (p *Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// ロールは毎リクエストで現在のユーザーレコードから読み取る。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// TokenParser はBearerトークンからセッションIDを取り出すインターフェース。
type TokenParser interface {
	ParseToken(raw string) (string, error)
}

// NewSessionMiddleware はセッションCookieまたはBearerトークンからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済み主体をリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(sessions SessionFinder, users UserFinder, tokens TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieまたはAuthorizationヘッダーからセッションIDを取得
			sessionID, bearer, err := sessionIDFromRequest(r, tokens)
			if err != nil || sessionID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションの有効性を検証
			session, err := sessions.FindByID(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 現在のロールを取得
			user, err := users.FindByID(r.Context(), session.UserID)
			if err != nil {
				slog.Error("failed to find session user",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 4. 認証済み主体をコンテキストに注入
			p := &Principal{UserID: user.ID, SessionID: session.ID, Role: user.Role, Bearer: bearer}
			setRequestUser(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// SessionIDFromRequest はCookieまたはBearerトークンからセッションIDを取り出す。
// ログアウトのように未認証でも受け付けるハンドラーから使う。
func SessionIDFromRequest(r *http.Request, tokens TokenParser) string {
	id, _, err := sessionIDFromRequest(r, tokens)
	if err != nil {
		return ""
	}
	return id
}

func sessionIDFromRequest(r *http.Request, tokens TokenParser) (string, bool, error) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		id, err := tokens.ParseToken(strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix)))
		return id, true, err
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false, err
	}
	return cookie.Value, false, nil
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに認証済み主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithUserID は一般ユーザーとしての主体をコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, &Principal{UserID: userID, Role: model.RoleUser})
}
