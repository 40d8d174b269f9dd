package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/auth"
	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) (*auth.LoginResult, error)
	loginFn    func(ctx context.Context, email, password string, role model.Role) (*auth.LoginResult, error)
	logoutFn   func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.LoginResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Login(ctx context.Context, email, password string, role model.Role) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password, role)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockTokenParser struct {
	parseFn func(raw string) (string, error)
}

func (m *mockTokenParser) ParseToken(raw string) (string, error) {
	if m.parseFn != nil {
		return m.parseFn(raw)
	}
	return "", errors.New("invalid token")
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストに一般ユーザーの主体を注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withAdmin はテスト用に管理者の主体を注入するヘルパー。
func withAdmin(r *http.Request, userID string) *http.Request {
	p := &middleware.Principal{UserID: userID, Role: model.RoleAdmin}
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sampleUser() *model.User {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &model.User{
		ID:           "user-123",
		Name:         "Test User",
		Email:        "test@example.com",
		PasswordHash: "$2a$12$secret-hash-value",
		Role:         model.RoleUser,
		Favorites:    []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func loginResult(u *model.User) *auth.LoginResult {
	return &auth.LoginResult{
		User:    u,
		Session: &model.Session{ID: "sess-1", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)},
		Token:   "signed.jwt.token",
	}
}

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, &mockTokenParser{}, AuthHandlerConfig{SessionMaxAge: 86400})
}

// --- テスト ---

func TestAuthHandler_Register_SetsCookieAndHidesPassword(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, in auth.RegisterInput) (*auth.LoginResult, error) {
			if in.Name != "Test User" || in.Email != "test@example.com" || in.Password != "secret1" {
				t.Errorf("input = %+v", in)
			}
			return loginResult(sampleUser()), nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/api/users/register",
		`{"name":"Test User","email":"test@example.com","password":"secret1"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if strings.Contains(strings.ToLower(w.Body.String()), "password") || strings.Contains(w.Body.String(), "secret-hash") {
		t.Errorf("response leaks password: %s", w.Body.String())
	}

	var body authResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.ID != "user-123" || body.Token != "signed.jwt.token" {
		t.Errorf("body = %+v", body)
	}
	if body.User.Favorites == nil || len(body.User.Favorites) != 0 {
		t.Errorf("favorites = %v, want empty array", body.User.Favorites)
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value != "sess-1" || !session.HttpOnly || session.MaxAge != 86400 {
		t.Errorf("session cookie = %+v", session)
	}
}

func TestAuthHandler_Register_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"malformed json", `{`, nil, http.StatusBadRequest},
		{"validation", `{"name":"","email":"x","password":"p"}`, model.NewValidationError("name required"), http.StatusBadRequest},
		{"duplicate email", `{"name":"a","email":"a@example.com","password":"secret1"}`, model.NewEmailTakenError(), http.StatusConflict},
		{"store failure", `{"name":"a","email":"a@example.com","password":"secret1"}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				registerFn: func(context.Context, auth.RegisterInput) (*auth.LoginResult, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			newTestAuthHandler(svc).Register(w, jsonRequest(http.MethodPost, "/api/users/register", tt.body))
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("no cookie should be set on failure")
			}
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	var gotRole model.Role
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string, role model.Role) (*auth.LoginResult, error) {
			gotRole = role
			if password != "secret1" {
				return nil, model.NewInvalidCredentialsError()
			}
			return loginResult(sampleUser()), nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/users/login", `{"email":"test@example.com","password":"secret1","role":"user"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotRole != model.RoleUser {
		t.Errorf("role = %q, want user", gotRole)
	}

	w = httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/users/login", `{"email":"test@example.com","password":"wrong"}`))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q", body["code"])
	}

	w = httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/users/login", `{"email":"a@b.c","password":"x","role":"superuser"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid role status = %d, want 400", w.Code)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	var deleted []string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deleted = append(deleted, sessionID)
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if len(deleted) != 1 || deleted[0] != "sess-1" {
		t.Errorf("deleted sessions = %v", deleted)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("cookie should be cleared: %+v", cookies)
	}

	// セッションが無くても成功する
	w = httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/users/logout", nil))
	if w.Code != http.StatusNoContent || len(deleted) != 1 {
		t.Errorf("anonymous logout: status=%d deleted=%v", w.Code, deleted)
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(context.Context, string) error { return errors.New("db down") },
	}
	req := httptest.NewRequest(http.MethodPost, "/api/users/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()
	newTestAuthHandler(svc).Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("cookie should be cleared")
	}
}
