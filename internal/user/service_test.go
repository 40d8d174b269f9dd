package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/eventexplorer/internal/auth"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	repository.UserRepository

	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
	updateFn     func(ctx context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error)
	listFn       func(ctx context.Context) ([]*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}
func (m *mockUserRepo) Update(ctx context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error) {
	return m.updateFn(ctx, id, update, now)
}
func (m *mockUserRepo) List(ctx context.Context) ([]*model.User, error) {
	return m.listFn(ctx)
}

type mockSessionRepo struct {
	repository.SessionRepository

	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

// --- ヘルパー ---

func newMemoryService(t *testing.T) (*Service, *repository.MemoryUserRepo, *model.User) {
	t.Helper()
	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()
	authSvc := auth.NewService(users, sessions, nil, auth.ServiceConfig{SessionMaxAge: 3600, BcryptCost: 4})
	svc := NewService(users, sessions, authSvc, 4)

	u, err := authSvc.CreateUser(context.Background(), "Erin", "erin@example.com", "erin-password", model.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return svc, users, u
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

func ptr[T any](v T) *T { return &v }

// --- テスト ---

// TestService_Delete はユーザー削除がセッションも削除することを検証する。
func TestService_Delete(t *testing.T) {
	userDeleteCalled := false
	sessionDeleteCalled := false

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			if !sessionDeleteCalled {
				t.Error("sessions should be deleted before the user")
			}
			userDeleteCalled = true
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			sessionDeleteCalled = true
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, nil, 4)

	if err := svc.Delete(context.Background(), "user-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if !sessionDeleteCalled {
		t.Error("expected sessions DeleteByUserID to be called")
	}
	if !userDeleteCalled {
		t.Error("expected user DeleteByID to be called")
	}
}

// TestService_Delete_UserNotFound は存在しないユーザーの削除が404相当のエラーになることを検証する。
func TestService_Delete_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, 4)

	err := svc.Delete(context.Background(), "nonexistent-user")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// TestService_List_RepositoryError はストア障害が非APIErrorとして返ることを検証する。
func TestService_List_RepositoryError(t *testing.T) {
	userRepo := &mockUserRepo{
		listFn: func(ctx context.Context) ([]*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(userRepo, nil, nil, 4)

	_, err := svc.List(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure should surface as internal error, got %v", apiErr)
	}
}

// TestService_Update_MissingUser_DoesNotCreate は存在しないIDの更新が404になりレコードを作らないことを検証する。
func TestService_Update_MissingUser_DoesNotCreate(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newMemoryService(t)

	_, err := svc.Update(ctx, "missing-id", UpdateInput{Name: ptr("Ghost")}, true)
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)

	all, _ := users.List(ctx)
	if len(all) != 1 {
		t.Errorf("user count = %d, want 1", len(all))
	}
}

// TestService_Update_ReturnsAuthoritativeRecord は更新後のレコード全体が返ることを検証する。
func TestService_Update_ReturnsAuthoritativeRecord(t *testing.T) {
	ctx := context.Background()
	svc, users, u := newMemoryService(t)
	if _, err := users.AddFavorite(ctx, u.ID, "catalog:3"); err != nil {
		t.Fatalf("AddFavorite() error = %v", err)
	}

	updated, err := svc.Update(ctx, u.ID, UpdateInput{Name: ptr("Erin B"), Email: ptr("ERIN.B@example.com")}, false)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "Erin B" {
		t.Errorf("name = %q, want %q", updated.Name, "Erin B")
	}
	if updated.Email != "erin.b@example.com" {
		t.Errorf("email = %q, want %q", updated.Email, "erin.b@example.com")
	}
	if len(updated.Favorites) != 1 || updated.Favorites[0] != "catalog:3" {
		t.Errorf("favorites = %v, want [catalog:3]", updated.Favorites)
	}
}

// TestService_Update_PasswordIsRehashed はパスワード更新がbcryptで保存されることを検証する。
func TestService_Update_PasswordIsRehashed(t *testing.T) {
	ctx := context.Background()
	svc, users, u := newMemoryService(t)

	if _, err := svc.Update(ctx, u.ID, UpdateInput{Password: ptr("new-password")}, false); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	stored, _ := users.FindByID(ctx, u.ID)
	if !auth.VerifyPassword(stored.PasswordHash, "new-password") {
		t.Error("new password should verify against stored hash")
	}
	if auth.VerifyPassword(stored.PasswordHash, "erin-password") {
		t.Error("old password should no longer verify")
	}
}

// TestService_Update_RoleChange は一般ユーザーによるロール変更が拒否されることを検証する。
func TestService_Update_RoleChange(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)

	_, err := svc.Update(ctx, u.ID, UpdateInput{Role: ptr(model.RoleAdmin)}, false)
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)

	updated, err := svc.Update(ctx, u.ID, UpdateInput{Role: ptr(model.RoleAdmin)}, true)
	if err != nil {
		t.Fatalf("admin Update() error = %v", err)
	}
	if updated.Role != model.RoleAdmin {
		t.Errorf("role = %q, want %q", updated.Role, model.RoleAdmin)
	}

	_, err = svc.Update(ctx, u.ID, UpdateInput{Role: ptr(model.Role("superuser"))}, true)
	assertAPIErrorCode(t, err, model.ErrCodeValidationFailed)
}

// TestService_Update_Validation は不正な入力が検証エラーになることを検証する。
func TestService_Update_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)

	tests := []struct {
		name  string
		input UpdateInput
	}{
		{"blank name", UpdateInput{Name: ptr("   ")}},
		{"bad email", UpdateInput{Email: ptr("nope")}},
		{"short password", UpdateInput{Password: ptr("123")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, u.ID, tt.input, false)
			assertAPIErrorCode(t, err, model.ErrCodeValidationFailed)
		})
	}
}

// TestService_Update_DuplicateEmail は他ユーザーのメールアドレスへの変更が409相当になることを検証する。
func TestService_Update_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)
	if _, err := svc.Create(ctx, "Frank", "frank@example.com", "frank-password", model.RoleUser); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := svc.Update(ctx, u.ID, UpdateInput{Email: ptr("frank@example.com")}, false)
	assertAPIErrorCode(t, err, model.ErrCodeEmailTaken)
}

// TestService_Update_Empty は空の更新が現在のレコードを返すことを検証する。
func TestService_Update_Empty(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)

	got, err := svc.Update(ctx, u.ID, UpdateInput{}, false)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.ID != u.ID || got.Name != "Erin" {
		t.Errorf("got = %+v, want unchanged user", got)
	}
}

// TestService_Favorites は追加の冪等性と未登録キー削除の無変更を検証する。
func TestService_Favorites(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)

	favs, err := svc.AddFavorite(ctx, u.ID, "42", "")
	if err != nil {
		t.Fatalf("AddFavorite() error = %v", err)
	}
	favs, err = svc.AddFavorite(ctx, u.ID, "42", "")
	if err != nil {
		t.Fatalf("second AddFavorite() error = %v", err)
	}
	if len(favs) != 1 || favs[0] != "42" {
		t.Errorf("favorites = %v, want [42]", favs)
	}

	favs, err = svc.AddFavorite(ctx, u.ID, "G5vYZ9", model.SourceTicketmaster)
	if err != nil {
		t.Fatalf("AddFavorite(ticketmaster) error = %v", err)
	}
	if len(favs) != 2 || favs[1] != "ticketmaster:G5vYZ9" {
		t.Errorf("favorites = %v, want [42 ticketmaster:G5vYZ9]", favs)
	}

	favs, err = svc.RemoveFavorite(ctx, u.ID, "not-there")
	if err != nil {
		t.Fatalf("RemoveFavorite(absent) error = %v", err)
	}
	if len(favs) != 2 {
		t.Errorf("favorites after removing absent = %v, want unchanged", favs)
	}

	favs, err = svc.RemoveFavorite(ctx, u.ID, "42")
	if err != nil {
		t.Fatalf("RemoveFavorite() error = %v", err)
	}
	if len(favs) != 1 || favs[0] != "ticketmaster:G5vYZ9" {
		t.Errorf("favorites = %v, want [ticketmaster:G5vYZ9]", favs)
	}
}

// TestService_Favorites_Errors はeventId欠落と存在しないユーザーのエラーを検証する。
func TestService_Favorites_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newMemoryService(t)

	_, err := svc.AddFavorite(ctx, u.ID, "  ", "")
	assertAPIErrorCode(t, err, model.ErrCodeEventIDRequired)

	_, err = svc.AddFavorite(ctx, "missing-user", "42", "")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)

	_, err = svc.RemoveFavorite(ctx, "missing-user", "42")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

func TestFavoriteKey(t *testing.T) {
	tests := []struct {
		name    string
		eventID string
		source  string
		want    string
		wantErr string
	}{
		{"bare id kept verbatim", "42", "", "42", ""},
		{"namespaced by source", "1", "catalog", "catalog:1", ""},
		{"already namespaced", "catalog:1", "", "catalog:1", ""},
		{"namespaced with matching source", "feed:abc", "feed", "feed:abc", ""},
		{"namespace conflict", "catalog:1", "ticketmaster", "", model.ErrCodeValidationFailed},
		{"unknown source", "1", "eventbrite", "", model.ErrCodeValidationFailed},
		{"empty id", "", "catalog", "", model.ErrCodeEventIDRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FavoriteKey(tt.eventID, tt.source)
			if tt.wantErr != "" {
				assertAPIErrorCode(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("FavoriteKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FavoriteKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
