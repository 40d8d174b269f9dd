package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
)

// --- テスト用サーバー ---

func newTestStore(t *testing.T, mux *http.ServeMux) *SessionStore {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewSessionStore(srv.URL, srv.Client(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeTestError(w http.ResponseWriter, status int, code, message string) {
	writeTestJSON(w, status, map[string]string{"code": code, "message": message, "category": "user"})
}

func testUser(id, role string, favorites ...string) User {
	if favorites == nil {
		favorites = []string{}
	}
	return User{ID: id, Name: "User " + id, Email: id + "@example.com", Role: role, Favorites: favorites, Tickets: []Ticket{}}
}

// loginHandler は指定ユーザーとトークンを返すログインハンドラー。
func loginHandler(u User, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, authResponse{User: u, Token: token})
	}
}

func mustLogin(t *testing.T, s *SessionStore) {
	t.Helper()
	if err := s.Login(context.Background(), "a@example.com", "secret", "user"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

// --- Login / Register / Logout ---

func TestSessionStore_Login_AdoptsRecordAndToken(t *testing.T) {
	var gotBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeTestJSON(w, http.StatusOK, authResponse{User: testUser("u1", "user", "catalog:1"), Token: "tok-1"})
	})
	s := newTestStore(t, mux)

	if err := s.Login(context.Background(), "a@example.com", "secret", "user"); err != nil {
		t.Fatalf("Login がエラーを返した: %v", err)
	}

	if gotBody["email"] != "a@example.com" || gotBody["password"] != "secret" || gotBody["role"] != "user" {
		t.Errorf("request body = %v", gotBody)
	}
	if !s.IsLoggedIn() {
		t.Error("ログイン状態になるべき")
	}
	if s.Token() != "tok-1" {
		t.Errorf("Token() = %q, want tok-1", s.Token())
	}
	if u := s.CurrentUser(); u == nil || u.ID != "u1" || !slices.Equal(u.Favorites, []string{"catalog:1"}) {
		t.Errorf("CurrentUser() = %+v", u)
	}
}

func TestSessionStore_Login_AdminRefreshesRoster(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("admin", "admin"), "admin-token"))
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeTestJSON(w, http.StatusOK, []User{testUser("admin", "admin"), testUser("u1", "user"), testUser("u2", "user")})
	})
	s := newTestStore(t, mux)

	if err := s.Login(context.Background(), "admin@example.com", "secret", "admin"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotAuth != "Bearer admin-token" {
		t.Errorf("Authorization = %q, want Bearer admin-token", gotAuth)
	}
	if got := len(s.Users()); got != 3 {
		t.Errorf("len(Users()) = %d, want 3", got)
	}
}

func TestSessionStore_Login_RosterFailureStillLogsIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("admin", "admin"), "admin-token"))
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "boom")
	})
	s := newTestStore(t, mux)

	if err := s.Login(context.Background(), "admin@example.com", "secret", "admin"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !s.IsLoggedIn() {
		t.Error("一覧の取得失敗でもログイン状態になるべき")
	}
}

func TestSessionStore_Login_FailureKeepsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid")
	})
	s := newTestStore(t, mux)

	err := s.Login(context.Background(), "a@example.com", "wrong", "user")
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}
	if code := ErrorCode(err); code != "INVALID_CREDENTIALS" {
		t.Errorf("ErrorCode = %q, want INVALID_CREDENTIALS", code)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want *Error with status 401", err)
	}
	if s.IsLoggedIn() || s.CurrentUser() != nil || s.Token() != "" {
		t.Error("失敗時は状態を変更しないべき")
	}
}

func TestSessionStore_Register(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantErr  string
		wantRole string
	}{
		{
			name: "成功時は自動ログインする",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeTestJSON(w, http.StatusCreated, authResponse{User: testUser("new", "user"), Token: "tok-new"})
			},
			wantRole: "user",
		},
		{
			name: "ロール未指定はuserとして扱う",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeTestJSON(w, http.StatusCreated, authResponse{User: testUser("new", ""), Token: "tok-new"})
			},
			wantRole: "user",
		},
		{
			name: "重複メールアドレスはサーバーのコードを返す",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeTestError(w, http.StatusConflict, "EMAIL_TAKEN", "taken")
			},
			wantErr: "EMAIL_TAKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/users/register", tt.handler)
			s := newTestStore(t, mux)

			err := s.Register(context.Background(), "New", "new@example.com", "secret")
			if tt.wantErr != "" {
				if ErrorCode(err) != tt.wantErr {
					t.Errorf("ErrorCode = %q, want %q", ErrorCode(err), tt.wantErr)
				}
				if s.IsLoggedIn() {
					t.Error("失敗時はログイン状態にならないべき")
				}
				return
			}
			if err != nil {
				t.Fatalf("Register: %v", err)
			}
			if u := s.CurrentUser(); u == nil || u.Role != tt.wantRole {
				t.Errorf("CurrentUser() = %+v, want role %q", u, tt.wantRole)
			}
			if s.Token() != "tok-new" {
				t.Errorf("Token() = %q", s.Token())
			}
		})
	}
}

func TestSessionStore_Logout_KeepsFavoritesInRoster(t *testing.T) {
	var logoutAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:1", "catalog:2"), "tok-1"))
	mux.HandleFunc("POST /api/users/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)

	s.Logout(context.Background())

	if logoutAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", logoutAuth)
	}
	if s.IsLoggedIn() || s.CurrentUser() != nil || s.Token() != "" {
		t.Error("ログアウト後はセッションがクリアされるべき")
	}
	users := s.Users()
	if len(users) != 1 || !slices.Equal(users[0].Favorites, []string{"catalog:1", "catalog:2"}) {
		t.Errorf("ログアウトでお気に入りが変更されてはならない: %+v", users)
	}
}

func TestSessionStore_Logout_ServerErrorIsIgnored(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user"), "tok-1"))
	mux.HandleFunc("POST /api/users/logout", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "boom")
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)

	s.Logout(context.Background())
	if s.IsLoggedIn() {
		t.Error("サーバーエラーでもローカルではログアウトするべき")
	}
}

// --- お気に入り ---

func TestSessionStore_Favorites_ReplacedWithServerList(t *testing.T) {
	var addBody map[string]string
	var removedPath string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:1"), "tok-1"))
	mux.HandleFunc("POST /api/users/u1/favorites", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&addBody)
		writeTestJSON(w, http.StatusOK, favoritesResponse{Message: "added", Favorites: []string{"catalog:1", "ticketmaster:G5v"}})
	})
	mux.HandleFunc("DELETE /api/users/u1/favorites/{eventId}", func(w http.ResponseWriter, r *http.Request) {
		removedPath = r.URL.EscapedPath()
		writeTestJSON(w, http.StatusOK, favoritesResponse{Message: "removed", Favorites: []string{"ticketmaster:G5v"}})
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)
	ctx := context.Background()

	if err := s.AddToFavorites(ctx, "G5v", "ticketmaster"); err != nil {
		t.Fatalf("AddToFavorites: %v", err)
	}
	if addBody["eventId"] != "G5v" || addBody["source"] != "ticketmaster" {
		t.Errorf("request body = %v", addBody)
	}
	if got := s.CurrentUser().Favorites; !slices.Equal(got, []string{"catalog:1", "ticketmaster:G5v"}) {
		t.Errorf("Favorites = %v", got)
	}

	if err := s.RemoveFromFavorites(ctx, "catalog:1"); err != nil {
		t.Fatalf("RemoveFromFavorites: %v", err)
	}
	if removedPath != "/api/users/u1/favorites/catalog:1" {
		t.Errorf("path = %q", removedPath)
	}
	if got := s.CurrentUser().Favorites; !slices.Equal(got, []string{"ticketmaster:G5v"}) {
		t.Errorf("Favorites = %v", got)
	}
	// 一覧側にも反映される
	if got := s.Users()[0].Favorites; !slices.Equal(got, []string{"ticketmaster:G5v"}) {
		t.Errorf("roster favorites = %v", got)
	}
}

func TestSessionStore_Favorites_FailureKeepsLocalList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:1"), "tok-1"))
	mux.HandleFunc("POST /api/users/u1/favorites", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusBadRequest, "VALIDATION_FAILED", "eventId is required")
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)

	if err := s.AddToFavorites(context.Background(), "", ""); ErrorCode(err) != "VALIDATION_FAILED" {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
	if got := s.CurrentUser().Favorites; !slices.Equal(got, []string{"catalog:1"}) {
		t.Errorf("Favorites = %v, 変更されないべき", got)
	}
}

func TestSessionStore_RequiresLogin(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	s := newTestStore(t, mux)
	ctx := context.Background()

	ops := map[string]func() error{
		"AddToFavorites":      func() error { return s.AddToFavorites(ctx, "1", "catalog") },
		"RemoveFromFavorites": func() error { return s.RemoveFromFavorites(ctx, "catalog:1") },
		"UpdateUserProfile":   func() error { return s.UpdateUserProfile(ctx, ProfileUpdate{}) },
		"BookTickets":         func() error { _, err := s.BookTickets(ctx, Booking{}); return err },
		"CancelTicket":        func() error { return s.CancelTicket(ctx, "t1") },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNotLoggedIn) {
			t.Errorf("%s err = %v, want ErrNotLoggedIn", name, err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("未ログインではAPIを呼び出さないべき: calls = %d", calls.Load())
	}
}

// --- プロフィール・管理者操作 ---

func TestSessionStore_UpdateUserProfile_ReplacesWithFullRecord(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:1"), "tok-1"))
	mux.HandleFunc("PUT /api/users/u1", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		u := testUser("u1", "user", "catalog:1")
		u.Name = "Renamed"
		writeTestJSON(w, http.StatusOK, u)
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)

	name := "Renamed"
	if err := s.UpdateUserProfile(context.Background(), ProfileUpdate{Name: &name}); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}
	if _, ok := gotBody["email"]; ok {
		t.Errorf("未指定のフィールドは送信しないべき: %v", gotBody)
	}
	u := s.CurrentUser()
	if u.Name != "Renamed" || !slices.Equal(u.Favorites, []string{"catalog:1"}) {
		t.Errorf("CurrentUser() = %+v", u)
	}
	if s.Users()[0].Name != "Renamed" {
		t.Errorf("roster = %+v", s.Users())
	}
}

func TestSessionStore_AdminManagement(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("admin", "admin"), "admin-token"))
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, []User{testUser("admin", "admin"), testUser("u1", "user")})
	})
	mux.HandleFunc("POST /api/users", func(w http.ResponseWriter, r *http.Request) {
		var in NewUser
		json.NewDecoder(r.Body).Decode(&in)
		u := testUser("u2", in.Role)
		u.Name = in.Name
		writeTestJSON(w, http.StatusCreated, u)
	})
	mux.HandleFunc("PUT /api/users/u1", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, testUser("u1", "admin"))
	})
	mux.HandleFunc("DELETE /api/users/u2", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
	})
	mux.HandleFunc("PUT /api/users/ghost", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusNotFound, "USER_NOT_FOUND", "not found")
	})
	s := newTestStore(t, mux)
	ctx := context.Background()

	if err := s.Login(ctx, "admin@example.com", "secret", "admin"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	created, err := s.AddUser(ctx, NewUser{Name: "Second", Email: "u2@example.com", Password: "secret", Role: "user"})
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if created.Name != "Second" || len(s.Users()) != 3 {
		t.Errorf("created = %+v, users = %d", created, len(s.Users()))
	}

	role := "admin"
	if _, err := s.UpdateUser(ctx, "u1", UserUpdate{Role: &role}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	for _, u := range s.Users() {
		if u.ID == "u1" && u.Role != "admin" {
			t.Errorf("u1 role = %q, want admin", u.Role)
		}
	}

	if _, err := s.UpdateUser(ctx, "ghost", UserUpdate{Role: &role}); ErrorCode(err) != "USER_NOT_FOUND" {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
	if len(s.Users()) != 3 {
		t.Errorf("存在しないユーザーの更新で一覧が変わってはならない: %d", len(s.Users()))
	}

	if err := s.DeleteUser(ctx, "u2"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if len(s.Users()) != 2 || !s.IsLoggedIn() {
		t.Errorf("users = %d, loggedIn = %v", len(s.Users()), s.IsLoggedIn())
	}
}

func TestSessionStore_DeleteUser_SelfLogsOutLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user"), "tok-1"))
	mux.HandleFunc("DELETE /api/users/u1", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)

	if err := s.DeleteUser(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if s.IsLoggedIn() || len(s.Users()) != 0 {
		t.Errorf("loggedIn = %v, users = %+v", s.IsLoggedIn(), s.Users())
	}
}

// --- チケット ---

func TestSessionStore_BookAndCancelTickets(t *testing.T) {
	booked := testUser("u1", "user")
	booked.Tickets = []Ticket{{ID: "t1", EventRef: "catalog:1", TicketType: "general", Quantity: 2, UnitPrice: "45.00", Total: "90.00", Status: "Upcoming"}}
	cancelled := booked.clone()
	cancelled.Tickets[0].Status = "Cancelled"

	var gotBooking Booking
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user"), "tok-1"))
	mux.HandleFunc("POST /api/users/u1/tickets", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBooking)
		writeTestJSON(w, http.StatusCreated, BookingResult{
			Tickets: booked.Tickets,
			Quote:   Quote{TotalQuantity: 2, Subtotal: "90.00", Fee: "9.00", Total: "99.00"},
			User:    booked,
		})
	})
	mux.HandleFunc("POST /api/users/u1/tickets/t1/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, cancelled)
	})
	mux.HandleFunc("POST /api/users/u1/tickets/t1x/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeTestError(w, http.StatusConflict, "TICKET_NOT_CANCELLABLE", "already cancelled")
	})
	s := newTestStore(t, mux)
	mustLogin(t, s)
	ctx := context.Background()

	result, err := s.BookTickets(ctx, Booking{
		EventRef:   "catalog:1",
		EventName:  "Summer Music Festival",
		Selections: []Selection{{Type: "general", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("BookTickets: %v", err)
	}
	if gotBooking.EventRef != "catalog:1" || len(gotBooking.Selections) != 1 {
		t.Errorf("booking = %+v", gotBooking)
	}
	if result.Quote.Total != "99.00" || len(result.Tickets) != 1 {
		t.Errorf("result = %+v", result)
	}
	if got := s.CurrentUser().Tickets; len(got) != 1 || got[0].Status != "Upcoming" {
		t.Errorf("Tickets = %+v", got)
	}

	if err := s.CancelTicket(ctx, "t1"); err != nil {
		t.Fatalf("CancelTicket: %v", err)
	}
	if got := s.CurrentUser().Tickets[0].Status; got != "Cancelled" {
		t.Errorf("Status = %q, want Cancelled", got)
	}

	if err := s.CancelTicket(ctx, "t1x"); ErrorCode(err) != "TICKET_NOT_CANCELLABLE" {
		t.Errorf("err = %v", err)
	}
}

// --- 永続化 ---

func TestSessionStore_SaveAndLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:3"), "tok-1"))
	s := newTestStore(t, mux)
	mustLogin(t, s)

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(buf.String(), `"version":1`) {
		t.Errorf("保存データにバージョンが含まれるべき: %s", buf.String())
	}

	restored := NewSessionStore("http://unused.invalid", nil, nil)
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !restored.IsLoggedIn() || restored.Token() != "tok-1" {
		t.Errorf("loggedIn = %v, token = %q", restored.IsLoggedIn(), restored.Token())
	}
	if u := restored.CurrentUser(); u == nil || !slices.Equal(u.Favorites, []string{"catalog:3"}) {
		t.Errorf("CurrentUser() = %+v", u)
	}
}

func TestSessionStore_Load(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantErr      bool
		wantLoggedIn bool
	}{
		{"異なるバージョンは破棄する", `{"version":0,"currentUser":{"id":"u1"},"isLoggedIn":true,"token":"t"}`, false, false},
		{"バージョンなしは破棄する", `{"currentUser":{"id":"u1"},"isLoggedIn":true}`, false, false},
		{"空入力は初期状態", ``, false, false},
		{"ユーザーなしのログイン状態は未ログイン扱い", `{"version":1,"isLoggedIn":true}`, false, false},
		{"不正なJSONはエラー", `{"version":`, true, false},
		{"正しいバージョン", `{"version":1,"currentUser":{"id":"u1"},"isLoggedIn":true,"token":"t"}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSessionStore("http://unused.invalid", nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
			err := s.Load(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.IsLoggedIn() != tt.wantLoggedIn {
				t.Errorf("IsLoggedIn() = %v, want %v", s.IsLoggedIn(), tt.wantLoggedIn)
			}
		})
	}
}

func TestSessionStore_CurrentUserIsCopy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", loginHandler(testUser("u1", "user", "catalog:1"), "tok-1"))
	s := newTestStore(t, mux)
	mustLogin(t, s)

	u := s.CurrentUser()
	u.Favorites[0] = "mutated"
	if got := s.CurrentUser().Favorites[0]; got != "catalog:1" {
		t.Errorf("内部状態が外部から変更された: %q", got)
	}
}
