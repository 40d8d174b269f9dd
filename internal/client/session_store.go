package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
)

// stateVersion は永続化する状態のフォーマットバージョン。
// 形式を変更した場合はインクリメントし、古い状態は読み込み時に破棄される。
const stateVersion = 1

// ErrNotLoggedIn はログインが必要な操作を未ログイン状態で呼び出した場合のエラー。
var ErrNotLoggedIn = errors.New("ログインしていません")

// persistedState は永続化される状態。
type persistedState struct {
	Version     int    `json:"version"`
	CurrentUser *User  `json:"currentUser"`
	Users       []User `json:"users"`
	IsLoggedIn  bool   `json:"isLoggedIn"`
	Token       string `json:"token,omitempty"`
}

type authResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type favoritesResponse struct {
	Message   string   `json:"message"`
	Favorites []string `json:"favorites"`
}

// SessionStore はログイン状態とユーザー一覧を保持するクライアント側ストア。
// 状態の変更はAPI呼び出しが成功した場合のみ行い、失敗時はエラーを返して状態を維持する。
// リトライやオフラインキューは持たない。
type SessionStore struct {
	api *apiClient

	mu          sync.RWMutex
	currentUser *User
	users       []User
	isLoggedIn  bool
	token       string
}

// NewSessionStore はSessionStoreを生成する。httpClientとloggerはnilでもよい。
func NewSessionStore(baseURL string, httpClient *http.Client, logger *slog.Logger) *SessionStore {
	return &SessionStore{api: newAPIClient(baseURL, httpClient, logger)}
}

// CurrentUser はログイン中のユーザーのコピーを返す。未ログインの場合はnil。
func (s *SessionStore) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return nil
	}
	u := s.currentUser.clone()
	return &u
}

// Users はキャッシュ済みのユーザー一覧のコピーを返す。
func (s *SessionStore) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, len(s.users))
	for i, u := range s.users {
		out[i] = u.clone()
	}
	return out
}

// IsLoggedIn はログイン中かどうかを返す。
func (s *SessionStore) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLoggedIn
}

// Token は現在のアクセストークンを返す。
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// session はログイン中のユーザーIDとトークンを返す。
func (s *SessionStore) session() (userID, token string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isLoggedIn || s.currentUser == nil {
		return "", "", ErrNotLoggedIn
	}
	return s.currentUser.ID, s.token, nil
}

// FetchUsers はユーザー一覧を取得してキャッシュを置き換える。サーバー側で管理者のみ許可される。
func (s *SessionStore) FetchUsers(ctx context.Context) error {
	var users []User
	if err := s.api.do(ctx, http.MethodGet, "/api/users", s.Token(), nil, &users); err != nil {
		return fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// Login はメールアドレス・パスワード・ロールでログインする。
// 管理者の場合はユーザー一覧も更新する。一覧の取得に失敗してもログイン自体は成功とする。
func (s *SessionStore) Login(ctx context.Context, email, password, role string) error {
	var resp authResponse
	body := map[string]string{"email": email, "password": password, "role": role}
	if err := s.api.do(ctx, http.MethodPost, "/api/users/login", "", body, &resp); err != nil {
		return fmt.Errorf("ログインに失敗しました: %w", err)
	}

	s.adoptSession(resp)

	if resp.User.IsAdmin() {
		if err := s.FetchUsers(ctx); err != nil {
			s.api.logger.Warn("ログイン後のユーザー一覧の取得に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Register は新規登録し、そのままログイン状態にする。
func (s *SessionStore) Register(ctx context.Context, name, email, password string) error {
	var resp authResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := s.api.do(ctx, http.MethodPost, "/api/users/register", "", body, &resp); err != nil {
		return fmt.Errorf("新規登録に失敗しました: %w", err)
	}
	if resp.User.Role == "" {
		resp.User.Role = "user"
	}

	s.adoptSession(resp)
	return nil
}

func (s *SessionStore) adoptSession(resp authResponse) {
	u := resp.User.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = &u
	s.token = resp.Token
	s.isLoggedIn = true
	s.replaceInRosterLocked(u)
}

// Logout はログアウトする。サーバーへの通知は失敗しても無視する。
// お気に入りなどユーザーのデータは変更しない。
func (s *SessionStore) Logout(ctx context.Context) {
	if token := s.Token(); token != "" {
		if err := s.api.do(ctx, http.MethodPost, "/api/users/logout", token, nil, nil); err != nil {
			s.api.logger.Warn("ログアウトの通知に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearSessionLocked()
}

func (s *SessionStore) clearSessionLocked() {
	s.currentUser = nil
	s.token = ""
	s.isLoggedIn = false
}

// AddToFavorites はお気に入りにイベントを追加し、サーバーが返した一覧でローカルを置き換える。
// sourceはイベントの名前空間（catalog、ticketmaster、feed）。空の場合はeventIdがそのままキーになる。
func (s *SessionStore) AddToFavorites(ctx context.Context, eventID, source string) error {
	userID, token, err := s.session()
	if err != nil {
		return err
	}

	var resp favoritesResponse
	body := map[string]string{"eventId": eventID}
	if source != "" {
		body["source"] = source
	}
	path := "/api/users/" + url.PathEscape(userID) + "/favorites"
	if err := s.api.do(ctx, http.MethodPost, path, token, body, &resp); err != nil {
		return fmt.Errorf("お気に入りの追加に失敗しました: %w", err)
	}

	s.setFavorites(userID, resp.Favorites)
	return nil
}

// RemoveFromFavorites はお気に入りからイベントを除去する。
func (s *SessionStore) RemoveFromFavorites(ctx context.Context, eventKey string) error {
	userID, token, err := s.session()
	if err != nil {
		return err
	}

	var resp favoritesResponse
	path := "/api/users/" + url.PathEscape(userID) + "/favorites/" + url.PathEscape(eventKey)
	if err := s.api.do(ctx, http.MethodDelete, path, token, nil, &resp); err != nil {
		return fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
	}

	s.setFavorites(userID, resp.Favorites)
	return nil
}

func (s *SessionStore) setFavorites(userID string, favorites []string) {
	if favorites == nil {
		favorites = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser != nil && s.currentUser.ID == userID {
		s.currentUser.Favorites = slices.Clone(favorites)
	}
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users[i].Favorites = slices.Clone(favorites)
		}
	}
}

// UpdateUserProfile はログイン中のユーザーのプロフィールを部分更新する。
func (s *SessionStore) UpdateUserProfile(ctx context.Context, update ProfileUpdate) error {
	userID, token, err := s.session()
	if err != nil {
		return err
	}

	var u User
	if err := s.api.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(userID), token, update, &u); err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	s.applyUser(u)
	return nil
}

// AddUser はユーザーを作成し、一覧に追加する（管理者）。
func (s *SessionStore) AddUser(ctx context.Context, in NewUser) (*User, error) {
	var u User
	if err := s.api.do(ctx, http.MethodPost, "/api/users", s.Token(), in, &u); err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.replaceInRosterLocked(u)
	s.mu.Unlock()

	out := u.clone()
	return &out, nil
}

// UpdateUser はユーザーを部分更新する（管理者）。ログイン中のユーザー自身の場合は現在のユーザーも更新する。
func (s *SessionStore) UpdateUser(ctx context.Context, id string, update UserUpdate) (*User, error) {
	var u User
	if err := s.api.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id), s.Token(), update, &u); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	s.applyUser(u)

	out := u.clone()
	return &out, nil
}

// DeleteUser はユーザーを削除する（管理者）。ログイン中のユーザー自身を削除した場合はローカルでログアウトする。
func (s *SessionStore) DeleteUser(ctx context.Context, id string) error {
	if err := s.api.do(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(id), s.Token(), nil, nil); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = slices.DeleteFunc(s.users, func(u User) bool { return u.ID == id })
	if s.currentUser != nil && s.currentUser.ID == id {
		s.clearSessionLocked()
	}
	return nil
}

// BookTickets はチケットを購入する。サーバーが返したユーザーレコードでローカルを置き換える。
func (s *SessionStore) BookTickets(ctx context.Context, booking Booking) (*BookingResult, error) {
	userID, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var result BookingResult
	path := "/api/users/" + url.PathEscape(userID) + "/tickets"
	if err := s.api.do(ctx, http.MethodPost, path, token, booking, &result); err != nil {
		return nil, fmt.Errorf("チケットの購入に失敗しました: %w", err)
	}

	s.applyUser(result.User)
	return &result, nil
}

// CancelTicket はチケットをキャンセルする。
func (s *SessionStore) CancelTicket(ctx context.Context, ticketID string) error {
	userID, token, err := s.session()
	if err != nil {
		return err
	}

	var u User
	path := "/api/users/" + url.PathEscape(userID) + "/tickets/" + url.PathEscape(ticketID) + "/cancel"
	if err := s.api.do(ctx, http.MethodPost, path, token, nil, &u); err != nil {
		return fmt.Errorf("チケットのキャンセルに失敗しました: %w", err)
	}

	s.applyUser(u)
	return nil
}

// applyUser はサーバーが返したユーザーレコードで現在のユーザーと一覧を置き換える。
func (s *SessionStore) applyUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser != nil && s.currentUser.ID == u.ID {
		cur := u.clone()
		s.currentUser = &cur
	}
	s.replaceInRosterLocked(u)
}

// replaceInRosterLocked は一覧内の同じIDのユーザーを置き換える。存在しない場合は追加する。
// 呼び出し元でロックを保持していること。
func (s *SessionStore) replaceInRosterLocked(u User) {
	for i := range s.users {
		if s.users[i].ID == u.ID {
			s.users[i] = u.clone()
			return
		}
	}
	s.users = append(s.users, u.clone())
}

// Save は現在の状態をバージョン付きJSONとして書き込む。
func (s *SessionStore) Save(w io.Writer) error {
	s.mu.RLock()
	state := persistedState{
		Version:     stateVersion,
		CurrentUser: s.currentUser,
		Users:       s.users,
		IsLoggedIn:  s.isLoggedIn,
		Token:       s.token,
	}
	err := json.NewEncoder(w).Encode(state)
	s.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("状態の保存に失敗しました: %w", err)
	}
	return nil
}

// Load は保存された状態を読み込む。
// バージョンが異なる状態は破棄し、未ログインの初期状態から開始する。
func (s *SessionStore) Load(r io.Reader) error {
	var state persistedState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("状態の読み込みに失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Version != stateVersion {
		s.api.logger.Warn("保存された状態のバージョンが異なるため破棄します",
			slog.Int("version", state.Version),
			slog.Int("expected_version", stateVersion),
		)
		s.clearSessionLocked()
		s.users = nil
		return nil
	}

	s.currentUser = state.CurrentUser
	s.users = state.Users
	s.isLoggedIn = state.IsLoggedIn && state.CurrentUser != nil
	s.token = state.Token
	return nil
}
