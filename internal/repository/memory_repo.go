package repository

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// メモリ実装はSTORE_DRIVER=memoryでの起動（開発・デモ）とE2Eテストに使用する。
// 返却値は常にコピーで、呼び出し側の変更が内部状態に影響しない。

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Favorites = slices.Clone(u.Favorites)
	if c.Favorites == nil {
		c.Favorites = []string{}
	}
	c.Tickets = slices.Clone(u.Tickets)
	if c.Tickets == nil {
		c.Tickets = []model.Ticket{}
	}
	return &c
}

func cloneCatalogEvent(e *model.CatalogEvent) *model.CatalogEvent {
	c := *e
	if e.Weather != nil {
		w := *e.Weather
		c.Weather = &w
	}
	return &c
}

// MemoryUserRepo はメモリ上のユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u := r.findByEmailLocked(email); u != nil {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *MemoryUserRepo) findByEmailLocked(email string) *model.User {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *MemoryUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*model.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// CountByRole は指定ロールのユーザー数を返す。
func (r *MemoryUserRepo) CountByRole(_ context.Context, role model.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findByEmailLocked(user.Email) != nil {
		return ErrDuplicateEmail
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

// Update はユーザーを部分更新する。
func (r *MemoryUserRepo) Update(_ context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if update.Email != nil {
		if other := r.findByEmailLocked(*update.Email); other != nil && other.ID != id {
			return nil, ErrDuplicateEmail
		}
		u.Email = *update.Email
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.PasswordHash != nil {
		u.PasswordHash = *update.PasswordHash
	}
	if update.Role != nil {
		u.Role = *update.Role
	}
	u.UpdatedAt = now
	return cloneUser(u), nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MemoryUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// AddFavorite は未登録の場合のみイベントキーを追加する。
func (r *MemoryUserRepo) AddFavorite(_ context.Context, id, eventKey string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(u.Favorites, eventKey) {
		u.Favorites = append(u.Favorites, eventKey)
		u.UpdatedAt = time.Now()
	}
	return slices.Clone(u.Favorites), nil
}

// RemoveFavorite はイベントキーを除去する。
func (r *MemoryUserRepo) RemoveFavorite(_ context.Context, id, eventKey string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Favorites = slices.DeleteFunc(u.Favorites, func(k string) bool { return k == eventKey })
	u.UpdatedAt = time.Now()
	favorites := slices.Clone(u.Favorites)
	if favorites == nil {
		favorites = []string{}
	}
	return favorites, nil
}

// AppendTickets はチケットを追加する。
func (r *MemoryUserRepo) AppendTickets(_ context.Context, id string, tickets []model.Ticket) (*model.User, error) {
	return r.mutateTickets(id, func(current []model.Ticket) ([]model.Ticket, error) {
		return append(current, tickets...), nil
	})
}

// SetTicketStatus はチケットの状態を変更する。
func (r *MemoryUserRepo) SetTicketStatus(_ context.Context, id, ticketID string, status, requireCurrent model.TicketStatus) (*model.User, error) {
	return r.mutateTickets(id, func(current []model.Ticket) ([]model.Ticket, error) {
		if err := applyTicketStatus(current, ticketID, status, requireCurrent); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// DeleteTicket はチケットを削除する。
func (r *MemoryUserRepo) DeleteTicket(_ context.Context, id, ticketID string) (*model.User, error) {
	return r.mutateTickets(id, func(current []model.Ticket) ([]model.Ticket, error) {
		return removeTicket(current, ticketID)
	})
}

func (r *MemoryUserRepo) mutateTickets(id string, fn func([]model.Ticket) ([]model.Ticket, error)) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	tickets, err := fn(slices.Clone(u.Tickets))
	if err != nil {
		return nil, err
	}
	u.Tickets = tickets
	u.UpdatedAt = time.Now()
	return cloneUser(u), nil
}

// MemorySessionRepo はメモリ上のセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]model.Session), now: time.Now}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は有効なセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryCatalogRepo はメモリ上のカタログイベントリポジトリ。
// 登録順を保持するためスライスで管理する。
type MemoryCatalogRepo struct {
	mu     sync.Mutex
	events []*model.CatalogEvent
}

// NewMemoryCatalogRepo はMemoryCatalogRepoを生成する。
func NewMemoryCatalogRepo() *MemoryCatalogRepo {
	return &MemoryCatalogRepo{}
}

func (r *MemoryCatalogRepo) indexLocked(id string) int {
	return slices.IndexFunc(r.events, func(e *model.CatalogEvent) bool { return e.ID == id })
}

// List は絞り込み条件に一致するイベントを返す。
func (r *MemoryCatalogRepo) List(_ context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := []*model.CatalogEvent{}
	for _, e := range r.events {
		if filter.Matches(e) {
			events = append(events, cloneCatalogEvent(e))
		}
	}
	return events, nil
}

// FindByID は指定IDのイベントを取得する。
func (r *MemoryCatalogRepo) FindByID(_ context.Context, id string) (*model.CatalogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return cloneCatalogEvent(r.events[i]), nil
	}
	return nil, nil
}

// Count はイベント数を返す。
func (r *MemoryCatalogRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), nil
}

// Create はイベントを作成する。
func (r *MemoryCatalogRepo) Create(_ context.Context, event *model.CatalogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(event.ID) >= 0 {
		return ErrDuplicate
	}
	r.events = append(r.events, cloneCatalogEvent(event))
	return nil
}

// Update はイベントを部分更新する。
func (r *MemoryCatalogRepo) Update(_ context.Context, id string, update model.CatalogEventUpdate, now time.Time) (*model.CatalogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return nil, nil
	}
	update.Apply(r.events[i])
	r.events[i].UpdatedAt = now
	return cloneCatalogEvent(r.events[i]), nil
}

// Delete は指定IDのイベントを削除する。
func (r *MemoryCatalogRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	r.events = slices.Delete(r.events, i, i+1)
	return nil
}

// SeedIfEmpty はイベントが1件もない場合に限り一括登録する。
func (r *MemoryCatalogRepo) SeedIfEmpty(_ context.Context, events []*model.CatalogEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) > 0 {
		return false, nil
	}
	for _, e := range events {
		r.events = append(r.events, cloneCatalogEvent(e))
	}
	return true, nil
}

// UpsertFromSource はフィード由来のイベントをUPSERTする。
func (r *MemoryCatalogRepo) UpsertFromSource(_ context.Context, event *model.CatalogEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.SourceID == event.SourceID && e.GUID == event.GUID {
			e.Title = event.Title
			e.Date = event.Date
			if event.ImageURL != "" {
				e.ImageURL = event.ImageURL
			}
			e.Description = event.Description
			e.Link = event.Link
			e.UpdatedAt = event.UpdatedAt
			return false, nil
		}
	}
	r.events = append(r.events, cloneCatalogEvent(event))
	return true, nil
}

// ListNeedingWeather は天気の取得・更新が必要なイベントを返す。
func (r *MemoryCatalogRepo) ListNeedingWeather(_ context.Context, staleBefore time.Time, limit int) ([]*model.CatalogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing, stale []*model.CatalogEvent
	for _, e := range r.events {
		switch {
		case e.Weather == nil || e.Weather.FetchedAt == nil:
			missing = append(missing, cloneCatalogEvent(e))
		case e.Weather.FetchedAt.Before(staleBefore):
			stale = append(stale, cloneCatalogEvent(e))
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].Weather.FetchedAt.Before(*stale[j].Weather.FetchedAt)
	})
	out := append(missing, stale...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateWeather はイベントの天気スナップショットを更新する。
func (r *MemoryCatalogRepo) UpdateWeather(_ context.Context, id string, weather model.WeatherSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	w := weather
	r.events[i].Weather = &w
	r.events[i].UpdatedAt = time.Now()
	return nil
}

// MemoryCategoryRepo はメモリ上のカテゴリリポジトリ。
type MemoryCategoryRepo struct {
	mu    sync.Mutex
	names []string
}

// NewMemoryCategoryRepo はMemoryCategoryRepoを生成する。
func NewMemoryCategoryRepo() *MemoryCategoryRepo {
	return &MemoryCategoryRepo{}
}

// List はカテゴリ名を登録順に返す。
func (r *MemoryCategoryRepo) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := slices.Clone(r.names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Add はカテゴリを追加する。
func (r *MemoryCategoryRepo) Add(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.names, name) {
		return ErrDuplicate
	}
	r.names = append(r.names, name)
	return nil
}

// Delete はカテゴリを削除する。
func (r *MemoryCategoryRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.names, name)
	if i < 0 {
		return ErrNotFound
	}
	r.names = slices.Delete(r.names, i, i+1)
	return nil
}

// SeedIfEmpty はカテゴリが1件もない場合に限り登録する。
func (r *MemoryCategoryRepo) SeedIfEmpty(_ context.Context, names []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.names) > 0 {
		return false, nil
	}
	r.names = slices.Clone(names)
	return true, nil
}

// MemoryFeedSourceRepo はメモリ上の取り込み元フィードリポジトリ。
type MemoryFeedSourceRepo struct {
	mu      sync.Mutex
	sources []*model.FeedSource
}

// NewMemoryFeedSourceRepo はMemoryFeedSourceRepoを生成する。
func NewMemoryFeedSourceRepo() *MemoryFeedSourceRepo {
	return &MemoryFeedSourceRepo{}
}

func (r *MemoryFeedSourceRepo) findLocked(match func(*model.FeedSource) bool) *model.FeedSource {
	for _, s := range r.sources {
		if match(s) {
			c := *s
			return &c
		}
	}
	return nil
}

// FindByID は指定IDの取り込み元を取得する。
func (r *MemoryFeedSourceRepo) FindByID(_ context.Context, id string) (*model.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(s *model.FeedSource) bool { return s.ID == id }), nil
}

// FindByFeedURL はフィードURLで取り込み元を検索する。
func (r *MemoryFeedSourceRepo) FindByFeedURL(_ context.Context, feedURL string) (*model.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(s *model.FeedSource) bool { return s.FeedURL == feedURL }), nil
}

// List は全取り込み元を返す。
func (r *MemoryFeedSourceRepo) List(_ context.Context) ([]*model.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.FeedSource, 0, len(r.sources))
	for _, s := range r.sources {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

// Create は取り込み元を作成する。
func (r *MemoryFeedSourceRepo) Create(_ context.Context, source *model.FeedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.FeedURL == source.FeedURL {
			return ErrDuplicate
		}
	}
	c := *source
	r.sources = append(r.sources, &c)
	return nil
}

// Delete は取り込み元を削除する。
func (r *MemoryFeedSourceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.sources, func(s *model.FeedSource) bool { return s.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	r.sources = slices.Delete(r.sources, i, i+1)
	return nil
}

// ListDueForFetch はフェッチ対象の取り込み元を返す。
func (r *MemoryFeedSourceRepo) ListDueForFetch(_ context.Context, now time.Time) ([]*model.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FeedSource
	for _, s := range r.sources {
		if s.FetchStatus == model.FetchStatusActive && !s.NextFetchAt.After(now) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextFetchAt.Before(out[j].NextFetchAt) })
	return out, nil
}

// UpdateFetchState はフェッチ状態を更新する。
func (r *MemoryFeedSourceRepo) UpdateFetchState(_ context.Context, source *model.FeedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.ID == source.ID {
			s.FetchStatus = source.FetchStatus
			s.ConsecutiveErrors = source.ConsecutiveErrors
			s.ErrorMessage = source.ErrorMessage
			s.NextFetchAt = source.NextFetchAt
			s.ETag = source.ETag
			s.LastModified = source.LastModified
			s.Title = source.Title
			s.SiteURL = source.SiteURL
			s.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// compile-time interface check
var (
	_ UserRepository       = (*MemoryUserRepo)(nil)
	_ SessionRepository    = (*MemorySessionRepo)(nil)
	_ CatalogRepository    = (*MemoryCatalogRepo)(nil)
	_ CategoryRepository   = (*MemoryCategoryRepo)(nil)
	_ FeedSourceRepository = (*MemoryFeedSourceRepo)(nil)
)
