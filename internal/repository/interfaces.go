// Package repository はデータ永続化のインターフェースと実装（PostgreSQL / MongoDB / メモリ）を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// 永続化層が返す番兵エラー。サービス層でAPIErrorに変換する。
var (
	// ErrNotFound は更新・削除対象が存在しない場合のエラー。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail はメールアドレスの一意制約違反。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicate は一意制約違反（カテゴリ名、フィードURL等）。
	ErrDuplicate = errors.New("duplicate record")
	// ErrTicketNotFound はユーザーに指定チケットが存在しない場合のエラー。
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketStatusConflict はチケットの現在状態が条件と一致しない場合のエラー。
	ErrTicketStatusConflict = errors.New("ticket status conflict")
)

// UserRepository はユーザーデータの永続化インターフェース。
// お気に入りとチケットの変更はいずれも単一のアトミック操作として実装する。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// CountByRole は指定ロールのユーザー数を返す。
	CountByRole(ctx context.Context, role model.Role) (int, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーを部分更新し、更新後のレコードを返す。
	// 見つからない場合はnil、メールアドレス重複時はErrDuplicateEmailを返す。
	Update(ctx context.Context, id string, update model.UserUpdate, now time.Time) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。見つからない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error

	// AddFavorite は未登録の場合のみイベントキーをお気に入りに追加し、更新後の一覧を返す。
	// ユーザーが見つからない場合はErrNotFoundを返す。
	AddFavorite(ctx context.Context, id, eventKey string) ([]string, error)

	// RemoveFavorite はイベントキーをお気に入りから除去し、更新後の一覧を返す。
	// 未登録のキーは何もしない。ユーザーが見つからない場合はErrNotFoundを返す。
	RemoveFavorite(ctx context.Context, id, eventKey string) ([]string, error)

	// AppendTickets はチケットを追加し、更新後のユーザーを返す。
	AppendTickets(ctx context.Context, id string, tickets []model.Ticket) (*model.User, error)

	// SetTicketStatus はチケットの状態を変更し、更新後のユーザーを返す。
	// requireCurrentが空でない場合、現在の状態が一致しなければErrTicketStatusConflictを返す。
	SetTicketStatus(ctx context.Context, id, ticketID string, status, requireCurrent model.TicketStatus) (*model.User, error)

	// DeleteTicket はチケットを削除し、更新後のユーザーを返す。
	DeleteTicket(ctx context.Context, id, ticketID string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CatalogRepository はカタログイベントの永続化インターフェース。
type CatalogRepository interface {
	// List は絞り込み条件に一致するイベントを作成日時の昇順で返す。
	List(ctx context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error)

	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CatalogEvent, error)

	// Count はイベント数を返す。
	Count(ctx context.Context) (int, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.CatalogEvent) error

	// Update はイベントを部分更新し、更新後のレコードを返す。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, update model.CatalogEventUpdate, now time.Time) (*model.CatalogEvent, error)

	// Delete は指定IDのイベントを削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// SeedIfEmpty はイベントが1件もない場合に限り、指定イベントを一括登録する。
	// 登録した場合はtrueを返す。複数回呼び出しても重複登録しない。
	SeedIfEmpty(ctx context.Context, events []*model.CatalogEvent) (bool, error)

	// UpsertFromSource はフィード由来のイベントを(source_id, guid)で照合してUPSERTする。
	// 新規作成の場合はtrueを返す。
	UpsertFromSource(ctx context.Context, event *model.CatalogEvent) (bool, error)

	// ListNeedingWeather は天気未取得またはstaleBeforeより前に取得したイベントを返す。
	// 未取得を優先し、次に取得日時が古い順に最大limit件を返す。
	ListNeedingWeather(ctx context.Context, staleBefore time.Time, limit int) ([]*model.CatalogEvent, error)

	// UpdateWeather はイベントの天気スナップショットを更新する。
	UpdateWeather(ctx context.Context, id string, weather model.WeatherSnapshot) error
}

// CategoryRepository はカテゴリの永続化インターフェース。
type CategoryRepository interface {
	// List はカテゴリ名を登録順に返す。
	List(ctx context.Context) ([]string, error)
	// Add はカテゴリを追加する。重複時はErrDuplicateを返す。
	Add(ctx context.Context, name string) error
	// Delete はカテゴリを削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, name string) error
	// SeedIfEmpty はカテゴリが1件もない場合に限り、指定カテゴリを登録する。
	SeedIfEmpty(ctx context.Context, names []string) (bool, error)
}

// FeedSourceRepository はカタログ取り込み元フィードの永続化インターフェース。
type FeedSourceRepository interface {
	// FindByID は指定IDの取り込み元を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FeedSource, error)

	// FindByFeedURL はフィードURLで取り込み元を検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.FeedSource, error)

	// List は全取り込み元を作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.FeedSource, error)

	// Create は取り込み元を作成する。フィードURL重複時はErrDuplicateを返す。
	Create(ctx context.Context, source *model.FeedSource) error

	// Delete は取り込み元を削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// ListDueForFetch はnext_fetch_at <= now かつ fetch_status = 'active' の取り込み元を返す。
	ListDueForFetch(ctx context.Context, now time.Time) ([]*model.FeedSource, error)

	// UpdateFetchState はフェッチ状態を更新する。
	// fetch_status、consecutive_errors、error_message、next_fetch_at、etag、last_modified、title、site_urlを更新する。
	UpdateFetchState(ctx context.Context, source *model.FeedSource) error
}
