// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。ユーザー管理とカタログ編集が可能。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かを判定する。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はサービス利用ユーザーを表す。
// PasswordHashはbcryptハッシュで、APIレスポンスには決して含めない。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Favorites    []string
	Tickets      []Ticket
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin は管理者ロールかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasFavorite は指定イベントキーがお気に入りに含まれるかを返す。
func (u *User) HasFavorite(eventKey string) bool {
	return slices.Contains(u.Favorites, eventKey)
}

// FindTicket は指定IDのチケットを返す。見つからない場合はnilを返す。
func (u *User) FindTicket(ticketID string) *Ticket {
	for i := range u.Tickets {
		if u.Tickets[i].ID == ticketID {
			return &u.Tickets[i]
		}
	}
	return nil
}

// UserUpdate はユーザーの部分更新内容。nilのフィールドは変更しない。
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Role         *Role
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil && u.Role == nil
}

// TicketStatus はチケットの状態を表す。
type TicketStatus string

const (
	TicketStatusUpcoming  TicketStatus = "Upcoming"
	TicketStatusCompleted TicketStatus = "Completed"
	TicketStatusCancelled TicketStatus = "Cancelled"
	TicketStatusRefunded  TicketStatus = "Refunded"
)

// Valid はチケット状態が定義済みの値かを判定する。
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusUpcoming, TicketStatusCompleted, TicketStatusCancelled, TicketStatusRefunded:
		return true
	default:
		return false
	}
}

// Ticket はユーザーに埋め込まれる購入済みチケット。
type Ticket struct {
	ID          string
	EventRef    string
	EventName   string
	EventDate   string
	Location    string
	TicketType  string
	Quantity    int
	UnitPrice   decimal.Decimal
	Status      TicketStatus
	PurchasedAt time.Time
}

// Total はチケットの小計（単価×枚数）を返す。
func (t Ticket) Total() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
