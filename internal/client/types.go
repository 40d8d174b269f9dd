package client

import "time"

// User はAPIが返すユーザーレコード。パスワード情報は含まれない。
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Favorites []string  `json:"favorites"`
	Tickets   []Ticket  `json:"tickets"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == "admin"
}

func (u User) clone() User {
	out := u
	out.Favorites = append([]string(nil), u.Favorites...)
	out.Tickets = append([]Ticket(nil), u.Tickets...)
	return out
}

// Ticket は購入済みチケット。金額は小数点以下2桁の文字列。
type Ticket struct {
	ID          string    `json:"id"`
	EventRef    string    `json:"eventRef"`
	EventName   string    `json:"eventName"`
	EventDate   string    `json:"eventDate"`
	Location    string    `json:"location"`
	TicketType  string    `json:"ticketType"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unitPrice"`
	Total       string    `json:"total"`
	Status      string    `json:"status"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

// Selection はチケット種別ごとの購入枚数。
type Selection struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

// Booking はチケット購入のリクエスト。
type Booking struct {
	EventRef   string      `json:"eventRef"`
	EventName  string      `json:"eventName"`
	EventDate  string      `json:"eventDate"`
	Location   string      `json:"location"`
	Selections []Selection `json:"selections"`
}

// QuoteLine は見積もりの明細行。
type QuoteLine struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Amount    string `json:"amount"`
}

// Quote はチケット購入の見積もり。
type Quote struct {
	Lines         []QuoteLine `json:"lines"`
	TotalQuantity int         `json:"totalQuantity"`
	Subtotal      string      `json:"subtotal"`
	Fee           string      `json:"fee"`
	Total         string      `json:"total"`
}

// BookingResult はチケット購入の結果。
type BookingResult struct {
	Tickets []Ticket `json:"tickets"`
	Quote   Quote    `json:"quote"`
	User    User     `json:"user"`
}

// ProfileUpdate はプロフィールの部分更新。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UserUpdate は管理者によるユーザーの部分更新。
type UserUpdate struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// NewUser は管理者によるユーザー作成のリクエスト。
type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Venue はリモートイベントの会場。
type Venue struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// RemoteEvent は外部プロバイダーのイベント。
type RemoteEvent struct {
	ID        string `json:"id"`
	Ref       string `json:"ref"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	ImageURL  string `json:"imageUrl"`
	Location  string `json:"location"`
	Category  string `json:"category"`
	Price     string `json:"price,omitempty"`
	TicketURL string `json:"ticketUrl,omitempty"`
	Venue     *Venue `json:"venue,omitempty"`
}

// EventPage はイベント検索結果の1ページ分。
type EventPage struct {
	Events        []RemoteEvent `json:"events"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalPages    int           `json:"totalPages"`
	TotalElements int           `json:"totalElements"`
}

// Weather は現在の天気。
type Weather struct {
	Temp        int     `json:"temp"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Icon        string  `json:"icon"`
}

// Place は周辺施設。
type Place struct {
	PlaceID  string   `json:"placeId"`
	Name     string   `json:"name"`
	Rating   float64  `json:"rating"`
	Vicinity string   `json:"vicinity"`
	Types    []string `json:"types"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}
