package model

import (
	"strings"
	"time"
)

// イベントキーの名前空間。
const (
	SourceCatalog      = "catalog"
	SourceTicketmaster = "ticketmaster"
	SourceFeed         = "feed"
)

// EventRef は "<source>:<nativeID>" 形式のイベントキーを生成する。
// sourceが空の場合はIDをそのまま返す。
func EventRef(source, id string) string {
	if source == "" {
		return id
	}
	return source + ":" + id
}

// ParseEventRef はイベントキーを名前空間とIDに分解する。
// 既知の名前空間を持たないキーはok=falseを返す。
func ParseEventRef(ref string) (source, id string, ok bool) {
	source, id, found := strings.Cut(ref, ":")
	if !found || id == "" {
		return "", ref, false
	}
	switch source {
	case SourceCatalog, SourceTicketmaster, SourceFeed:
		return source, id, true
	default:
		return "", ref, false
	}
}

// WeatherSnapshot はカタログイベントに表示する天気の要約。
type WeatherSnapshot struct {
	Temp      string
	Condition string
	FetchedAt *time.Time
}

// CatalogEvent は管理者が編集するカタログ上のイベント。
type CatalogEvent struct {
	ID          string
	Title       string
	Date        string
	ImageURL    string
	Location    string
	Category    string
	Price       string
	Description string
	Weather     *WeatherSnapshot

	// フィード取り込みで作成されたイベントのみ設定される
	SourceID string
	GUID     string
	Link     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref はカタログイベントの名前空間付きキーを返す。
func (e *CatalogEvent) Ref() string {
	return EventRef(SourceCatalog, e.ID)
}

// City は開催地文字列の最後のカンマ区切り要素を都市名として返す。
func (e *CatalogEvent) City() string {
	parts := strings.Split(e.Location, ",")
	return strings.TrimSpace(parts[len(parts)-1])
}

// CatalogEventUpdate はカタログイベントの部分更新内容。nilのフィールドは変更しない。
type CatalogEventUpdate struct {
	Title       *string
	Date        *string
	ImageURL    *string
	Location    *string
	Category    *string
	Price       *string
	Description *string
	Weather     *WeatherSnapshot
}

// Apply は部分更新をイベントに適用する。
func (u CatalogEventUpdate) Apply(e *CatalogEvent) {
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.Date != nil {
		e.Date = *u.Date
	}
	if u.ImageURL != nil {
		e.ImageURL = *u.ImageURL
	}
	if u.Location != nil {
		e.Location = *u.Location
	}
	if u.Category != nil {
		e.Category = *u.Category
	}
	if u.Price != nil {
		e.Price = *u.Price
	}
	if u.Description != nil {
		e.Description = *u.Description
	}
	if u.Weather != nil {
		w := *u.Weather
		e.Weather = &w
	}
}

// CatalogFilter はカタログ一覧の絞り込み条件。
type CatalogFilter struct {
	Category string
	Keyword  string
}

// Matches はイベントが絞り込み条件に一致するかを判定する。
// キーワードはタイトルと開催地に対して大文字小文字を区別せずに照合する。
func (f CatalogFilter) Matches(e *CatalogEvent) bool {
	if f.Category != "" && !strings.EqualFold(e.Category, f.Category) {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(e.Title), kw) && !strings.Contains(strings.ToLower(e.Location), kw) {
			return false
		}
	}
	return true
}

// RemoteEvent はチケット販売プロバイダーから取得した一時的なイベント。永続化しない。
type RemoteEvent struct {
	ID        string
	Title     string
	Date      string
	ImageURL  string
	Location  string
	Category  string
	Price     string
	TicketURL string
	Venue     *Venue
}

// Ref はリモートイベントの名前空間付きキーを返す。
func (e RemoteEvent) Ref() string {
	return EventRef(SourceTicketmaster, e.ID)
}

// Venue は会場情報。座標が提供されない場合はnil。
type Venue struct {
	Name      string
	Latitude  *float64
	Longitude *float64
}

// RemoteEventPage は検索結果の1ページ分。
type RemoteEventPage struct {
	Events        []RemoteEvent
	Page          int
	Size          int
	TotalPages    int
	TotalElements int
}

// Weather は天気プロバイダーから取得した現在の天気。
type Weather struct {
	Temp        int
	Condition   string
	Description string
	Humidity    int
	WindSpeed   float64
	Icon        string
}

// Place は周辺施設の情報。
type Place struct {
	PlaceID  string
	Name     string
	Rating   float64
	Vicinity string
	Types    []string
	Lat      float64
	Lng      float64
}
