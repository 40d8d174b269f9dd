package handler

import (
	"time"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/ticket"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Role      string           `json:"role"`
	Favorites []string         `json:"favorites"`
	Tickets   []ticketResponse `json:"tickets"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ticketResponse はチケットのAPIレスポンス。金額は小数点以下2桁の文字列。
type ticketResponse struct {
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

// ownedTicketResponse は管理画面向けの所有者情報付きチケット。
type ownedTicketResponse struct {
	ticketResponse
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ticketTypeResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Available   int    `json:"available"`
}

type quoteLineResponse struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Amount    string `json:"amount"`
}

type quoteResponse struct {
	Lines         []quoteLineResponse `json:"lines"`
	TotalQuantity int                 `json:"totalQuantity"`
	Subtotal      string              `json:"subtotal"`
	Fee           string              `json:"fee"`
	Total         string              `json:"total"`
}

type statsResponse struct {
	Users         int    `json:"users"`
	CatalogEvents int    `json:"catalogEvents"`
	TicketsSold   int    `json:"ticketsSold"`
	Revenue       string `json:"revenue"`
}

type weatherSnapshotResponse struct {
	Temp      string     `json:"temp"`
	Condition string     `json:"condition"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}

// catalogEventResponse はカタログイベントのAPIレスポンス。
type catalogEventResponse struct {
	ID          string                   `json:"id"`
	Ref         string                   `json:"ref"`
	Title       string                   `json:"title"`
	Date        string                   `json:"date"`
	ImageURL    string                   `json:"imageUrl"`
	Location    string                   `json:"location"`
	Category    string                   `json:"category"`
	Price       string                   `json:"price,omitempty"`
	Description string                   `json:"description,omitempty"`
	Weather     *weatherSnapshotResponse `json:"weather,omitempty"`
	SourceID    string                   `json:"sourceId,omitempty"`
	Link        string                   `json:"link,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// sourceResponse は取り込み元フィードのAPIレスポンス。
type sourceResponse struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	SiteURL           string    `json:"siteUrl"`
	Title             string    `json:"title"`
	Category          string    `json:"category"`
	FetchStatus       string    `json:"fetchStatus"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	NextFetchAt       time.Time `json:"nextFetchAt"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type venueResponse struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type remoteEventResponse struct {
	ID        string         `json:"id"`
	Ref       string         `json:"ref"`
	Title     string         `json:"title"`
	Date      string         `json:"date"`
	ImageURL  string         `json:"imageUrl"`
	Location  string         `json:"location"`
	Category  string         `json:"category"`
	Price     string         `json:"price,omitempty"`
	TicketURL string         `json:"ticketUrl,omitempty"`
	Venue     *venueResponse `json:"venue,omitempty"`
}

type remoteEventPageResponse struct {
	Events        []remoteEventResponse `json:"events"`
	Page          int                   `json:"page"`
	Size          int                   `json:"size"`
	TotalPages    int                   `json:"totalPages"`
	TotalElements int                   `json:"totalElements"`
}

type weatherResponse struct {
	Temp        int     `json:"temp"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Icon        string  `json:"icon"`
}

type locationResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type placeResponse struct {
	PlaceID  string           `json:"placeId"`
	Name     string           `json:"name"`
	Rating   float64          `json:"rating"`
	Vicinity string           `json:"vicinity"`
	Types    []string         `json:"types"`
	Location locationResponse `json:"location"`
}

// --- 変換 ---

func toUserResponse(u *model.User) userResponse {
	favorites := u.Favorites
	if favorites == nil {
		favorites = []string{}
	}
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		Favorites: favorites,
		Tickets:   toTicketResponses(u.Tickets),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toUserResponses(users []*model.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	return out
}

func toTicketResponse(t model.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		EventRef:    t.EventRef,
		EventName:   t.EventName,
		EventDate:   t.EventDate,
		Location:    t.Location,
		TicketType:  t.TicketType,
		Quantity:    t.Quantity,
		UnitPrice:   t.UnitPrice.StringFixed(2),
		Total:       t.Total().StringFixed(2),
		Status:      string(t.Status),
		PurchasedAt: t.PurchasedAt,
	}
}

func toTicketResponses(tickets []model.Ticket) []ticketResponse {
	out := make([]ticketResponse, len(tickets))
	for i, t := range tickets {
		out[i] = toTicketResponse(t)
	}
	return out
}

func toQuoteResponse(q *ticket.Quote) quoteResponse {
	lines := make([]quoteLineResponse, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = quoteLineResponse{
			Type:      l.Type.ID,
			Name:      l.Type.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Amount:    l.Amount.StringFixed(2),
		}
	}
	return quoteResponse{
		Lines:         lines,
		TotalQuantity: q.TotalQuantity,
		Subtotal:      q.Subtotal.StringFixed(2),
		Fee:           q.Fee.StringFixed(2),
		Total:         q.Total.StringFixed(2),
	}
}

func toCatalogEventResponse(e *model.CatalogEvent) catalogEventResponse {
	resp := catalogEventResponse{
		ID:          e.ID,
		Ref:         e.Ref(),
		Title:       e.Title,
		Date:        e.Date,
		ImageURL:    e.ImageURL,
		Location:    e.Location,
		Category:    e.Category,
		Price:       e.Price,
		Description: e.Description,
		SourceID:    e.SourceID,
		Link:        e.Link,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.Weather != nil {
		resp.Weather = &weatherSnapshotResponse{
			Temp:      e.Weather.Temp,
			Condition: e.Weather.Condition,
			FetchedAt: e.Weather.FetchedAt,
		}
	}
	return resp
}

func toCatalogEventResponses(events []*model.CatalogEvent) []catalogEventResponse {
	out := make([]catalogEventResponse, len(events))
	for i, e := range events {
		out[i] = toCatalogEventResponse(e)
	}
	return out
}

func toSourceResponse(s *model.FeedSource) sourceResponse {
	return sourceResponse{
		ID:                s.ID,
		URL:               s.FeedURL,
		SiteURL:           s.SiteURL,
		Title:             s.Title,
		Category:          s.Category,
		FetchStatus:       string(s.FetchStatus),
		ConsecutiveErrors: s.ConsecutiveErrors,
		ErrorMessage:      s.ErrorMessage,
		NextFetchAt:       s.NextFetchAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toRemoteEventPageResponse(p *model.RemoteEventPage) remoteEventPageResponse {
	events := make([]remoteEventResponse, len(p.Events))
	for i, e := range p.Events {
		events[i] = remoteEventResponse{
			ID:        e.ID,
			Ref:       e.Ref(),
			Title:     e.Title,
			Date:      e.Date,
			ImageURL:  e.ImageURL,
			Location:  e.Location,
			Category:  e.Category,
			Price:     e.Price,
			TicketURL: e.TicketURL,
		}
		if e.Venue != nil {
			events[i].Venue = &venueResponse{Name: e.Venue.Name, Latitude: e.Venue.Latitude, Longitude: e.Venue.Longitude}
		}
	}
	return remoteEventPageResponse{
		Events:        events,
		Page:          p.Page,
		Size:          p.Size,
		TotalPages:    p.TotalPages,
		TotalElements: p.TotalElements,
	}
}

func toWeatherResponse(w *model.Weather) weatherResponse {
	return weatherResponse{
		Temp:        w.Temp,
		Condition:   w.Condition,
		Description: w.Description,
		Humidity:    w.Humidity,
		WindSpeed:   w.WindSpeed,
		Icon:        w.Icon,
	}
}

func toPlaceResponses(places []model.Place) []placeResponse {
	out := make([]placeResponse, len(places))
	for i, p := range places {
		types := p.Types
		if types == nil {
			types = []string{}
		}
		out[i] = placeResponse{
			PlaceID:  p.PlaceID,
			Name:     p.Name,
			Rating:   p.Rating,
			Vicinity: p.Vicinity,
			Types:    types,
			Location: locationResponse{Lat: p.Lat, Lng: p.Lng},
		}
	}
	return out
}
