package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/ticket"
)

// TicketServiceInterface はチケットハンドラーが必要とするサービスインターフェース。
type TicketServiceInterface interface {
	Book(ctx context.Context, userID string, in ticket.BookInput) (*ticket.BookResult, error)
	ListForUser(ctx context.Context, userID string) ([]model.Ticket, error)
	Cancel(ctx context.Context, userID, ticketID string) (*model.User, error)
	SetStatus(ctx context.Context, userID, ticketID string, status model.TicketStatus) (*model.User, error)
	Delete(ctx context.Context, userID, ticketID string) (*model.User, error)
	ListAll(ctx context.Context, limit int) ([]ticket.OwnedTicket, error)
	Stats(ctx context.Context) (*ticket.Stats, error)
}

// TicketHandler はチケット予約と管理のHTTPハンドラー。
type TicketHandler struct {
	service TicketServiceInterface
}

// NewTicketHandler はTicketHandlerを生成する。
func NewTicketHandler(service TicketServiceInterface) *TicketHandler {
	return &TicketHandler{service: service}
}

type selectionRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type quoteRequest struct {
	Selections []selectionRequest `json:"selections"`
}

type bookRequest struct {
	EventRef   string             `json:"eventRef"`
	EventName  string             `json:"eventName"`
	EventDate  string             `json:"eventDate"`
	Location   string             `json:"location"`
	Selections []selectionRequest `json:"selections"`
}

type bookResponse struct {
	Tickets []ticketResponse `json:"tickets"`
	Quote   quoteResponse    `json:"quote"`
	User    userResponse     `json:"user"`
}

type setTicketStatusRequest struct {
	Status string `json:"status"`
}

func toSelections(in []selectionRequest) []ticket.Selection {
	out := make([]ticket.Selection, len(in))
	for i, s := range in {
		out[i] = ticket.Selection{Type: s.Type, Quantity: s.Quantity}
	}
	return out
}

// Types はチケット種別一覧を返す。
// GET /api/ticket-types
func (h *TicketHandler) Types(w http.ResponseWriter, r *http.Request) {
	types := ticket.Types()
	out := make([]ticketTypeResponse, len(types))
	for i, t := range types {
		out[i] = ticketTypeResponse{
			ID:          t.ID,
			Name:        t.Name,
			Price:       t.Price.StringFixed(2),
			Description: t.Description,
			Available:   t.Available,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Quote は選択内容の料金見積もりを返す。
// POST /api/tickets/quote
func (h *TicketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := ticket.NewQuote(toSelections(req.Selections))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponse(q))
}

// List はユーザーのチケット一覧を返す。
// GET /api/users/{id}/tickets
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.ListForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponses(tickets))
}

// Book はチケットを予約する。
// POST /api/users/{id}/tickets
func (h *TicketHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Book(r.Context(), chi.URLParam(r, "id"), ticket.BookInput{
		EventRef:   req.EventRef,
		EventName:  req.EventName,
		EventDate:  req.EventDate,
		Location:   req.Location,
		Selections: toSelections(req.Selections),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookResponse{
		Tickets: toTicketResponses(result.Tickets),
		Quote:   toQuoteResponse(result.Quote),
		User:    toUserResponse(result.User),
	})
}

// Cancel は開催前のチケットをキャンセルし、更新後のユーザーを返す。
// POST /api/users/{id}/tickets/{ticketId}/cancel
func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ticketId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// SetStatus は管理者がチケット状態を変更する。
// PATCH /api/users/{id}/tickets/{ticketId}
func (h *TicketHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req setTicketStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ticketId"), model.TicketStatus(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Delete は管理者がチケットを削除する。
// DELETE /api/users/{id}/tickets/{ticketId}
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ticketId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ListAll は全ユーザーのチケットを新しい順で返す。
// GET /api/admin/tickets?limit=
func (h *TicketHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteValidationError(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	owned, err := h.service.ListAll(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]ownedTicketResponse, len(owned))
	for i, o := range owned {
		out[i] = ownedTicketResponse{ticketResponse: toTicketResponse(o.Ticket), UserID: o.UserID, UserName: o.UserName}
	}
	writeJSON(w, http.StatusOK, out)
}

// Stats は管理ダッシュボードの集計値を返す。
// GET /api/admin/stats
func (h *TicketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Users:         stats.Users,
		CatalogEvents: stats.CatalogEvents,
		TicketsSold:   stats.TicketsSold,
		Revenue:       stats.Revenue.StringFixed(2),
	})
}
