package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/ticket"
)

// --- モック定義 ---

type mockTicketService struct {
	TicketServiceInterface
	bookFn      func(ctx context.Context, userID string, in ticket.BookInput) (*ticket.BookResult, error)
	listFn      func(ctx context.Context, userID string) ([]model.Ticket, error)
	cancelFn    func(ctx context.Context, userID, ticketID string) (*model.User, error)
	setStatusFn func(ctx context.Context, userID, ticketID string, status model.TicketStatus) (*model.User, error)
	listAllFn   func(ctx context.Context, limit int) ([]ticket.OwnedTicket, error)
	statsFn     func(ctx context.Context) (*ticket.Stats, error)
}

func (m *mockTicketService) Book(ctx context.Context, userID string, in ticket.BookInput) (*ticket.BookResult, error) {
	return m.bookFn(ctx, userID, in)
}

func (m *mockTicketService) ListForUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	return m.listFn(ctx, userID)
}

func (m *mockTicketService) Cancel(ctx context.Context, userID, ticketID string) (*model.User, error) {
	return m.cancelFn(ctx, userID, ticketID)
}

func (m *mockTicketService) SetStatus(ctx context.Context, userID, ticketID string, status model.TicketStatus) (*model.User, error) {
	return m.setStatusFn(ctx, userID, ticketID, status)
}

func (m *mockTicketService) ListAll(ctx context.Context, limit int) ([]ticket.OwnedTicket, error) {
	return m.listAllFn(ctx, limit)
}

func (m *mockTicketService) Stats(ctx context.Context) (*ticket.Stats, error) {
	return m.statsFn(ctx)
}

func sampleTicket() model.Ticket {
	return model.Ticket{
		ID:          "t-1",
		EventRef:    "catalog:1",
		EventName:   "Jazz Night",
		EventDate:   "2026-11-01",
		Location:    "Blue Hall, Chicago",
		TicketType:  "vip",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(120),
		Status:      model.TicketStatusUpcoming,
		PurchasedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- テスト ---

func TestTicketHandler_Types(t *testing.T) {
	w := httptest.NewRecorder()
	NewTicketHandler(&mockTicketService{}).Types(w, httptest.NewRequest(http.MethodGet, "/api/ticket-types", nil))

	var types []ticketTypeResponse
	if err := json.NewDecoder(w.Body).Decode(&types); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(types) != len(ticket.Types()) {
		t.Fatalf("len = %d, want %d", len(types), len(ticket.Types()))
	}
	for _, tt := range types {
		if tt.ID == "general" && tt.Price != "45.00" {
			t.Errorf("general price = %q, want 45.00", tt.Price)
		}
	}
}

func TestTicketHandler_Quote(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantTotal string
	}{
		{"general and vip", `{"selections":[{"type":"general","quantity":2},{"type":"vip","quantity":1}]}`, http.StatusOK, "231.00"},
		{"zero tickets", `{"selections":[{"type":"general","quantity":0}]}`, http.StatusBadRequest, ""},
		{"no selections", `{"selections":[]}`, http.StatusBadRequest, ""},
		{"unknown type", `{"selections":[{"type":"balcony","quantity":1}]}`, http.StatusBadRequest, ""},
		{"negative", `{"selections":[{"type":"general","quantity":-1}]}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewTicketHandler(&mockTicketService{}).Quote(w, jsonRequest(http.MethodPost, "/api/tickets/quote", tt.body))
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidTicketSelection {
					t.Errorf("code = %q", body["code"])
				}
				return
			}
			var q quoteResponse
			_ = json.NewDecoder(w.Body).Decode(&q)
			if q.Subtotal != "210.00" || q.Fee != "21.00" || q.Total != tt.wantTotal || q.TotalQuantity != 3 {
				t.Errorf("quote = %+v", q)
			}
		})
	}
}

func TestTicketHandler_Book(t *testing.T) {
	svc := &mockTicketService{
		bookFn: func(ctx context.Context, userID string, in ticket.BookInput) (*ticket.BookResult, error) {
			if userID != "user-123" || in.EventRef != "catalog:1" || len(in.Selections) != 1 {
				t.Errorf("userID=%q input=%+v", userID, in)
			}
			q, err := ticket.NewQuote(in.Selections)
			if err != nil {
				return nil, err
			}
			u := sampleUser()
			u.Tickets = []model.Ticket{sampleTicket()}
			return &ticket.BookResult{User: u, Tickets: u.Tickets, Quote: q}, nil
		},
	}
	req := withChiURLParams(jsonRequest(http.MethodPost, "/api/users/user-123/tickets",
		`{"eventRef":"catalog:1","eventName":"Jazz Night","selections":[{"type":"vip","quantity":2}]}`), "id", "user-123")
	w := httptest.NewRecorder()
	NewTicketHandler(svc).Book(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body bookResponse
	_ = json.NewDecoder(w.Body).Decode(&body)
	if len(body.Tickets) != 1 || body.Tickets[0].Total != "240.00" {
		t.Errorf("tickets = %+v", body.Tickets)
	}
	if body.Quote.Total != "264.00" {
		t.Errorf("quote total = %q, want 264.00", body.Quote.Total)
	}
	if len(body.User.Tickets) != 1 {
		t.Errorf("user tickets = %d, want 1", len(body.User.Tickets))
	}
}

func TestTicketHandler_Cancel_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", model.NewTicketNotFoundError("t-9"), http.StatusNotFound},
		{"already cancelled", model.NewTicketNotCancellableError(model.TicketStatusCancelled), http.StatusConflict},
		{"missing user", model.NewUserNotFoundError(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTicketService{
				cancelFn: func(context.Context, string, string) (*model.User, error) { return nil, tt.err },
			}
			req := withChiURLParams(httptest.NewRequest(http.MethodPost, "/api/users/user-123/tickets/t-9/cancel", nil),
				"id", "user-123", "ticketId", "t-9")
			w := httptest.NewRecorder()
			NewTicketHandler(svc).Cancel(w, req)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestTicketHandler_SetStatus_PassesStatus(t *testing.T) {
	svc := &mockTicketService{
		setStatusFn: func(ctx context.Context, userID, ticketID string, status model.TicketStatus) (*model.User, error) {
			if status != model.TicketStatusRefunded {
				t.Errorf("status = %q, want Refunded", status)
			}
			u := sampleUser()
			tk := sampleTicket()
			tk.Status = status
			u.Tickets = []model.Ticket{tk}
			return u, nil
		},
	}
	req := withChiURLParams(jsonRequest(http.MethodPatch, "/api/users/user-123/tickets/t-1", `{"status":"Refunded"}`),
		"id", "user-123", "ticketId", "t-1")
	w := httptest.NewRecorder()
	NewTicketHandler(svc).SetStatus(w, req)

	var body userResponse
	_ = json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusOK || len(body.Tickets) != 1 || body.Tickets[0].Status != "Refunded" {
		t.Errorf("status=%d body=%+v", w.Code, body)
	}
}

func TestTicketHandler_ListAll(t *testing.T) {
	var gotLimit int
	svc := &mockTicketService{
		listAllFn: func(ctx context.Context, limit int) ([]ticket.OwnedTicket, error) {
			gotLimit = limit
			return []ticket.OwnedTicket{{Ticket: sampleTicket(), UserID: "user-123", UserName: "Test User"}}, nil
		},
	}
	h := NewTicketHandler(svc)

	w := httptest.NewRecorder()
	h.ListAll(w, httptest.NewRequest(http.MethodGet, "/api/admin/tickets?limit=5", nil))
	if w.Code != http.StatusOK || gotLimit != 5 {
		t.Fatalf("status=%d limit=%d", w.Code, gotLimit)
	}
	var raw []map[string]any
	_ = json.NewDecoder(w.Body).Decode(&raw)
	if len(raw) != 1 || raw[0]["userName"] != "Test User" || raw[0]["id"] != "t-1" {
		t.Errorf("body = %v", raw)
	}

	w = httptest.NewRecorder()
	h.ListAll(w, httptest.NewRequest(http.MethodGet, "/api/admin/tickets?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", w.Code)
	}
}

func TestTicketHandler_Stats(t *testing.T) {
	svc := &mockTicketService{
		statsFn: func(context.Context) (*ticket.Stats, error) {
			return &ticket.Stats{Users: 3, CatalogEvents: 6, TicketsSold: 4, Revenue: decimal.RequireFromString("330.5")}, nil
		},
	}
	w := httptest.NewRecorder()
	NewTicketHandler(svc).Stats(w, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))

	var body statsResponse
	_ = json.NewDecoder(w.Body).Decode(&body)
	want := statsResponse{Users: 3, CatalogEvents: 6, TicketsSold: 4, Revenue: "330.50"}
	if body != want {
		t.Errorf("stats = %+v, want %+v", body, want)
	}
}
