package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/catalog"
	"github.com/hitoshi/eventexplorer/internal/model"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	InitializeEvents(ctx context.Context) (bool, error)
	ListEvents(ctx context.Context, filter model.CatalogFilter) ([]*model.CatalogEvent, error)
	GetEvent(ctx context.Context, id string) (*model.CatalogEvent, error)
	AddEvent(ctx context.Context, in catalog.EventInput) (*model.CatalogEvent, error)
	UpdateEvent(ctx context.Context, id string, update model.CatalogEventUpdate) (*model.CatalogEvent, error)
	DeleteEvent(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) ([]string, error)
	DeleteCategory(ctx context.Context, name string) ([]string, error)
}

// CatalogHandler はカタログイベントとカテゴリのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

type weatherSnapshotRequest struct {
	Temp      string `json:"temp"`
	Condition string `json:"condition"`
}

type catalogEventRequest struct {
	Title       *string                 `json:"title"`
	Date        *string                 `json:"date"`
	ImageURL    *string                 `json:"imageUrl"`
	Location    *string                 `json:"location"`
	Category    *string                 `json:"category"`
	Price       *string                 `json:"price"`
	Description *string                 `json:"description"`
	Weather     *weatherSnapshotRequest `json:"weather"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

type seedResponse struct {
	Seeded bool `json:"seeded"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (req catalogEventRequest) snapshot() *model.WeatherSnapshot {
	if req.Weather == nil {
		return nil
	}
	return &model.WeatherSnapshot{Temp: req.Weather.Temp, Condition: req.Weather.Condition}
}

// ListEvents はカタログイベントを返す。categoryとqで絞り込める。
// GET /api/catalog/events?category=&q=
func (h *CatalogHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.service.ListEvents(r.Context(), model.CatalogFilter{
		Category: q.Get("category"),
		Keyword:  q.Get("q"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogEventResponses(events))
}

// GetEvent はカタログイベントを返す。
// GET /api/catalog/events/{id}
func (h *CatalogHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogEventResponse(event))
}

// AddEvent はカタログイベントを追加する。
// POST /api/catalog/events
func (h *CatalogHandler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var req catalogEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := h.service.AddEvent(r.Context(), catalog.EventInput{
		Title:       deref(req.Title),
		Date:        deref(req.Date),
		ImageURL:    deref(req.ImageURL),
		Location:    deref(req.Location),
		Category:    deref(req.Category),
		Price:       deref(req.Price),
		Description: deref(req.Description),
		Weather:     req.snapshot(),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCatalogEventResponse(event))
}

// UpdateEvent はカタログイベントを部分更新する。
// PUT /api/catalog/events/{id}
func (h *CatalogHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req catalogEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := h.service.UpdateEvent(r.Context(), chi.URLParam(r, "id"), model.CatalogEventUpdate{
		Title:       req.Title,
		Date:        req.Date,
		ImageURL:    req.ImageURL,
		Location:    req.Location,
		Category:    req.Category,
		Price:       req.Price,
		Description: req.Description,
		Weather:     req.snapshot(),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogEventResponse(event))
}

// DeleteEvent はカタログイベントを削除する。
// DELETE /api/catalog/events/{id}
func (h *CatalogHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Event deleted successfully"})
}

// Seed はカタログが空の場合に初期イベントを登録する。
// POST /api/catalog/events/seed
func (h *CatalogHandler) Seed(w http.ResponseWriter, r *http.Request) {
	seeded, err := h.service.InitializeEvents(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seedResponse{Seeded: seeded})
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/catalog/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: nonNil(names)})
}

// AddCategory はカテゴリを追加する。
// POST /api/catalog/categories
func (h *CatalogHandler) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	names, err := h.service.AddCategory(r.Context(), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoriesResponse{Categories: nonNil(names)})
}

// DeleteCategory はカテゴリを削除する。使用中のイベントには影響しない。
// DELETE /api/catalog/categories/{name}
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	names, err := h.service.DeleteCategory(r.Context(), name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: nonNil(names)})
}
