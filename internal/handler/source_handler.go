package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/middleware"
	"github.com/hitoshi/eventexplorer/internal/model"
)

// SourceServiceInterface は取り込み元ハンドラーが必要とするサービスインターフェース。
type SourceServiceInterface interface {
	Register(ctx context.Context, inputURL, category string) (*model.FeedSource, error)
	List(ctx context.Context) ([]*model.FeedSource, error)
	Delete(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) (*model.FeedSource, error)
}

// SourceHandler はカタログ取り込み元フィードのHTTPハンドラー。
type SourceHandler struct {
	service SourceServiceInterface
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(service SourceServiceInterface) *SourceHandler {
	return &SourceHandler{service: service}
}

type registerSourceRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

// Register は取り込み元フィードを登録する。ページURLの場合はフィードを自動検出する。
// POST /api/catalog/sources
func (h *SourceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	source, err := h.service.Register(r.Context(), req.URL, req.Category)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(source))
}

// List は取り込み元一覧を返す。
// GET /api/catalog/sources
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]sourceResponse, len(sources))
	for i, s := range sources {
		out[i] = toSourceResponse(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete は取り込み元を削除する。
// DELETE /api/catalog/sources/{id}
func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume は停止中の取り込み元のフェッチを再開する。
// POST /api/catalog/sources/{id}/resume
func (h *SourceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	source, err := h.service.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(source))
}
