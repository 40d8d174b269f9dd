package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventexplorer/internal/model"
	"github.com/hitoshi/eventexplorer/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Get(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	Create(ctx context.Context, name, email, password string, role model.Role) (*model.User, error)
	Update(ctx context.Context, id string, in user.UpdateInput, actorIsAdmin bool) (*model.User, error)
	Delete(ctx context.Context, id string) error
	AddFavorite(ctx context.Context, userID, eventID, source string) ([]string, error)
	RemoveFavorite(ctx context.Context, userID, eventKey string) ([]string, error)
}

// UserHandler はユーザー管理とお気に入りのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

type addFavoriteRequest struct {
	EventID string `json:"eventId"`
	Source  string `json:"source"`
}

type favoritesResponse struct {
	Message   string   `json:"message"`
	Favorites []string `json:"favorites"`
}

// Me はログイン中のユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	u, err := h.service.Get(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// List は全ユーザーを返す。
// GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

// Create は管理者によるユーザー追加を処理する。
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.service.Create(r.Context(), req.Name, req.Email, req.Password, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// Get は指定ユーザーを返す。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Update はプロフィールを部分更新し、更新後のレコード全体を返す。
// PUT /api/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := user.UpdateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}
	if req.Role != nil {
		role := model.Role(*req.Role)
		in.Role = &role
	}

	u, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in, p.IsAdmin())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Delete はユーザーとそのセッションを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

// AddFavorite はお気に入りにイベントを追加する。登録済みの場合は一覧を変更しない。
// POST /api/users/{id}/favorites
func (h *UserHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req addFavoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	favorites, err := h.service.AddFavorite(r.Context(), chi.URLParam(r, "id"), req.EventID, req.Source)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{Message: "Event added to favorites", Favorites: nonNil(favorites)})
}

// RemoveFavorite はお気に入りからイベントを除去する。未登録のキーは何もしない。
// DELETE /api/users/{id}/favorites/{eventId}
func (h *UserHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	eventKey := chi.URLParam(r, "eventId")
	if unescaped, err := url.PathUnescape(eventKey); err == nil {
		eventKey = unescaped
	}

	favorites, err := h.service.RemoveFavorite(r.Context(), chi.URLParam(r, "id"), eventKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{Message: "Event removed from favorites", Favorites: nonNil(favorites)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
