package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/eventexplorer/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスのJSON表現。
// クライアントはcodeで分岐し、messageとactionをそのまま利用者に表示する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はAPIErrorを指定ステータスで書き込む。
// エラー応答はキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteValidationError はリクエストパラメータの検証エラーを400で書き込む。
func WriteValidationError(w http.ResponseWriter, reason string) {
	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(reason))
}

// WriteInternalServerError は詳細を伏せた500レスポンスを書き込む。原因は呼び出し側でログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
