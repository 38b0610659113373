package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/certman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// requestIdはRequestIDミドルウェアが設定したレスポンスヘッダーから転記する。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
}

// statusByCode はエラーコードとHTTPステータスの対応。
// 未登録のコードは500になる。
var statusByCode = map[string]int{
	model.ErrCodeInvalidDomain:          http.StatusBadRequest,
	model.ErrCodeInvalidRequest:         http.StatusBadRequest,
	model.ErrCodeCertificateFetchFailed: http.StatusBadGateway,
	model.ErrCodeWhoisFailed:            http.StatusBadGateway,
	model.ErrCodeRateLimited:            http.StatusTooManyRequests,
	model.ErrCodeStoreIOFailed:          http.StatusInternalServerError,
}

// StatusForError はエラー種別に対応するHTTPステータスコードを返す。
func StatusForError(err error) int {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteInternalServerError は詳細を含まない500レスポンスを書き込む。
// 原因はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}

// WriteError はエラーを統一エラーフォーマットで書き込む。
// APIError以外のエラーとステータス未登録のコードは内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	status := StatusForError(err)
	if status == http.StatusInternalServerError && apiErr.Code != model.ErrCodeStoreIOFailed {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, status, apiErr)
}
