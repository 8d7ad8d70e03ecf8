package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/authcore/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 内部のエラーコードは返さず、汎用メッセージのみを含める。
type ErrorResponseBody struct {
	Error string `json:"error"`
}

// StatusFor はエラーコードに対応するHTTPステータスコードを返す。
// 未知のコードは500として扱う。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeTokenInvalid,
		model.ErrCodeAuthFailed,
		model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUnknownProvider, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{Error: apiErr.Message})
}

// WriteAPIError はエラーコードから決まるステータスでレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
	})
}
