package model

import "fmt"

// APIError はクライアントに返却してよいエラーを表す。
// Messageは利用者向けの汎用メッセージであり、内部詳細を含めてはならない。
type APIError struct {
	Code     string // エラーコード
	Message  string // クライアントに返すメッセージ
	Category string // カテゴリ: auth, validation, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeUnknownProvider    = "UNKNOWN_PROVIDER"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 列挙耐性のため、以下のエラーは原因によらず同一インスタンスを返す。
var (
	// ErrInvalidCredentials は未登録email・パスワード未設定・パスワード不一致のすべてで返す。
	ErrInvalidCredentials = &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
	}

	// ErrTokenInvalid は不正形式・署名不一致・期限切れ・種別違いのすべてで返す。
	ErrTokenInvalid = &APIError{
		Code:     ErrCodeTokenInvalid,
		Message:  "Invalid or expired refresh token",
		Category: "auth",
	}

	// ErrRateLimited はアドミッションゲートの上限超過時に返す。
	ErrRateLimited = &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests, please try again later.",
		Category: "system",
	}

	// ErrAuthFailed はOAuthプロバイダーでの認証失敗、または利用できないプロフィールの場合に返す。
	ErrAuthFailed = &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "Authentication failed",
		Category: "auth",
	}

	// ErrConflict は登録済みemailでの再登録時に返す。
	ErrConflict = &APIError{
		Code:     ErrCodeConflict,
		Message:  "User with this email already exists",
		Category: "validation",
	}

	// ErrUnauthorized はアクセストークンが無い、または無効な場合に返す。
	ErrUnauthorized = &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Access token required",
		Category: "auth",
	}

	// ErrForbidden は権限不足の場合に返す。
	ErrForbidden = &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Insufficient permissions",
		Category: "auth",
	}
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewUnknownProviderError は未設定のOAuthプロバイダーが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("Unknown provider: %s", provider),
		Category: "validation",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
	}
}
