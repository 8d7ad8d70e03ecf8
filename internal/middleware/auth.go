// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/authcore/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みClaimsを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// security.TokenCodecの部分集合として定義する。
type TokenVerifier interface {
	VerifyAccess(token string) (model.Claims, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証済みClaimsをリクエストコンテキストに注入する。
// トークンが無い、または無効な場合は401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteAPIError(w, model.ErrUnauthorized)
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     model.ErrCodeUnauthorized,
					Message:  "Invalid or expired access token",
					Category: "auth",
				})
				return
			}

			// ログミドルウェアにユーザーIDを伝える
			if info := requestInfoFromContext(r.Context()); info != nil {
				info.userID = claims.UserID
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole はClaimsのロールが指定されたいずれかに一致しない場合に403を返すミドルウェアを返す。
// NewBearerAuthMiddlewareの後に配置する。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteAPIError(w, model.ErrUnauthorized)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteAPIError(w, model.ErrForbidden)
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFromContext はリクエストコンテキストから検証済みClaimsを取得する。
func ClaimsFromContext(ctx context.Context) (model.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(model.Claims)
	if !ok || claims.UserID == "" {
		return model.Claims{}, false
	}
	return claims, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// Bearer認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.UserID, nil
}

// ContextWithClaims はコンテキストにClaimsを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims model.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
