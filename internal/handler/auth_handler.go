// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, input auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, input auth.LoginInput) (*model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	LoginURL(provider, state string) (string, error)
	CompleteOAuth(ctx context.Context, provider, code string) (*model.TokenPair, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// FrontendCallbackURL はOAuth完了後にトークンを渡すフロントエンドのURL。
	FrontendCallbackURL string
	CookieSecure        bool
}

// AuthHandler はローカル認証・トークン更新・OAuthフローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Register はローカルユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input auth.RegisterInput
	if !decodeJSON(w, r, &input) {
		return
	}

	user, err := h.service.Register(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login はemailとパスワードで認証し、トークンの組を返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input auth.LoginInput
	if !decodeJSON(w, r, &input) {
		return
	}

	pair, err := h.service.Login(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeTokenInvalid,
			Message:  "Refresh token required",
			Category: "auth",
		})
		return
	}

	access, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}

// OAuthLogin はプロバイダーの同意画面へリダイレクトしてOAuthフローを開始する。
// GET /api/auth/{provider}
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, h.stateCookie(provider, state, oauthStateMaxAge))
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthコールバックを処理し、発行したトークンを付けてフロントエンドへリダイレクトする。
// GET /api/auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		middleware.WriteAPIError(w, model.ErrAuthFailed)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, h.stateCookie(provider, "", -1))

	// 2. 同意画面で拒否された場合
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error",
			slog.String("provider", provider),
			slog.String("error", providerErr),
		)
		middleware.WriteAPIError(w, model.ErrAuthFailed)
		return
	}

	// 3. 認可コードの交換とユーザー解決
	pair, err := h.service.CompleteOAuth(r.Context(), provider, query.Get("code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 4. フロントエンドにリダイレクト
	target, err := callbackTarget(h.config.FrontendCallbackURL, pair)
	if err != nil {
		slog.Error("invalid frontend callback url", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// stateCookie はプロバイダーのコールバックパスに限定したstate用Cookieを返す。
func (h *AuthHandler) stateCookie(provider, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/api/auth/" + provider,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// callbackTarget はフロントエンドURLのクエリにトークンを付加する。
// 既存のクエリパラメータは保持する。
func callbackTarget(base string, pair *model.TokenPair) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse callback url: %w", err)
	}
	q := u.Query()
	q.Set("accessToken", pair.AccessToken)
	q.Set("refreshToken", pair.RefreshToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
