package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authcore/internal/model"
)

// mockTokenVerifier はTokenVerifierのモック実装。
type mockTokenVerifier struct {
	verifyAccessFn func(token string) (model.Claims, error)
}

func (m *mockTokenVerifier) VerifyAccess(token string) (model.Claims, error) {
	if m.verifyAccessFn != nil {
		return m.verifyAccessFn(token)
	}
	return model.Claims{}, model.ErrTokenInvalid
}

// validVerifier は"good-token"のみを受け付けるTokenVerifierを返す。
func validVerifier(claims model.Claims) *mockTokenVerifier {
	return &mockTokenVerifier{
		verifyAccessFn: func(token string) (model.Claims, error) {
			if token != "good-token" {
				return model.Claims{}, model.ErrTokenInvalid
			}
			return claims, nil
		},
	}
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body.Error
}

// TestBearerAuthMiddleware_ValidToken_InjectsClaims は有効なトークンでClaimsがコンテキストに注入されることを検証する。
func TestBearerAuthMiddleware_ValidToken_InjectsClaims(t *testing.T) {
	want := model.Claims{UserID: "user-1", Email: "a@example.com", Role: model.RoleUser}
	mw := NewBearerAuthMiddleware(validVerifier(want))

	var got model.Claims
	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got != want {
		t.Errorf("claims = %+v, want %+v", got, want)
	}
	if gotUserID != "user-1" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-1")
	}
}

// TestBearerAuthMiddleware_SchemeIsCaseInsensitive はスキーム名の大文字小文字を区別しないことを検証する。
func TestBearerAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	mw := NewBearerAuthMiddleware(validVerifier(model.Claims{UserID: "user-1"}))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestBearerAuthMiddleware_Rejects はトークンが無い・形式不正・無効な場合に401を返すことを検証する。
func TestBearerAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"NoHeader", "", "Access token required"},
		{"WrongScheme", "Basic dXNlcjpwYXNz", "Access token required"},
		{"EmptyToken", "Bearer ", "Access token required"},
		{"InvalidToken", "Bearer bad-token", "Invalid or expired access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewBearerAuthMiddleware(validVerifier(model.Claims{UserID: "user-1"}))

			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if handlerCalled {
				t.Error("next handler should not be called")
			}
			if msg := decodeErrorBody(t, w); msg != tt.wantMsg {
				t.Errorf("error = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

// TestRequireRole はロールによるアクセス制御を検証する。
func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		ctx        func(context.Context) context.Context
		wantStatus int
	}{
		{
			name: "AdminAllowed",
			ctx: func(ctx context.Context) context.Context {
				return ContextWithClaims(ctx, model.Claims{UserID: "admin-1", Role: model.RoleAdmin})
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "UserForbidden",
			ctx: func(ctx context.Context) context.Context {
				return ContextWithClaims(ctx, model.Claims{UserID: "user-1", Role: model.RoleUser})
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "NoClaimsUnauthorized",
			ctx:        func(ctx context.Context) context.Context { return ctx },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			req = req.WithContext(tt.ctx(req.Context()))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestUserIDFromContext_Empty はClaimsが無い場合にエラーを返すことを検証する。
func TestUserIDFromContext_Empty(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}
