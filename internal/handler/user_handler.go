package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateName(ctx context.Context, userID, name string) (*model.User, error)
	// List はユーザー一覧を返す。管理者のみが呼び出せる。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

// GetMe は現在のユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.ErrUnauthorized)
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateMe は現在のユーザーの表示名を更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.UpdateName(r.Context(), userID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// List はユーザー一覧を返す。
// GET /api/users?limit=50&offset=0
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	users, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// queryInt はクエリパラメータを整数として読み取る。未指定の場合は0。
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		middleware.WriteAPIError(w, model.NewValidationError("Invalid "+name+" parameter"))
		return 0, false
	}
	return v, true
}
