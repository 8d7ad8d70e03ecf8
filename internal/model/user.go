// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限区分を表す。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User は正規化された単一のユーザーIDを表す。
// 認証方式（ローカル / OAuth）にかかわらずemailで一意に識別される。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	// PasswordHash はOAuthのみで作成されたアカウントではnil。
	// レスポンスに含めないためJSONからは除外する。
	PasswordHash *string   `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword はローカルパスワードが設定されているかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Claims はトークンに埋め込むユーザー情報。
type Claims struct {
	UserID string
	Email  string
	Role   Role
}

// ClaimsOf はユーザーからトークン用のClaimsを生成する。
func ClaimsOf(u *User) Claims {
	return Claims{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Identity は外部IdPとの紐付け情報（provider link）を表す。
// (Provider, ProviderUserID) の組はグローバルに一意。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// TokenPair はログイン成功時に発行するトークンの組。永続化しない。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NormalizeEmail はemailを比較用の正規形（前後空白除去・小文字化）に変換する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// 対応しているOAuthプロバイダー名
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)
