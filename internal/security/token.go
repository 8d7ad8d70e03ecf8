package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/authcore/internal/model"
)

// ErrTokenInvalid は不正形式・署名不一致・期限切れ・種別違いのすべてで返す。
// 原因を区別できないよう常に同一インスタンスを返す。
var ErrTokenInvalid = model.ErrTokenInvalid

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// TokenConfig はトークンの署名設定。
type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	Issuer        string
}

// tokenClaims はJWTに埋め込むクレーム。subにユーザーIDを格納する。
type tokenClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Role     string `json:"role"`
	TokenUse string `json:"token_use"`
}

// signingContext はトークン種別ごとの秘密鍵と有効期限。
type signingContext struct {
	use    string
	secret []byte
	ttl    time.Duration
}

// TokenCodec はアクセストークンとリフレッシュトークンをHS256で署名・検証する。
// 2種類のトークンは独立した秘密鍵と有効期限を持つ。
type TokenCodec struct {
	access  signingContext
	refresh signingContext
	issuer  string
	now     func() time.Time
}

// NewTokenCodec はTokenCodecを生成する。
// 秘密鍵が空の場合、または両者が同一の場合はエラーを返す。
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &TokenCodec{
		access:  signingContext{use: tokenUseAccess, secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
		refresh: signingContext{use: tokenUseRefresh, secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		issuer:  cfg.Issuer,
		now:     time.Now,
	}, nil
}

// WithClock は時刻取得関数を差し替えたコピーを返す。テストでの有効期限検証に使用する。
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL はアクセストークンの有効期限を返す。
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.access.ttl
}

// IssueAccess はアクセストークンを発行する。
func (c *TokenCodec) IssueAccess(claims model.Claims) (string, error) {
	return c.issue(c.access, claims)
}

// IssueRefresh はリフレッシュトークンを発行する。
func (c *TokenCodec) IssueRefresh(claims model.Claims) (string, error) {
	return c.issue(c.refresh, claims)
}

// IssuePair はアクセストークンとリフレッシュトークンの組を発行する。
func (c *TokenCodec) IssuePair(claims model.Claims) (*model.TokenPair, error) {
	access, err := c.IssueAccess(claims)
	if err != nil {
		return nil, err
	}
	refresh, err := c.IssueRefresh(claims)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess はアクセストークンを検証してClaimsを返す。
func (c *TokenCodec) VerifyAccess(token string) (model.Claims, error) {
	return c.verify(c.access, token)
}

// VerifyRefresh はリフレッシュトークンを検証してClaimsを返す。
// ストアは参照しないため、発行後のユーザー削除やロール変更は反映されない。
func (c *TokenCodec) VerifyRefresh(token string) (model.Claims, error) {
	return c.verify(c.refresh, token)
}

func (c *TokenCodec) issue(sc signingContext, claims model.Claims) (string, error) {
	now := c.now()
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   claims.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sc.ttl)),
		},
		Email:    claims.Email,
		Role:     string(claims.Role),
		TokenUse: sc.use,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(sc.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", sc.use, err)
	}
	return signed, nil
}

func (c *TokenCodec) verify(sc signingContext, token string) (model.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	tc := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, tc, func(*jwt.Token) (any, error) {
		return sc.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return model.Claims{}, ErrTokenInvalid
	}
	if tc.TokenUse != sc.use || tc.Subject == "" {
		return model.Claims{}, ErrTokenInvalid
	}

	return model.Claims{
		UserID: tc.Subject,
		Email:  tc.Email,
		Role:   model.Role(tc.Role),
	}, nil
}
