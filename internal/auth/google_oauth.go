package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/authcore/internal/model"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider はGoogle OAuth 2.0による認証を提供する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := endpoints.Google
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: config.UserInfoURL,
	}
}

// Name は"google"を返す。
func (p *GoogleOAuthProvider) Name() string {
	return model.ProviderGoogle
}

// LoginURL はGoogle OAuthの認証URLを生成する。
// スコープにはemail, profileを含む。
func (p *GoogleOAuthProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*ExternalProfile, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	var info googleUserInfo
	if err := fetchJSON(ctx, p.oauth, token, p.userInfoURL, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	// 未確認のemailではアカウントを統合しない
	if info.Sub == "" || info.Email == "" || (info.EmailVerified != nil && !*info.EmailVerified) {
		return nil, ErrProfileUnusable
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}

	return &ExternalProfile{
		Provider:    model.ProviderGoogle,
		Subject:     info.Sub,
		Email:       info.Email,
		DisplayName: name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
