package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/authcore/internal/model"
)

const (
	defaultGitHubAPIURL = "https://api.github.com"
	githubAcceptHeader  = "application/vnd.github+json"
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// GitHubOAuthProvider はGitHub OAuthによる認証を提供する。
type GitHubOAuthProvider struct {
	oauth  *oauth2.Config
	apiURL string
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	endpoint := endpoints.GitHub
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultGitHubAPIURL
	}

	return &GitHubOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiURL: config.APIURL,
	}
}

// Name は"github"を返す。
func (p *GitHubOAuthProvider) Name() string {
	return model.ProviderGitHub
}

// LoginURL はGitHubの同意画面のURLを生成する。
func (p *GitHubOAuthProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange は認可コードをトークンに交換し、プロフィールを取得する。
// プロフィールのemailが非公開の場合は/user/emailsから確認済みのprimary emailを取得する。
func (p *GitHubOAuthProvider) Exchange(ctx context.Context, code string) (*ExternalProfile, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	header := http.Header{"Accept": {githubAcceptHeader}}

	var user githubUser
	if err := fetchJSON(ctx, p.oauth, token, p.apiURL+"/user", header, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch github profile: %w", err)
	}
	if user.ID == 0 {
		return nil, ErrProfileUnusable
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := fetchJSON(ctx, p.oauth, token, p.apiURL+"/user/emails", header, &emails); err != nil {
			return nil, fmt.Errorf("failed to fetch github emails: %w", err)
		}
		email = primaryVerifiedEmail(emails)
	}
	if email == "" {
		return nil, ErrProfileUnusable
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &ExternalProfile{
		Provider:    model.ProviderGitHub,
		Subject:     strconv.FormatInt(user.ID, 10),
		Email:       email,
		DisplayName: name,
	}, nil
}

func primaryVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
