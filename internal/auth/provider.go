package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrProfileUnusable はプロバイダーのプロフィールにsubjectまたはemailが無い場合に返す。
var ErrProfileUnusable = errors.New("oauth profile is missing subject or email")

// ExternalProfile はプロバイダーごとに異なるプロフィールを正規化したもの。
// Resolverはプロバイダーに依存せずこの値のみを扱う。
type ExternalProfile struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名（"google", "github" 等）を返す。
	Name() string
	// LoginURL はOAuth同意画面のURLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードをトークンに交換し、正規化したプロフィールを返す。
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// maxProfileBytes はプロフィールAPIレスポンスの最大読み込みサイズ。
const maxProfileBytes = 1 << 20

// fetchJSON はOAuthトークン付きでurlをGETし、JSONをdstにデコードする。
func fetchJSON(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, url string, header http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", url, resp.StatusCode)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
