// Package auth はローカル認証とOAuth認証によるユーザー解決、トークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/security"
)

// DefaultStoreTimeout はストア呼び出しを含む操作全体の既定の期限。
const DefaultStoreTimeout = 5 * time.Second

// 操作名（メトリクスのラベル）
const (
	opRegister = "register"
	opLogin    = "login"
	opRefresh  = "refresh"
	opOAuth    = "oauth"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StoreTimeout time.Duration
}

// Service は登録・ログイン・トークン更新・OAuthコールバックを組み合わせる。
type Service struct {
	resolver  *Resolver
	tokens    *security.TokenCodec
	providers map[string]OAuthProvider
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。
// providersは有効なプロバイダーのみを渡す。metricsがnilの場合は記録しない。
func NewService(
	resolver *Resolver,
	tokens *security.TokenCodec,
	providers []OAuthProvider,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	byName := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Service{
		resolver:  resolver,
		tokens:    tokens,
		providers: byName,
		metrics:   mc,
		config:    config,
	}
}

// Providers は有効なプロバイダー名を昇順で返す。
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register はローカルユーザーを登録する。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	defer s.observe(opRegister, time.Now())

	user, err := s.resolver.Register(ctx, input)
	s.metrics.RecordAuthAttempt(opRegister, outcomeOf(err))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login はemailとパスワードで認証し、トークンの組を発行する。
func (s *Service) Login(ctx context.Context, input LoginInput) (*model.TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	defer s.observe(opLogin, time.Now())

	user, err := s.resolver.Authenticate(ctx, input)
	if err != nil {
		s.metrics.RecordAuthAttempt(opLogin, outcomeOf(err))
		return nil, err
	}

	pair, err := s.issuePair(user)
	s.metrics.RecordAuthAttempt(opLogin, outcomeOf(err))
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return pair, nil
}

// Refresh はリフレッシュトークンを検証し、同じClaimsで新しいアクセストークンを発行する。
// リフレッシュトークン自体は再発行しない。ストアを参照しないため、
// 発行後に削除・降格されたユーザーのトークンも有効期限まで利用できる。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.RecordAuthAttempt(opRefresh, outcomeOf(err))
		return "", err
	}

	access, err := s.tokens.IssueAccess(claims)
	if err != nil {
		s.metrics.RecordAuthAttempt(opRefresh, outcomeOf(err))
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}

	s.metrics.RecordTokensIssued("access")
	s.metrics.RecordAuthAttempt(opRefresh, outcomeOf(nil))
	return access, nil
}

// LoginURL はプロバイダーの同意画面URLを返す。
func (s *Service) LoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewUnknownProviderError(provider)
	}
	return p.LoginURL(state), nil
}

// CompleteOAuth は認可コードを交換してユーザーを解決し、トークンの組を発行する。
// プロバイダーでの失敗はすべてmodel.ErrAuthFailedになる。
func (s *Service) CompleteOAuth(ctx context.Context, provider, code string) (*model.TokenPair, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(provider)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	defer s.observe(opOAuth, time.Now())

	pair, err := s.completeOAuth(ctx, p, code)
	s.metrics.RecordOAuthCallback(provider, outcomeOf(err))
	s.metrics.RecordAuthAttempt(opOAuth, outcomeOf(err))
	return pair, err
}

func (s *Service) completeOAuth(ctx context.Context, p OAuthProvider, code string) (*model.TokenPair, error) {
	if code == "" {
		return nil, model.ErrAuthFailed
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		slog.Warn("oauth exchange failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		return nil, model.ErrAuthFailed
	}

	user, err := s.resolver.ResolveExternal(ctx, *profile)
	if err != nil {
		return nil, err
	}

	return s.issuePair(user)
}

func (s *Service) issuePair(user *model.User) (*model.TokenPair, error) {
	pair, err := s.tokens.IssuePair(model.ClaimsOf(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue token pair: %w", err)
	}
	s.metrics.RecordTokensIssued("access")
	s.metrics.RecordTokensIssued("refresh")
	return pair, nil
}

func (s *Service) observe(operation string, start time.Time) {
	s.metrics.RecordAuthLatency(operation, time.Since(start))
}

// outcomeOf はエラーをメトリクスの結果ラベルに変換する。
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}
