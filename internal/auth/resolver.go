package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/security"
)

// MinPasswordLength はローカルパスワードの最小文字数（UTF-16のコード単位で数える）。
const MinPasswordLength = 8

// maxResolveAttempts は一意制約違反を検出した際に検索からやり直す最大回数。
const maxResolveAttempts = 3

// 入力検証エラーのメッセージ
const (
	msgRegisterRequired = "Name, email, and password are required"
	msgLoginRequired    = "Email and password are required"
	msgInvalidEmail     = "Invalid email address"
	msgPasswordTooShort = "Password must be at least 8 characters"
	msgPasswordTooLong  = "Password must be at most 72 bytes"
)

// RegisterInput はローカル登録の入力。
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput はローカルログインの入力。
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext string, digest *string) bool
}

// Resolver は認証方式にかかわらず、資格情報から単一の正規ユーザーを解決する。
type Resolver struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	hasher     PasswordHasher
	now        func() time.Time

	flights    singleflight.Group
	emailLocks *keyedMutex
}

// NewResolver はResolverを生成する。
func NewResolver(users repository.UserRepository, identities repository.IdentityRepository, hasher PasswordHasher) *Resolver {
	return &Resolver{
		users:      users,
		identities: identities,
		hasher:     hasher,
		now:        time.Now,
		emailLocks: newKeyedMutex(),
	}
}

// Register はローカルユーザーを登録する。
// emailが既に存在する場合はmodel.ErrConflictを返す。
func (r *Resolver) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	name, email, err := validateRegistration(input)
	if err != nil {
		return nil, err
	}

	unlock := r.emailLocks.Lock(email)
	defer unlock()

	existing, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.ErrConflict
	}

	digest, err := r.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return nil, model.NewValidationError(msgPasswordTooLong)
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := r.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: &digest,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.users.Create(ctx, user); err != nil {
		// 別インスタンスで同じemailが先に登録された
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Authenticate はemailとパスワードでユーザーを認証する。
// 未登録email・パスワード未設定・パスワード不一致はいずれもmodel.ErrInvalidCredentialsを返す。
func (r *Resolver) Authenticate(ctx context.Context, input LoginInput) (*model.User, error) {
	email := model.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, model.NewValidationError(msgLoginRequired)
	}

	user, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil || !user.HasPassword() {
		// 未登録・OAuth専用ユーザーもダミーダイジェストで同じ計算量をかける
		r.hasher.Verify(input.Password, nil)
		return nil, model.ErrInvalidCredentials
	}
	if !r.hasher.Verify(input.Password, user.PasswordHash) {
		return nil, model.ErrInvalidCredentials
	}

	return user, nil
}

// ResolveExternal は外部プロバイダーのプロフィールからユーザーを解決する。
// 既存のリンクがあればそのユーザーを返し、無ければemailでユーザーを検索・作成してリンクを作成する。
// 同じ(provider, subject)の同時呼び出しは1回にまとめる。
func (r *Resolver) ResolveExternal(ctx context.Context, profile ExternalProfile) (*model.User, error) {
	profile.Email = model.NormalizeEmail(profile.Email)
	if profile.Provider == "" || profile.Subject == "" || profile.Email == "" {
		return nil, model.ErrAuthFailed
	}

	key := profile.Provider + ":" + profile.Subject
	v, err, _ := r.flights.Do(key, func() (any, error) {
		return r.resolveExternalWithRetry(ctx, profile)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.User), nil
}

func (r *Resolver) resolveExternalWithRetry(ctx context.Context, profile ExternalProfile) (*model.User, error) {
	var lastErr error
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		user, err := r.findOrCreateExternal(ctx, profile)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}

		// 他インスタンスとの競合。勝者のレコードに収束させるため検索からやり直す
		slog.Debug("identity resolution conflict, retrying",
			slog.String("provider", profile.Provider),
			slog.Int("attempt", attempt),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("identity resolution did not converge after %d attempts: %w", maxResolveAttempts, lastErr)
}

func (r *Resolver) findOrCreateExternal(ctx context.Context, profile ExternalProfile) (*model.User, error) {
	// 1. リンクがあれば紐付くユーザーを返す
	link, err := r.identities.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if link != nil {
		user, err := r.users.FindByID(ctx, link.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find linked user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", link.ID, link.UserID)
		}
		return user, nil
	}

	unlock := r.emailLocks.Lock(profile.Email)
	defer unlock()

	// 2. emailで既存ユーザーを検索し、無ければ作成する
	user, err := r.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		now := r.now()
		user = &model.User{
			ID:        uuid.New().String(),
			Email:     profile.Email,
			Name:      displayName(profile),
			Role:      model.RoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("user created from external identity",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
	}

	// 3. リンクを作成する
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.Subject,
		CreatedAt:      r.now(),
	}
	if err := r.identities.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	slog.Info("external identity linked",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

// validateRegistration は登録入力を検証し、正規化したnameとemailを返す。
func validateRegistration(input RegisterInput) (string, string, error) {
	name := strings.TrimSpace(input.Name)
	email := model.NormalizeEmail(input.Email)

	if name == "" || email == "" || input.Password == "" {
		return "", "", model.NewValidationError(msgRegisterRequired)
	}
	if !validEmail(email) {
		return "", "", model.NewValidationError(msgInvalidEmail)
	}
	if utf16Len(input.Password) < MinPasswordLength {
		return "", "", model.NewValidationError(msgPasswordTooShort)
	}
	if len(input.Password) > security.MaxPasswordBytes {
		return "", "", model.NewValidationError(msgPasswordTooLong)
	}
	return name, email, nil
}

// utf16Len はUTF-16に符号化したときのコード単位数を返す。BMP外の文字は2単位になる。
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// validEmail は表示名を含まない単一のアドレスかどうかを判定する。
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func displayName(p ExternalProfile) string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return p.Email
}
