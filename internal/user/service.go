// Package user はユーザープロフィールの参照・更新と初期データ投入を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

// 一覧取得の件数
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = 100

// PasswordHasher はシード用パスワードのハッシュ化インターフェース。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// SeedAccount は初期投入するアカウント。
type SeedAccount struct {
	Email    string
	Name     string
	Password string
	Role     model.Role
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// GetProfile は指定ユーザーのプロフィールを取得する。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateName は表示名を更新する。
func (s *Service) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("Name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("Name must be at most %d characters", MaxNameLength))
	}

	user, err := s.userRepo.UpdateName(ctx, userID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}

	slog.Info("表示名を更新しました", slog.String("user_id", userID))
	return user, nil
}

// List はユーザー一覧を返す。limitは[1, MaxListLimit]に丸める。
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// Seed はアカウントが存在しなければ作成する。既存のアカウントは変更しない。
// パスワードが空のアカウントはスキップする。
func Seed(ctx context.Context, seeder repository.Seeder, hasher PasswordHasher, accounts []SeedAccount) ([]*model.User, error) {
	var seeded []*model.User
	for _, acc := range accounts {
		if acc.Password == "" {
			slog.Warn("パスワードが未設定のためシードをスキップします", slog.String("email", acc.Email))
			continue
		}
		if !acc.Role.Valid() {
			return nil, fmt.Errorf("invalid role %q for %s", acc.Role, acc.Email)
		}

		digest, err := hasher.Hash(acc.Password)
		if err != nil {
			return nil, fmt.Errorf("シード用パスワードのハッシュ化に失敗しました: %w", err)
		}

		now := time.Now()
		user, err := seeder.UpsertSeedUser(ctx, &model.User{
			ID:           uuid.New().String(),
			Email:        model.NormalizeEmail(acc.Email),
			Name:         acc.Name,
			PasswordHash: &digest,
			Role:         acc.Role,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return nil, fmt.Errorf("シードユーザーの作成に失敗しました: %w", err)
		}

		slog.Info("シードユーザーを確認しました",
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
		)
		seeded = append(seeded, user)
	}
	return seeded, nil
}

// DefaultSeedAccounts は管理者と一般ユーザーの初期アカウントを返す。
func DefaultSeedAccounts(adminPassword, userPassword string) []SeedAccount {
	return []SeedAccount{
		{Email: "admin@example.com", Name: "Admin", Password: adminPassword, Role: model.RoleAdmin},
		{Email: "user@example.com", Name: "User", Password: userPassword, Role: model.RoleUser},
	}
}
