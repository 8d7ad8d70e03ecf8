// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/authcore/internal/model"
)

// ErrDuplicate は一意制約違反（users.email、identitiesの(provider, provider_user_id)）を表す。
// 同時作成の競合を検出するために使用し、呼び出し側は再検索で勝者のレコードに収束させる。
var ErrDuplicate = errors.New("repository: duplicate key")

// ErrNotFound は更新対象のレコードが存在しない場合に返す。
var ErrNotFound = errors.New("repository: not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みemailでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateName は表示名を更新する。対象がない場合はErrNotFoundを返す。
	UpdateName(ctx context.Context, id, name string) (*model.User, error)

	// List は作成日時の昇順でユーザー一覧を返す。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。(provider, provider_user_id)が既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// Seeder は初期データ投入用のインターフェース。
type Seeder interface {
	// UpsertSeedUser はemailが存在しなければユーザーを作成し、存在すれば既存ユーザーを返す。
	UpsertSeedUser(ctx context.Context, user *model.User) (*model.User, error)
}
