package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/authcore/internal/model"
)

const (
	selectIdentityByProviderSubject = `
		SELECT id, user_id, provider, provider_user_id, created_at
		FROM identities
		WHERE provider = $1 AND provider_user_id = $2`

	// 競合時はエラーにせず0行とし、呼び出し側にErrDuplicateを返す
	insertIdentity = `
		INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_user_id) DO NOTHING`
)

// PostgresIdentityRepo は外部IdPとユーザーの紐付けをidentitiesテーブルに保存する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

func scanIdentity(row rowScanner) (*model.Identity, error) {
	identity := &model.Identity{}
	if err := row.Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt); err != nil {
		return nil, err
	}
	return identity, nil
}

// FindByProviderAndProviderUserID は(provider, subject)に紐付くidentityを返す。未登録ならnil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx, selectIdentityByProviderSubject, provider, providerUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity %s/%s: %w", provider, providerUserID, err)
	}
	return identity, nil
}

// Create はidentityを作成する。
// 同じ(provider, provider_user_id)が既にあればErrDuplicateを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	res, err := r.db.ExecContext(ctx, insertIdentity,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return translateInsertError("failed to insert identity", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s/%s already linked: %w", identity.Provider, identity.ProviderUserID, ErrDuplicate)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
