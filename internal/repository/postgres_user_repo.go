package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authcore/internal/model"
)

const userColumns = `id, email, name, password_hash, role, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var passwordHash sql.NullString
	var role string
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &passwordHash, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	user.Role = model.Role(role)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みemailでユーザーを取得する。見つからない場合はnilを返す。
// users_email_lower_key (lower(email)) のインデックスを使用する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, nullableString(user.PasswordHash), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return translateInsertError("failed to insert user", err)
	}
	return nil
}

// UpdateName は表示名を更新する。対象がない場合はErrNotFoundを返す。
func (r *PostgresUserRepo) UpdateName(ctx context.Context, id, name string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET name = $2, updated_at = $3 WHERE id = $1
		 RETURNING `+userColumns,
		id, name, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user name: %w", err)
	}
	return user, nil
}

// List は作成日時の昇順でユーザー一覧を返す。
func (r *PostgresUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// UpsertSeedUser はemailが存在しなければユーザーを作成し、存在すれば既存ユーザーを返す。
// 既存ユーザーの内容は変更しない。
func (r *PostgresUserRepo) UpsertSeedUser(ctx context.Context, user *model.User) (*model.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT ((lower(email))) DO NOTHING`,
		user.ID, user.Email, user.Name, nullableString(user.PasswordHash), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert seed user: %w", err)
	}
	return r.FindByEmail(ctx, user.Email)
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var (
	_ UserRepository = (*PostgresUserRepo)(nil)
	_ Seeder         = (*PostgresUserRepo)(nil)
)
