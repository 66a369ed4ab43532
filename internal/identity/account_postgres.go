//go:build postgres

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAccountStore is a PostgreSQL-backed AccountStore. The schema is
// created by internal/storage/postgres.
type PostgresAccountStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountStore wraps an existing, migrated pool.
func NewPostgresAccountStore(pool *pgxpool.Pool) *PostgresAccountStore {
	return &PostgresAccountStore{pool: pool}
}

const pgAccountColumns = `id, email, display_name, email_verified, password_hash, created_at, updated_at, password_changed_at`

func (s *PostgresAccountStore) Create(ctx context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrAccountNotFound
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+pgAccountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Email, a.DisplayName, a.EmailVerified, a.PasswordHash,
		a.CreatedAt, a.UpdatedAt, a.PasswordChangedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) GetByID(ctx context.Context, id string) (*Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *PostgresAccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE email = $1`, email))
}

func (s *PostgresAccountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, display_name, email_verified, created_at, updated_at, password_changed_at
		FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.EmailVerified,
			&a.CreatedAt, &a.UpdatedAt, &a.PasswordChangedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresAccountStore) Update(ctx context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrAccountNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET email = $1, display_name = $2, email_verified = $3, password_hash = $4,
			updated_at = $5, password_changed_at = $6
		WHERE id = $7`,
		a.Email, a.DisplayName, a.EmailVerified, a.PasswordHash, a.UpdatedAt, a.PasswordChangedAt, a.ID,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresAccountStore) scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.EmailVerified, &a.PasswordHash,
		&a.CreatedAt, &a.UpdatedAt, &a.PasswordChangedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
