//go:build sqlite

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteAccountStore is a SQLite-backed AccountStore. The schema is created by
// internal/storage/sqlite.
type SQLiteAccountStore struct {
	db *sql.DB
}

// NewSQLiteAccountStore wraps an open, migrated database.
func NewSQLiteAccountStore(db *sql.DB) *SQLiteAccountStore {
	return &SQLiteAccountStore{db: db}
}

const accountColumns = `id, email, display_name, email_verified, password_hash, created_at, updated_at, password_changed_at`

func (s *SQLiteAccountStore) Create(ctx context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrAccountNotFound
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Email, a.DisplayName, boolToInt(a.EmailVerified), a.PasswordHash,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), formatTime(a.PasswordChangedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *SQLiteAccountStore) GetByID(ctx context.Context, id string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (s *SQLiteAccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email))
}

func (s *SQLiteAccountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name, email_verified, created_at, updated_at, password_changed_at
		FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var (
			a                               Account
			verified                        int
			created, updated, passwordAtStr string
		)
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &verified, &created, &updated, &passwordAtStr); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.EmailVerified = verified != 0
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		a.PasswordChangedAt = parseTime(passwordAtStr)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteAccountStore) Update(ctx context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrAccountNotFound
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET email = ?, display_name = ?, email_verified = ?, password_hash = ?,
			updated_at = ?, password_changed_at = ?
		WHERE id = ?
	`,
		a.Email, a.DisplayName, boolToInt(a.EmailVerified), a.PasswordHash,
		formatTime(a.UpdatedAt), formatTime(a.PasswordChangedAt), a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteAccountStore) scanAccount(row *sql.Row) (*Account, error) {
	var (
		a                            Account
		verified                     int
		created, updated, passwordAt string
	)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &verified, &a.PasswordHash, &created, &updated, &passwordAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.EmailVerified = verified != 0
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	a.PasswordChangedAt = parseTime(passwordAt)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Fixed-width timestamps keep ORDER BY created_at chronological.
func formatTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
