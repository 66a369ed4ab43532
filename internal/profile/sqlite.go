//go:build sqlite

package profile

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// SQLiteStore is a SQLite-backed Store over the profiles table created by
// internal/storage/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteTimeLayout is fixed-width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// sqliteColumns returns the columns and values set by patch, in a fixed order.
func sqliteColumns(patch Patch) ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.EmailVerified != nil {
		v := 0
		if *patch.EmailVerified {
			v = 1
		}
		add("email_verified", v)
	}
	if patch.CreatedAt != nil {
		add("created_at", patch.CreatedAt.UTC().Format(sqliteTimeLayout))
	}
	if patch.LastLogin != nil {
		add("last_login", patch.LastLogin.UTC().Format(sqliteTimeLayout))
	}
	if patch.UpdatedAt != nil {
		add("updated_at", patch.UpdatedAt.UTC().Format(sqliteTimeLayout))
	}
	return cols, vals
}

func (s *SQLiteStore) Merge(ctx context.Context, id string, patch Patch) error {
	cols, vals := sqliteColumns(patch)
	query := `INSERT INTO profiles (id) VALUES (?) ON CONFLICT(id) DO NOTHING`
	args := []any{id}
	if len(cols) > 0 {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = excluded." + c
		}
		query = `INSERT INTO profiles (id, ` + strings.Join(cols, ", ") + `) VALUES (?` +
			strings.Repeat(", ?", len(cols)) + `) ON CONFLICT(id) DO UPDATE SET ` + strings.Join(sets, ", ")
		args = append(args, vals...)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable("merge profile", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) error {
	cols, vals := sqliteColumns(patch)
	if len(cols) == 0 {
		p, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNotFound
		}
		return nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(vals, id)...)
	if err != nil {
		return unavailable("update profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const sqliteProfileColumns = `id, email, display_name, role, email_verified, created_at, last_login, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Profile, error) {
	p, err := scanSQLiteProfile(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProfileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get profile", err)
	}
	return p, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProfileColumns+` FROM profiles
		ORDER BY created_at IS NULL, created_at DESC, id`)
	if err != nil {
		return nil, unavailable("list profiles", err)
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanSQLiteProfile(rows)
		if err != nil {
			return nil, unavailable("list profiles", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list profiles", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return unavailable("delete profile", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProfile(row scanner) (*Profile, error) {
	var (
		p                             Profile
		email, name, role             sql.NullString
		verified                      sql.NullInt64
		createdAt, lastLogin, updated sql.NullString
	)
	if err := row.Scan(&p.ID, &email, &name, &role, &verified, &createdAt, &lastLogin, &updated); err != nil {
		return nil, err
	}
	p.Email = email.String
	p.DisplayName = name.String
	p.Role = Role(role.String)
	p.EmailVerified = verified.Valid && verified.Int64 != 0
	p.CreatedAt = parseNullTime(createdAt)
	p.LastLogin = parseNullTime(lastLogin)
	p.UpdatedAt = parseNullTime(updated)
	return &p, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
