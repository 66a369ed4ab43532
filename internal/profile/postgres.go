//go:build postgres

package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed Store over the profiles table created
// by internal/storage/postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing, migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func pgColumns(patch Patch) ([]string, []any) {
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
		add("email_verified", *patch.EmailVerified)
	}
	if patch.CreatedAt != nil {
		add("created_at", patch.CreatedAt.UTC())
	}
	if patch.LastLogin != nil {
		add("last_login", patch.LastLogin.UTC())
	}
	if patch.UpdatedAt != nil {
		add("updated_at", patch.UpdatedAt.UTC())
	}
	return cols, vals
}

func (s *PostgresStore) Merge(ctx context.Context, id string, patch Patch) error {
	cols, vals := pgColumns(patch)
	query := `INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if len(cols) > 0 {
		params := make([]string, len(cols))
		sets := make([]string, len(cols))
		for i, c := range cols {
			params[i] = fmt.Sprintf("$%d", i+2)
			sets[i] = c + " = EXCLUDED." + c
		}
		query = `INSERT INTO profiles (id, ` + strings.Join(cols, ", ") + `) VALUES ($1, ` +
			strings.Join(params, ", ") + `) ON CONFLICT (id) DO UPDATE SET ` + strings.Join(sets, ", ")
	}
	if _, err := s.pool.Exec(ctx, query, append([]any{id}, vals...)...); err != nil {
		return unavailable("merge profile", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) error {
	cols, vals := pgColumns(patch)
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
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(cols)+1)
	tag, err := s.pool.Exec(ctx, query, append(vals, id)...)
	if err != nil {
		return unavailable("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgProfileColumns = `id, email, display_name, role, email_verified, created_at, last_login, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	p, err := scanPgProfile(s.pool.QueryRow(ctx, `SELECT `+pgProfileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get profile", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgProfileColumns+` FROM profiles
		ORDER BY created_at DESC NULLS LAST, id`)
	if err != nil {
		return nil, unavailable("list profiles", err)
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanPgProfile(rows)
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

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return unavailable("delete profile", err)
	}
	return nil
}

func scanPgProfile(row pgx.Row) (*Profile, error) {
	var (
		p                             Profile
		email, name, role             *string
		verified                      *bool
		createdAt, lastLogin, updated *time.Time
	)
	if err := row.Scan(&p.ID, &email, &name, &role, &verified, &createdAt, &lastLogin, &updated); err != nil {
		return nil, err
	}
	if email != nil {
		p.Email = *email
	}
	if name != nil {
		p.DisplayName = *name
	}
	if role != nil {
		p.Role = Role(*role)
	}
	p.EmailVerified = verified != nil && *verified
	p.CreatedAt, p.LastLogin, p.UpdatedAt = createdAt, lastLogin, updated
	return &p, nil
}
