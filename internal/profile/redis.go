package profile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash field names, matching the document's JSON names.
const (
	fieldID            = "uid"
	fieldEmail         = "email"
	fieldDisplayName   = "displayName"
	fieldRole          = "role"
	fieldEmailVerified = "emailVerified"
	fieldCreatedAt     = "createdAt"
	fieldLastLogin     = "lastLogin"
	fieldUpdatedAt     = "updatedAt"
)

// updateExisting writes fields only if the hash already exists.
var updateExisting = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// RedisStore keeps each profile in a hash and the set of ids in an index set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed store. Keys are prefixed with prefix,
// "hydrofirma:" when empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hydrofirma:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + "users:" + id }
func (s *RedisStore) index() string        { return s.prefix + "users" }

func (s *RedisStore) Merge(ctx context.Context, id string, patch Patch) error {
	fields := append([]any{fieldID, id}, patchFields(patch)...)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(id), fields...)
		p.SAdd(ctx, s.index(), id)
		return nil
	})
	if err != nil {
		return unavailable("merge profile", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id string, patch Patch) error {
	fields := append([]any{fieldID, id}, patchFields(patch)...)
	n, err := updateExisting.Run(ctx, s.client, []string{s.key(id)}, fields...).Int()
	if err != nil {
		return unavailable("update profile", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Profile, error) {
	m, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable("get profile", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return profileFromHash(id, m), nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Profile, error) {
	ids, err := s.client.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, unavailable("list profiles", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list profiles", err)
	}
	out := make([]*Profile, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		out = append(out, profileFromHash(ids[i], m))
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(id))
		p.SRem(ctx, s.index(), id)
		return nil
	})
	if err != nil {
		return unavailable("delete profile", err)
	}
	return nil
}

func patchFields(patch Patch) []any {
	var f []any
	if patch.Email != nil {
		f = append(f, fieldEmail, *patch.Email)
	}
	if patch.DisplayName != nil {
		f = append(f, fieldDisplayName, *patch.DisplayName)
	}
	if patch.Role != nil {
		f = append(f, fieldRole, string(*patch.Role))
	}
	if patch.EmailVerified != nil {
		f = append(f, fieldEmailVerified, strconv.FormatBool(*patch.EmailVerified))
	}
	if patch.CreatedAt != nil {
		f = append(f, fieldCreatedAt, patch.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if patch.LastLogin != nil {
		f = append(f, fieldLastLogin, patch.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	if patch.UpdatedAt != nil {
		f = append(f, fieldUpdatedAt, patch.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	return f
}

func profileFromHash(id string, m map[string]string) *Profile {
	p := &Profile{
		ID:          id,
		Email:       m[fieldEmail],
		DisplayName: m[fieldDisplayName],
		Role:        Role(m[fieldRole]),
		CreatedAt:   parseHashTime(m[fieldCreatedAt]),
		LastLogin:   parseHashTime(m[fieldLastLogin]),
		UpdatedAt:   parseHashTime(m[fieldUpdatedAt]),
	}
	p.EmailVerified, _ = strconv.ParseBool(m[fieldEmailVerified])
	return p
}

func parseHashTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
