package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
)

// ProfileStoreSuite runs the behavior every profile.Store backend must share.
// newStore must return an empty store.
func ProfileStoreSuite(t *testing.T, newStore func(t *testing.T) profile.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing returns nil", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Get(ctx, "nobody")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if p != nil {
			t.Fatalf("expected nil profile, got %+v", p)
		}
	})

	t.Run("merge creates then merges fields", func(t *testing.T) {
		s := newStore(t)
		if err := s.Merge(ctx, "u1", profile.NewProfilePatch("a@example.com", "Ada", base)); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		later := base.Add(time.Hour)
		if err := s.Merge(ctx, "u1", profile.Patch{LastLogin: profile.Time(later)}); err != nil {
			t.Fatalf("Merge lastLogin: %v", err)
		}
		p, err := s.Get(ctx, "u1")
		if err != nil || p == nil {
			t.Fatalf("Get: %v, %v", p, err)
		}
		if p.Email != "a@example.com" || p.DisplayName != "Ada" || p.Role != profile.RoleUser || p.EmailVerified {
			t.Errorf("unexpected profile after merge: %+v", p)
		}
		if p.CreatedAt == nil || !p.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, base)
		}
		if p.LastLogin == nil || !p.LastLogin.Equal(later) {
			t.Errorf("LastLogin = %v, want %v", p.LastLogin, later)
		}
		if p.UpdatedAt != nil {
			t.Errorf("UpdatedAt should be unset, got %v", p.UpdatedAt)
		}
	})

	t.Run("merge into missing document creates partial document", func(t *testing.T) {
		s := newStore(t)
		if err := s.Merge(ctx, "u2", profile.Patch{LastLogin: profile.Time(base)}); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		p, err := s.Get(ctx, "u2")
		if err != nil || p == nil {
			t.Fatalf("Get: %v, %v", p, err)
		}
		if p.Role != "" || p.EffectiveRole() != profile.RoleUser {
			t.Errorf("role = %q, effective %q", p.Role, p.EffectiveRole())
		}
		if p.CreatedAt != nil {
			t.Errorf("CreatedAt should be unset, got %v", p.CreatedAt)
		}
	})

	t.Run("update requires existing document", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, "ghost", profile.Patch{Role: profile.RolePtr(profile.RoleAdmin)})
		if !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("Update missing: err = %v, want ErrNotFound", err)
		}
		if p, _ := s.Get(ctx, "ghost"); p != nil {
			t.Fatalf("Update must not create a document, got %+v", p)
		}
		if err := s.Merge(ctx, "u3", profile.NewProfilePatch("c@example.com", "Cy", base)); err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if err := s.Update(ctx, "u3", profile.Patch{Role: profile.RolePtr(profile.RoleAdmin), EmailVerified: profile.Bool(true)}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		p, _ := s.Get(ctx, "u3")
		if p == nil || p.Role != profile.RoleAdmin || !p.EmailVerified || p.Email != "c@example.com" {
			t.Errorf("unexpected profile after update: %+v", p)
		}
	})

	t.Run("list orders by created desc with unset last", func(t *testing.T) {
		s := newStore(t)
		mustMerge(t, s, "old", profile.NewProfilePatch("old@example.com", "Old", base))
		mustMerge(t, s, "new", profile.NewProfilePatch("new@example.com", "New", base.Add(48*time.Hour)))
		mustMerge(t, s, "mid", profile.NewProfilePatch("mid@example.com", "Mid", base.Add(time.Hour)))
		mustMerge(t, s, "bare", profile.Patch{Email: profile.String("bare@example.com")})

		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var got []string
		for _, p := range list {
			got = append(got, p.ID)
		}
		want := []string{"new", "mid", "old", "bare"}
		if len(got) != len(want) {
			t.Fatalf("List ids = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("List ids = %v, want %v", got, want)
			}
		}
	})

	t.Run("delete removes document", func(t *testing.T) {
		s := newStore(t)
		mustMerge(t, s, "u4", profile.NewProfilePatch("d@example.com", "Di", base))
		if err := s.Delete(ctx, "u4"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if p, err := s.Get(ctx, "u4"); err != nil || p != nil {
			t.Fatalf("Get after delete: %v, %v", p, err)
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 0 {
			t.Fatalf("List after delete = %d entries", len(list))
		}
		if err := s.Delete(ctx, "u4"); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
	})
}

func mustMerge(t *testing.T, s profile.Store, id string, patch profile.Patch) {
	t.Helper()
	if err := s.Merge(context.Background(), id, patch); err != nil {
		t.Fatalf("Merge %s: %v", id, err)
	}
}

// AccountStoreSuite runs the behavior every identity.AccountStore backend
// must share. newStore must return an empty store.
func AccountStoreSuite(t *testing.T, newStore func(t *testing.T) identity.AccountStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	account := func(id, email string, created time.Time) *identity.Account {
		return &identity.Account{
			ID: id, Email: email, PasswordHash: []byte("hash-" + id),
			CreatedAt: created, UpdatedAt: created, PasswordChangedAt: created,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, account("a1", "a@example.com", base)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		byID, err := s.GetByID(ctx, "a1")
		if err != nil || byID == nil {
			t.Fatalf("GetByID: %v, %v", byID, err)
		}
		if string(byID.PasswordHash) != "hash-a1" || !byID.CreatedAt.Equal(base) {
			t.Errorf("unexpected account: %+v", byID)
		}
		byEmail, err := s.GetByEmail(ctx, "a@example.com")
		if err != nil || byEmail == nil || byEmail.ID != "a1" {
			t.Fatalf("GetByEmail: %v, %v", byEmail, err)
		}
		missing, err := s.GetByEmail(ctx, "z@example.com")
		if err != nil || missing != nil {
			t.Fatalf("GetByEmail missing: %v, %v", missing, err)
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, account("a1", "a@example.com", base)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		err := s.Create(ctx, account("a2", "a@example.com", base))
		if !errors.Is(err, identity.ErrAccountExists) {
			t.Fatalf("duplicate Create: err = %v, want ErrAccountExists", err)
		}
	})

	t.Run("update changes email and keeps uniqueness", func(t *testing.T) {
		s := newStore(t)
		a := account("a1", "a@example.com", base)
		b := account("b1", "b@example.com", base)
		for _, acc := range []*identity.Account{a, b} {
			if err := s.Create(ctx, acc); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		a.Email = "b@example.com"
		if err := s.Update(ctx, a); !errors.Is(err, identity.ErrAccountExists) {
			t.Fatalf("Update to taken email: err = %v", err)
		}
		a.Email = "new@example.com"
		a.EmailVerified = true
		a.DisplayName = "Ada"
		if err := s.Update(ctx, a); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if old, _ := s.GetByEmail(ctx, "a@example.com"); old != nil {
			t.Errorf("old email still resolves to %+v", old)
		}
		got, err := s.GetByEmail(ctx, "new@example.com")
		if err != nil || got == nil || got.ID != "a1" || !got.EmailVerified || got.DisplayName != "Ada" {
			t.Fatalf("GetByEmail new: %+v, %v", got, err)
		}
		if err := s.Update(ctx, account("zz", "zz@example.com", base)); !errors.Is(err, identity.ErrAccountNotFound) {
			t.Fatalf("Update missing: err = %v", err)
		}
	})

	t.Run("list newest first without hashes", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"first", "second", "third"} {
			if err := s.Create(ctx, account(id, id+"@example.com", base.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 3 || list[0].ID != "third" || list[2].ID != "first" {
			t.Fatalf("unexpected order: %+v", list)
		}
		for _, a := range list {
			if len(a.PasswordHash) != 0 {
				t.Errorf("account %s leaked password hash", a.ID)
			}
		}
	})
}
