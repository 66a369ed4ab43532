package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/mail"
	"hydrofirma/internal/profile"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Service, *profile.MemoryStore, *audit.MemoryLogger) {
	t.Helper()
	store := profile.NewMemoryStore()
	ctx := context.Background()
	docs := []struct {
		id, email, name string
		role            profile.Role
		created         time.Time
	}{
		{"admin", "boss@hydrofirma.test", "The Boss", profile.RoleAdmin, base},
		{"u1", "ada@example.com", "Ada Lovelace", profile.RoleUser, base.Add(time.Hour)},
		{"u2", "grace@example.com", "Grace Hopper", profile.RoleUser, base.Add(2 * time.Hour)},
	}
	for _, d := range docs {
		patch := profile.NewProfilePatch(d.email, d.name, d.created)
		patch.Role = profile.RolePtr(d.role)
		if err := store.Merge(ctx, d.id, patch); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	log := audit.NewMemoryLogger()
	svc := NewService(store, Options{Audit: log, Now: func() time.Time { return base.Add(24 * time.Hour) }})
	return svc, store, log
}

func ids(ps []*profile.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestList(t *testing.T) {
	svc, _, _ := seed(t)
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"u2", "u1", "admin"}},
		{"ADA", []string{"u1"}},
		{"hopper", []string{"u2"}},
		{"example.com", []string{"u2", "u1"}},
		{"nobody", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := svc.List(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			g := ids(got)
			if len(g) != len(tt.want) {
				t.Fatalf("List(%q) = %v, want %v", tt.query, g, tt.want)
			}
			for i := range g {
				if g[i] != tt.want[i] {
					t.Fatalf("List(%q) = %v, want %v", tt.query, g, tt.want)
				}
			}
		})
	}
}

func TestListUnavailable(t *testing.T) {
	svc, store, _ := seed(t)
	store.SetFailure(errors.New("down"))
	if _, err := svc.List(context.Background(), ""); !errors.Is(err, profile.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestToggleRoleTwiceRestores(t *testing.T) {
	svc, store, log := seed(t)
	ctx := context.Background()

	list, err := svc.ToggleRole(ctx, "admin", "u1")
	if err != nil {
		t.Fatalf("ToggleRole: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("refreshed list has %d entries", len(list))
	}
	p, _ := store.Get(ctx, "u1")
	if p.Role != profile.RoleAdmin {
		t.Fatalf("role after first toggle = %q", p.Role)
	}
	if p.UpdatedAt == nil || !p.UpdatedAt.Equal(base.Add(24*time.Hour)) {
		t.Fatalf("updatedAt = %v", p.UpdatedAt)
	}
	if _, err := svc.ToggleRole(ctx, "admin", "u1"); err != nil {
		t.Fatalf("second ToggleRole: %v", err)
	}
	p, _ = store.Get(ctx, "u1")
	if p.Role != profile.RoleUser {
		t.Fatalf("role after second toggle = %q", p.Role)
	}

	events, _, _ := log.List(ctx, audit.ListOptions{Action: audit.ActionRoleChange})
	if len(events) != 2 || events[0].Detail["to"] != "user" || events[1].Detail["to"] != "admin" {
		t.Fatalf("unexpected audit events: %+v", events)
	}
}

func TestSelfModificationRejected(t *testing.T) {
	svc, store, _ := seed(t)
	ctx := context.Background()
	if _, err := svc.ToggleRole(ctx, "admin", "admin"); !errors.Is(err, ErrSelfModification) {
		t.Fatalf("ToggleRole self err = %v", err)
	}
	if _, err := svc.Delete(ctx, "admin", "admin"); !errors.Is(err, ErrSelfModification) {
		t.Fatalf("Delete self err = %v", err)
	}
	if p, _ := store.Get(ctx, "admin"); p == nil || p.Role != profile.RoleAdmin {
		t.Fatalf("admin profile changed: %+v", p)
	}
}

func TestMissingTarget(t *testing.T) {
	svc, store, _ := seed(t)
	ctx := context.Background()
	if _, err := svc.ToggleRole(ctx, "admin", "ghost"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("ToggleRole err = %v", err)
	}
	if p, _ := store.Get(ctx, "ghost"); p != nil {
		t.Fatalf("toggle created a profile: %+v", p)
	}
	if _, err := svc.Delete(ctx, "admin", "ghost"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("Delete err = %v", err)
	}
}

func newIdentityService(t *testing.T) *identity.Service {
	t.Helper()
	svc, err := identity.NewService(identity.NewMemoryAccountStore(), mail.NewMemoryMailer(), identity.Options{
		Secret:     []byte("test"),
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestDeleteKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	idsvc := newIdentityService(t)
	acct, err := idsvc.CreateAccount(ctx, "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	store := profile.NewMemoryStore()
	_ = store.Merge(ctx, acct.ID, profile.NewProfilePatch(acct.Email, "Ada", base))
	_ = store.Merge(ctx, "admin", profile.Patch{Role: profile.RolePtr(profile.RoleAdmin)})
	log := audit.NewMemoryLogger()
	svc := NewService(store, Options{Audit: log})

	list, err := svc.Delete(ctx, "admin", acct.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, p := range list {
		if p.ID == acct.ID {
			t.Fatal("deleted profile still listed")
		}
	}
	if _, err := idsvc.Authenticate(ctx, "ada@example.com", "secret1"); err != nil {
		t.Fatalf("identity no longer authenticates: %v", err)
	}
	events, _ := svc.Activity(ctx, 10)
	if len(events) != 1 || events[0].Action != audit.ActionProfileDelete || events[0].Detail["email"] != "ada@example.com" {
		t.Fatalf("unexpected activity: %+v", events)
	}

	orphans, err := Orphans(ctx, idsvc, store)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != acct.ID {
		t.Fatalf("Orphans = %+v", orphans)
	}
	if p, _ := store.Get(ctx, acct.ID); p != nil {
		t.Fatal("Orphans must not create profiles")
	}
}
