// Package profile stores the application-owned user documents ("users"
// collection) keyed by identity id.
package profile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("profile store unavailable")
	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("profile not found")
)

// Role is the authorization role stored on a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Profile is one user document. Zero values mean the field was never set.
type Profile struct {
	ID            string     `json:"uid"`
	Email         string     `json:"email,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	Role          Role       `json:"role,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// EffectiveRole treats a missing profile or unknown role as RoleUser.
func (p *Profile) EffectiveRole() Role {
	if p == nil || p.Role != RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

// IsAdmin reports whether the profile grants admin access.
func (p *Profile) IsAdmin() bool { return p.EffectiveRole() == RoleAdmin }

// Patch is a field-level merge. Nil fields are left as stored.
type Patch struct {
	Email         *string
	DisplayName   *string
	Role          *Role
	EmailVerified *bool
	CreatedAt     *time.Time
	LastLogin     *time.Time
	UpdatedAt     *time.Time
}

// Empty reports whether the patch sets nothing.
func (p Patch) Empty() bool {
	return p.Email == nil && p.DisplayName == nil && p.Role == nil && p.EmailVerified == nil &&
		p.CreatedAt == nil && p.LastLogin == nil && p.UpdatedAt == nil
}

// Apply writes the set fields of patch onto p.
func (p *Profile) Apply(patch Patch) {
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.EmailVerified != nil {
		p.EmailVerified = *patch.EmailVerified
	}
	if patch.CreatedAt != nil {
		p.CreatedAt = timePtr(*patch.CreatedAt)
	}
	if patch.LastLogin != nil {
		p.LastLogin = timePtr(*patch.LastLogin)
	}
	if patch.UpdatedAt != nil {
		p.UpdatedAt = timePtr(*patch.UpdatedAt)
	}
}

// Store is the profile document store.
type Store interface {
	// Merge creates the document if needed and writes the set fields.
	Merge(ctx context.Context, id string, patch Patch) error
	// Update writes the set fields of an existing document, or ErrNotFound.
	Update(ctx context.Context, id string, patch Patch) error
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, id string) (*Profile, error)
	// List returns every document, newest CreatedAt first, unset CreatedAt last.
	List(ctx context.Context) ([]*Profile, error)
	Delete(ctx context.Context, id string) error
}

// Helpers for building patches.

func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Time(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
func RolePtr(r Role) *Role { return &r }

// NewProfilePatch is the document written when an account signs up.
func NewProfilePatch(email, displayName string, now time.Time) Patch {
	return Patch{
		Email:         String(email),
		DisplayName:   String(displayName),
		Role:          RolePtr(RoleUser),
		EmailVerified: Bool(false),
		CreatedAt:     Time(now),
		LastLogin:     Time(now),
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func copyProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.CreatedAt != nil {
		cp.CreatedAt = timePtr(*p.CreatedAt)
	}
	if p.LastLogin != nil {
		cp.LastLogin = timePtr(*p.LastLogin)
	}
	if p.UpdatedAt != nil {
		cp.UpdatedAt = timePtr(*p.UpdatedAt)
	}
	return &cp
}

// sortByCreated orders newest first with unset CreatedAt last, ties by id.
func sortByCreated(ps []*Profile) {
	slices.SortStableFunc(ps, func(a, b *Profile) int {
		switch {
		case a.CreatedAt == nil && b.CreatedAt == nil:
			return compareIDs(a.ID, b.ID)
		case a.CreatedAt == nil:
			return 1
		case b.CreatedAt == nil:
			return -1
		}
		if c := b.CreatedAt.Compare(*a.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
