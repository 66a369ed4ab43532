// Package admin implements the admin panel's user management over profile
// documents.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

// ErrSelfModification is returned when an admin targets their own profile.
var ErrSelfModification = errors.New("cannot modify your own account")

// Service manages profiles for admins. Callers must already have passed the
// admin gate.
type Service struct {
	profiles profile.Store
	audit    audit.Logger
	logger   observability.Logger
	now      func() time.Time
}

// Options configure a Service. Zero values are usable.
type Options struct {
	Audit  audit.Logger
	Logger observability.Logger
	Now    func() time.Time
}

// NewService creates a Service over profiles.
func NewService(profiles profile.Store, opts Options) *Service {
	s := &Service{profiles: profiles, audit: opts.Audit, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = observability.Discard()
	}
	s.logger = s.logger.WithComponent("admin")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// List returns profiles newest first. A non-empty query keeps profiles whose
// email or display name contains it, ignoring case.
func (s *Service) List(ctx context.Context, query string) ([]*profile.Profile, error) {
	all, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Email), q) || strings.Contains(strings.ToLower(p.DisplayName), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ToggleRole flips the target between user and admin and returns the
// refreshed list.
func (s *Service) ToggleRole(ctx context.Context, callerID, targetID string) ([]*profile.Profile, error) {
	if callerID == targetID {
		return nil, ErrSelfModification
	}
	p, err := s.profiles.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p == nil {
		return nil, profile.ErrNotFound
	}
	next := profile.RoleAdmin
	if p.IsAdmin() {
		next = profile.RoleUser
	}
	patch := profile.Patch{Role: profile.RolePtr(next), UpdatedAt: profile.Time(s.now())}
	if err := s.profiles.Update(ctx, targetID, patch); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.logger.InfoContext(ctx, "role changed", "actor_id", callerID, "target_id", targetID, "role", next)
	s.record(ctx, &audit.Event{
		Action:   audit.ActionRoleChange,
		ActorID:  callerID,
		TargetID: targetID,
		Detail:   map[string]string{"from": string(p.EffectiveRole()), "to": string(next)},
	})
	return s.List(ctx, "")
}

// Delete removes the target's profile document. The Identity is untouched
// and can still sign in.
func (s *Service) Delete(ctx context.Context, callerID, targetID string) ([]*profile.Profile, error) {
	if callerID == targetID {
		return nil, ErrSelfModification
	}
	p, err := s.profiles.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p == nil {
		return nil, profile.ErrNotFound
	}
	if err := s.profiles.Delete(ctx, targetID); err != nil {
		return nil, fmt.Errorf("delete profile: %w", err)
	}
	s.logger.InfoContext(ctx, "profile deleted", "actor_id", callerID, "target_id", targetID)
	s.record(ctx, &audit.Event{
		Action:   audit.ActionProfileDelete,
		ActorID:  callerID,
		TargetID: targetID,
		Detail:   map[string]string{"email": p.Email},
	})
	return s.List(ctx, "")
}

// Activity returns recent audit events, newest first.
func (s *Service) Activity(ctx context.Context, limit int) ([]*audit.Event, error) {
	if s.audit == nil {
		return nil, nil
	}
	events, _, err := s.audit.List(ctx, audit.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

func (s *Service) record(ctx context.Context, e *audit.Event) {
	if err := audit.Record(ctx, s.audit, e); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}

// IdentityLister lists every registered Identity. *identity.Service
// implements it.
type IdentityLister interface {
	ListIdentities(ctx context.Context) ([]*identity.Identity, error)
}

// Orphans returns Identities with no profile document. It only reports.
func Orphans(ctx context.Context, identities IdentityLister, profiles profile.Store) ([]*identity.Identity, error) {
	ids, err := identities.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	have := make(map[string]struct{}, len(docs))
	for _, p := range docs {
		have[p.ID] = struct{}{}
	}
	var out []*identity.Identity
	for _, id := range ids {
		if _, ok := have[id.ID]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}
