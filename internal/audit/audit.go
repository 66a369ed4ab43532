// Package audit records sign-in and admin actions for the admin panel's
// activity feed.
package audit

import (
	"context"
	"time"
)

// Event is one audited action.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// ActorID is the identity that acted; empty for anonymous actions.
	ActorID    string `json:"actor_id,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
	Action     string `json:"action"`
	// TargetID is the identity the action applied to.
	TargetID  string            `json:"target_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
}

// Actions.
const (
	ActionSignUp         = "signup"
	ActionSignIn         = "signin"
	ActionSignInFailed   = "signin_failed"
	ActionSignOut        = "signout"
	ActionPasswordReset  = "password_reset"
	ActionPasswordChange = "password_change"
	ActionEmailChange    = "email_change"
	ActionEmailVerified  = "email_verified"
	ActionRoleChange     = "role_change"
	ActionProfileDelete  = "profile_delete"
)

// ListOptions filter List. Zero values match everything.
type ListOptions struct {
	Limit    int
	Offset   int
	ActorID  string
	TargetID string
	Action   string
	Since    *time.Time
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultListLimit
	case o.Limit > maxListLimit:
		return maxListLimit
	}
	return o.Limit
}

// Logger stores and lists audit events.
type Logger interface {
	Log(ctx context.Context, e *Event) error
	// List returns matching events newest first and the total match count.
	List(ctx context.Context, opts ListOptions) ([]*Event, int, error)
}

type requestMetaKey struct{}

// RequestMeta is request information the web layer attaches to contexts so
// events logged deeper in the stack carry it.
type RequestMeta struct {
	RequestID string
	IPAddress string
}

// WithRequestMeta stores request metadata in the context.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// RequestMetaFromContext returns the stored request metadata, if any.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return m
}

// Record fills request metadata and logs e. A nil logger drops the event.
func Record(ctx context.Context, l Logger, e *Event) error {
	if l == nil || e == nil {
		return nil
	}
	meta := RequestMetaFromContext(ctx)
	if e.RequestID == "" {
		e.RequestID = meta.RequestID
	}
	if e.IPAddress == "" {
		e.IPAddress = meta.IPAddress
	}
	return l.Log(ctx, e)
}

func copyEvent(e *Event) *Event {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Detail != nil {
		cp.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			cp.Detail[k] = v
		}
	}
	return &cp
}
