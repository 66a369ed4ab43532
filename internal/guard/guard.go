// Package guard decides access to protected pages: signed-in routes and the
// admin panel.
package guard

import (
	"context"

	"hydrofirma/internal/session"
)

// SignInPath is where unauthenticated requests are sent.
const SignInPath = "/signin"

// Kind tags a Decision.
type Kind int

const (
	// Pending means the session is still loading; no response may be
	// committed yet.
	Pending Kind = iota
	Allow
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "pending"
	}
}

// Decision is the outcome of Protect. Target is set for Redirect.
type Decision struct {
	Kind   Kind
	Target string
}

// Protect decides a protected route from the current session state.
func Protect(r session.Reader) Decision {
	if r.Loading() {
		return Decision{Kind: Pending}
	}
	if r.Current() == nil {
		return Decision{Kind: Redirect, Target: SignInPath}
	}
	return Decision{Kind: Allow}
}

// Await evaluates Protect, waiting out Pending until the session is ready or
// ctx is done.
func Await(ctx context.Context, r session.Reader) (Decision, error) {
	for {
		d := Protect(r)
		if d.Kind != Pending {
			return d, nil
		}
		select {
		case <-r.Ready():
		case <-ctx.Done():
			return d, ctx.Err()
		}
	}
}
