package guard

import (
	"context"
	"sync"

	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

// State is the admin check's result.
type State int

const (
	StateLoading State = iota
	StateUser
	StateAdmin
)

func (s State) String() string {
	switch s {
	case StateUser:
		return "user"
	case StateAdmin:
		return "admin"
	default:
		return "loading"
	}
}

// ProfileGetter is the part of profile.Store the gate reads.
type ProfileGetter interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
}

// AdminGate resolves once whether an identity may use the admin panel. Any
// lookup failure resolves to StateUser.
type AdminGate struct {
	store  ProfileGetter
	id     string
	logger observability.Logger

	once  sync.Once
	mu    sync.RWMutex
	state State
	done  chan struct{}
}

// NewAdminGate returns a gate in StateLoading. A nil logger discards.
func NewAdminGate(store ProfileGetter, identityID string, logger observability.Logger) *AdminGate {
	if logger == nil {
		logger = observability.Discard()
	}
	return &AdminGate{store: store, id: identityID, logger: logger, done: make(chan struct{})}
}

// State returns the current state.
func (g *AdminGate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Done is closed once the gate resolved.
func (g *AdminGate) Done() <-chan struct{} { return g.done }

// Resolve fetches the profile on the first call and returns the final state.
// Later calls return the same state.
func (g *AdminGate) Resolve(ctx context.Context) State {
	g.once.Do(func() {
		next := StateUser
		p, err := g.store.Get(ctx, g.id)
		switch {
		case err != nil:
			g.logger.WarnContext(ctx, "admin check failed, denying", "identity_id", g.id, "error", err)
		case p == nil:
			g.logger.InfoContext(ctx, "admin check: no profile", "identity_id", g.id)
		case p.IsAdmin():
			next = StateAdmin
		}
		g.mu.Lock()
		g.state = next
		g.mu.Unlock()
		close(g.done)
	})
	return g.State()
}
