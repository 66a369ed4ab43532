// Package session holds one browser client's authentication state. A Context
// subscribes to an identity.Client, applies its change events on a single
// pump goroutine and re-publishes them to readers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
)

// ErrClosed is returned by operations on a closed Context.
var ErrClosed = errors.New("session closed")

// Credentials is the per-client view of the credential provider.
// *identity.Client implements it.
type Credentials interface {
	Subscribe() (<-chan identity.Change, func())
	Version() uint64
	CreateAccount(ctx context.Context, email, password string) (*identity.Identity, error)
	SignIn(ctx context.Context, email, password string) (*identity.Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	SendVerification(ctx context.Context) error
	UpdateDisplayName(ctx context.Context, name string) error
	UpdateEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, password string) error
	Reload(ctx context.Context) error
}

// Reader is the read side of a Context.
type Reader interface {
	Current() *identity.Identity
	Loading() bool
	Ready() <-chan struct{}
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger. The component attribute is added.
func WithLogger(l observability.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l.WithComponent("session")
		}
	}
}

// WithAudit records sign-in and account events to l.
func WithAudit(l audit.Logger) Option {
	return func(c *Context) { c.audit = l }
}

// WithMetrics counts auth outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithClock overrides time.Now for profile timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		if now != nil {
			c.now = now
		}
	}
}

// Context is the authentication state of one client. Its pump goroutine is
// the only writer of the current Identity.
type Context struct {
	creds    Credentials
	profiles profile.Store
	logger   observability.Logger
	audit    audit.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	current *identity.Identity
	version uint64
	loading bool
	ready   chan struct{}
	changed chan struct{}

	unsubscribe func()
	done        chan struct{}
	background  sync.WaitGroup
	closeOnce   sync.Once
}

// New subscribes to creds and starts the pump. The Context is loading until
// the first change event is applied.
func New(creds Credentials, profiles profile.Store, opts ...Option) *Context {
	c := &Context{
		creds:    creds,
		profiles: profiles,
		logger:   observability.Discard(),
		now:      time.Now,
		loading:  true,
		ready:    make(chan struct{}),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	events, unsubscribe := creds.Subscribe()
	c.unsubscribe = unsubscribe
	go c.pump(events)
	return c
}

func (c *Context) pump(events <-chan identity.Change) {
	defer close(c.done)
	for ev := range events {
		c.apply(ev)
	}
}

func (c *Context) apply(ev identity.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loading && ev.Version < c.version {
		return
	}
	c.current = ev.Identity
	c.version = ev.Version
	if c.loading {
		c.loading = false
		close(c.ready)
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// Current returns a copy of the signed-in Identity, or nil.
func (c *Context) Current() *identity.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// Loading reports whether the initial provider state is still pending.
func (c *Context) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Ready is closed once loading completes.
func (c *Context) Ready() <-chan struct{} { return c.ready }

// Changed returns a channel closed on the next applied change.
func (c *Context) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// WaitReady blocks until loading completes or ctx is done.
func (c *Context) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitFor blocks until the pump applied version v.
func (c *Context) waitFor(ctx context.Context, v uint64) error {
	for {
		c.mu.RLock()
		reached := !c.loading && c.version >= v
		changed := c.changed
		c.mu.RUnlock()
		if reached {
			return nil
		}
		select {
		case <-changed:
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sync waits until the Context reflects the provider's latest state.
func (c *Context) sync(ctx context.Context) error {
	return c.waitFor(ctx, c.creds.Version())
}

// Close unsubscribes, stops the pump and waits for background profile writes.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		<-c.done
		c.background.Wait()
	})
}

func (c *Context) record(ctx context.Context, e *audit.Event) {
	if err := audit.Record(ctx, c.audit, e); err != nil {
		c.logger.WarnContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}
