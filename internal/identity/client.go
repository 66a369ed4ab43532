package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Change is one identity-changed event. Identity is nil when signed out.
// Versions increase by one per published change.
type Change struct {
	Version  uint64
	Identity *Identity
}

// Client is one application instance's view of the provider: at most one
// signed-in Identity, published to subscribers on every change.
//
// Each subscriber channel has a buffer of one. An undelivered event is
// replaced by the newer one, so a slow subscriber always reads the latest
// state and never blocks the Client.
type Client struct {
	svc *Service

	mu       sync.Mutex
	current  *Identity
	authTime time.Time
	version  uint64
	subs     map[int]chan Change
	nextSub  int
}

// NewClient returns a signed-out Client.
func NewClient(svc *Service) *Client {
	return &Client{svc: svc, subs: make(map[int]chan Change)}
}

// Subscribe returns a channel of changes and a function that ends the
// subscription and closes the channel. The current state is delivered
// immediately.
func (c *Client) Subscribe() (<-chan Change, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Change, 1)
	ch <- Change{Version: c.version, Identity: copyIdentity(c.current)}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Version returns the version of the latest published change.
func (c *Client) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Current returns a copy of the signed-in Identity, or nil.
func (c *Client) Current() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIdentity(c.current)
}

// AuthTime returns when the current Identity signed in.
func (c *Client) AuthTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authTime
}

// publishLocked must be called with c.mu held.
func (c *Client) publishLocked() {
	c.version++
	ev := Change{Version: c.version, Identity: copyIdentity(c.current)}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// setSignedIn replaces the signed-in state and publishes it.
func (c *Client) setSignedIn(id *Identity, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = copyIdentity(id)
	c.authTime = at
	c.publishLocked()
}

// refresh replaces the Identity if id is still the signed-in one.
func (c *Client) refresh(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != id.ID {
		return
	}
	if *c.current == *id {
		return
	}
	c.current = copyIdentity(id)
	c.publishLocked()
}

func (c *Client) signedIn() (*Identity, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, time.Time{}, ErrNoSession
	}
	return copyIdentity(c.current), c.authTime, nil
}

// CreateAccount registers an account and signs it in.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.svc.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSignedIn(id, c.svc.Now())
	return id, nil
}

// SignIn authenticates and replaces the signed-in Identity. State is left
// untouched on failure.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.svc.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSignedIn(id, c.svc.Now())
	return id, nil
}

// SignOut clears the signed-in Identity. Signing out twice is a no-op.
func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	c.current = nil
	c.authTime = time.Time{}
	c.publishLocked()
	return nil
}

// SendPasswordReset asks the provider to email a reset link.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.svc.SendPasswordReset(ctx, email)
}

// SendVerification emails a verification link to the signed-in Identity.
func (c *Client) SendVerification(ctx context.Context) error {
	cur, _, err := c.signedIn()
	if err != nil {
		return err
	}
	return c.svc.SendVerification(ctx, cur.ID)
}

// UpdateDisplayName sets the signed-in Identity's display name.
func (c *Client) UpdateDisplayName(ctx context.Context, name string) error {
	cur, _, err := c.signedIn()
	if err != nil {
		return err
	}
	id, err := c.svc.UpdateDisplayName(ctx, cur.ID, name)
	if err != nil {
		return err
	}
	c.refresh(id)
	return nil
}

// UpdateEmail changes the signed-in Identity's email.
func (c *Client) UpdateEmail(ctx context.Context, email string) error {
	cur, at, err := c.signedIn()
	if err != nil {
		return err
	}
	id, err := c.svc.UpdateEmail(ctx, cur.ID, email, at)
	if err != nil {
		return err
	}
	c.refresh(id)
	return nil
}

// UpdatePassword changes the signed-in Identity's password.
func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	cur, at, err := c.signedIn()
	if err != nil {
		return err
	}
	return c.svc.UpdatePassword(ctx, cur.ID, password, at)
}

// Reload re-reads the signed-in Identity. If the account is gone the Client
// signs out.
func (c *Client) Reload(ctx context.Context) error {
	cur, _, err := c.signedIn()
	if err != nil {
		return err
	}
	id, err := c.svc.Lookup(ctx, cur.ID)
	if errors.Is(err, ErrAccountNotFound) {
		c.mu.Lock()
		if c.current != nil && c.current.ID == cur.ID {
			c.current = nil
			c.authTime = time.Time{}
			c.publishLocked()
		}
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	c.refresh(id)
	return nil
}
