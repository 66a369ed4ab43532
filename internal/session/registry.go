package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
)

// KeyLength is the number of random bytes in a client key.
const KeyLength = 32

// DefaultIdleTimeout is how long an unused client entry is kept.
const DefaultIdleTimeout = 24 * time.Hour

// Factory builds the Context for a new client.
type Factory func() *Context

// NewFactory returns a Factory giving each client its own identity.Client.
func NewFactory(svc *identity.Service, profiles profile.Store, opts ...Option) Factory {
	return func() *Context {
		return New(identity.NewClient(svc), profiles, opts...)
	}
}

type entry struct {
	session  *Context
	lastSeen time.Time
}

// Registry maps opaque client keys to Contexts. It is safe for concurrent
// use by HTTP handlers.
type Registry struct {
	factory Factory
	idle    time.Duration
	now     func() time.Time

	anonOnce sync.Once
	anon     *Context

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry. idle <= 0 uses DefaultIdleTimeout.
func NewRegistry(factory Factory, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Registry{
		factory: factory,
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// GenerateKey returns a hex-encoded random client key.
func GenerateKey() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validKey(key string) bool {
	if len(key) != 2*KeyLength {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// Create registers a new client and returns its key.
func (r *Registry) Create() (string, *Context, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	s := r.factory()
	r.mu.Lock()
	r.entries[key] = &entry{session: s, lastSeen: r.now()}
	r.mu.Unlock()
	return key, s, nil
}

// Get returns the client's Context and marks it used.
func (r *Registry) Get(key string) (*Context, bool) {
	if !validKey(key) {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.session, true
}

// Anonymous returns the shared Context for clients without a registered
// key. It is never signed in; callers must not run sign-in operations on it.
func (r *Registry) Anonymous() *Context {
	r.anonOnce.Do(func() { r.anon = r.factory() })
	return r.anon
}

// Delete closes and removes a client.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		e.session.Close()
	}
}

// Cleanup closes clients idle longer than the timeout.
// Returns the number removed.
func (r *Registry) Cleanup() int {
	cutoff := r.now().Add(-r.idle)
	var stale []*Context

	r.mu.Lock()
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.session)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// Len returns the number of registered clients. The anonymous Context is
// not counted.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every client.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.session.Close()
	}
	r.anonOnce.Do(func() {})
	if r.anon != nil {
		r.anon.Close()
	}
}
