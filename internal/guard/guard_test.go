package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
)

type fakeReader struct {
	mu      sync.Mutex
	loading bool
	current *identity.Identity
	ready   chan struct{}
}

func newFakeReader() *fakeReader { return &fakeReader{loading: true, ready: make(chan struct{})} }

func (r *fakeReader) Current() *identity.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *fakeReader) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *fakeReader) Ready() <-chan struct{} { return r.ready }

func (r *fakeReader) finish(id *identity.Identity) {
	r.mu.Lock()
	r.loading = false
	r.current = id
	r.mu.Unlock()
	close(r.ready)
}

func TestProtect(t *testing.T) {
	tests := []struct {
		name    string
		loading bool
		current *identity.Identity
		want    Decision
	}{
		{"loading", true, nil, Decision{Kind: Pending}},
		{"signed out", false, nil, Decision{Kind: Redirect, Target: "/signin"}},
		{"signed in", false, &identity.Identity{ID: "u1"}, Decision{Kind: Allow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{loading: tt.loading, current: tt.current, ready: make(chan struct{})}
			if got := Protect(r); got != tt.want {
				t.Fatalf("Protect = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAwaitWaitsForReady(t *testing.T) {
	r := newFakeReader()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.finish(&identity.Identity{ID: "u1"})
	}()
	d, err := Await(context.Background(), r)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if d.Kind != Allow {
		t.Fatalf("decision = %v, want allow", d.Kind)
	}
}

func TestAwaitHonorsCancellation(t *testing.T) {
	r := newFakeReader()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := Await(ctx, r)
	if !errors.Is(err, context.Canceled) || d.Kind != Pending {
		t.Fatalf("Await = %v, %v", d, err)
	}
}

type blockingStore struct {
	release chan struct{}
	p       *profile.Profile
	err     error
}

func (s *blockingStore) Get(ctx context.Context, _ string) (*profile.Profile, error) {
	if s.release != nil {
		<-s.release
	}
	return s.p, s.err
}

func TestAdminGateLoadingThenResolved(t *testing.T) {
	store := &blockingStore{release: make(chan struct{}), p: &profile.Profile{ID: "a", Role: profile.RoleAdmin}}
	g := NewAdminGate(store, "a", nil)
	if g.State() != StateLoading {
		t.Fatalf("initial state = %v", g.State())
	}
	result := make(chan State, 1)
	go func() { result <- g.Resolve(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	if g.State() != StateLoading {
		t.Fatalf("state before fetch completes = %v", g.State())
	}
	close(store.release)
	if got := <-result; got != StateAdmin {
		t.Fatalf("Resolve = %v, want admin", got)
	}
	<-g.Done()
}

func TestAdminGateFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		store *blockingStore
		want  State
	}{
		{"admin", &blockingStore{p: &profile.Profile{Role: profile.RoleAdmin}}, StateAdmin},
		{"user", &blockingStore{p: &profile.Profile{Role: profile.RoleUser}}, StateUser},
		{"role unset", &blockingStore{p: &profile.Profile{}}, StateUser},
		{"missing profile", &blockingStore{}, StateUser},
		{"store unavailable", &blockingStore{err: profile.ErrUnavailable}, StateUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewAdminGate(tt.store, "u", nil)
			if got := g.Resolve(context.Background()); got != tt.want {
				t.Fatalf("Resolve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdminGateResolvesOnce(t *testing.T) {
	store := &blockingStore{p: &profile.Profile{Role: profile.RoleUser}}
	g := NewAdminGate(store, "u", nil)
	g.Resolve(context.Background())
	store.p = &profile.Profile{Role: profile.RoleAdmin}
	if got := g.Resolve(context.Background()); got != StateUser {
		t.Fatalf("second Resolve = %v, want user", got)
	}
}
