package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func assertNoChange(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected change: %+v", ev)
	default:
	}
}

func TestClientSubscribeDeliversCurrentState(t *testing.T) {
	f := newFixture(t)
	c := NewClient(f.svc)
	ch, stop := c.Subscribe()
	defer stop()

	ev := recv(t, ch)
	if ev.Identity != nil || ev.Version != 0 {
		t.Fatalf("initial change = %+v, want signed out at version 0", ev)
	}
}

func TestClientSignInOutPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	c := NewClient(f.svc)
	ch, stop := c.Subscribe()
	defer stop()
	recv(t, ch)

	if _, err := c.SignIn(ctx, "grower@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn wrong password: err = %v", err)
	}
	assertNoChange(t, ch)
	if c.Current() != nil {
		t.Fatal("failed sign-in must leave the client signed out")
	}

	id, err := c.SignIn(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	ev := recv(t, ch)
	if ev.Identity == nil || ev.Identity.ID != id.ID || ev.Version != 1 {
		t.Fatalf("sign-in change = %+v", ev)
	}
	if c.AuthTime().IsZero() {
		t.Error("AuthTime not recorded")
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	ev = recv(t, ch)
	if ev.Identity != nil || ev.Version != 2 {
		t.Fatalf("sign-out change = %+v", ev)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
	assertNoChange(t, ch)
	if c.Version() != 2 {
		t.Errorf("Version = %d, want 2", c.Version())
	}
}

func TestClientCoalescesUndeliveredChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewClient(f.svc)
	ch, stop := c.Subscribe()
	defer stop()

	if _, err := c.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := c.UpdateDisplayName(ctx, "Ada"); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	ev := recv(t, ch)
	if ev.Version != 3 || ev.Identity != nil {
		t.Fatalf("coalesced change = %+v, want latest (version 3, signed out)", ev)
	}
	assertNoChange(t, ch)
}

func TestClientOperationsRequireSession(t *testing.T) {
	f := newFixture(t)
	c := NewClient(f.svc)
	ctx := context.Background()

	checks := map[string]error{
		"SendVerification":  c.SendVerification(ctx),
		"UpdateDisplayName": c.UpdateDisplayName(ctx, "x"),
		"UpdateEmail":       c.UpdateEmail(ctx, "x@example.com"),
		"UpdatePassword":    c.UpdatePassword(ctx, "secret2"),
		"Reload":            c.Reload(ctx),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNoSession) {
			t.Errorf("%s: err = %v, want ErrNoSession", name, err)
		}
	}
}

func TestClientUpdateEmailRefreshesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewClient(f.svc)
	if _, err := c.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ch, stop := c.Subscribe()
	defer stop()
	recv(t, ch)

	if err := c.UpdateEmail(ctx, "new@example.com"); err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	ev := recv(t, ch)
	if ev.Identity == nil || ev.Identity.Email != "new@example.com" || ev.Identity.EmailVerified {
		t.Fatalf("change after email update = %+v", ev)
	}
}

func TestClientRecentLoginWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewClient(f.svc)
	if _, err := c.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	f.clock.Advance(DefaultRecentLoginWindow + time.Minute)
	if err := c.UpdatePassword(ctx, "secret2"); !errors.Is(err, ErrRequiresRecentLogin) {
		t.Fatalf("UpdatePassword: err = %v, want ErrRequiresRecentLogin", err)
	}
	if _, err := c.SignIn(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := c.UpdatePassword(ctx, "secret2"); err != nil {
		t.Fatalf("UpdatePassword after fresh sign-in: %v", err)
	}
}

func TestClientReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewClient(f.svc)
	id, err := c.CreateAccount(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	ch, stop := c.Subscribe()
	defer stop()
	recv(t, ch)

	// Nothing changed upstream.
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	assertNoChange(t, ch)

	if err := f.svc.SendVerification(ctx, id.ID); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	if _, err := f.svc.ApplyEmailVerification(ctx, f.codeFrom(t, "grower@example.com")); err != nil {
		t.Fatalf("ApplyEmailVerification: %v", err)
	}
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if ev := recv(t, ch); ev.Identity == nil || !ev.Identity.EmailVerified {
		t.Fatalf("change after reload = %+v", ev)
	}
}

func TestClientReloadSignsOutWhenAccountGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := NewClient(f.svc)
	id, err := c.CreateAccount(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	f.store.mu.Lock()
	delete(f.store.byEmail, "grower@example.com")
	delete(f.store.byID, id.ID)
	f.store.mu.Unlock()

	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c.Current() != nil {
		t.Fatal("expected sign-out after account removal")
	}
}

func TestClientUnsubscribeClosesChannel(t *testing.T) {
	f := newFixture(t)
	c := NewClient(f.svc)
	ch, stop := c.Subscribe()
	recv(t, ch)
	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	if _, err := c.CreateAccount(context.Background(), "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func TestClientCurrentIsCopy(t *testing.T) {
	f := newFixture(t)
	c := NewClient(f.svc)
	if _, err := c.CreateAccount(context.Background(), "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	cur := c.Current()
	cur.Email = "mutated@example.com"
	if c.Current().Email != "grower@example.com" {
		t.Fatal("Current must return a copy")
	}
}
