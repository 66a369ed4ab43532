package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hydrofirma/internal/mail"
	"hydrofirma/internal/observability"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	store  *MemoryAccountStore
	mailer *mail.MemoryMailer
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewMemoryAccountStore(),
		mailer: mail.NewMemoryMailer(),
		clock:  &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
	}
	svc, err := NewService(f.store, f.mailer, Options{
		BaseURL:    "https://hydrofirma.test",
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
		Now:        f.clock.Now,
		Logger:     observability.Discard(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

// codeFrom extracts the action code from the last email sent to addr.
func (f *fixture) codeFrom(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := f.mailer.Last(addr)
	if !ok {
		t.Fatalf("no email sent to %s", addr)
	}
	u, err := url.Parse(msg.Link)
	if err != nil {
		t.Fatalf("parse link %q: %v", msg.Link, err)
	}
	return u.Query().Get("code")
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, mail.NewMemoryMailer(), Options{Secret: []byte("x")}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewService(NewMemoryAccountStore(), nil, Options{Secret: []byte("x")}); err == nil {
		t.Error("expected error for nil mailer")
	}
	if _, err := NewService(NewMemoryAccountStore(), mail.NewMemoryMailer(), Options{}); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateAccount(ctx, "  Grower@Example.COM ", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if id.Email != "grower@example.com" || id.EmailVerified || id.ID == "" {
		t.Errorf("unexpected identity: %+v", id)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"duplicate email", "GROWER@example.com", "secret1", ErrEmailInUse},
		{"weak password", "other@example.com", "12345", ErrWeakPassword},
		{"malformed email", "not-an-email", "secret1", ErrInvalidEmail},
		{"empty email", "", "secret1", ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAccount(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrCredential) {
				t.Fatalf("err = %v should be a credential error", err)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := f.svc.Authenticate(ctx, "Grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}

	for _, tc := range []struct{ email, password string }{
		{"grower@example.com", "wrong-password"},
		{"nobody@example.com", "secret1"},
	} {
		if _, err := f.svc.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate(%s): err = %v, want ErrInvalidCredentials", tc.email, err)
		}
	}
}

func TestSendPasswordResetRegisteredAndUnregistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := f.svc.SendPasswordReset(ctx, "grower@example.com"); err != nil {
		t.Fatalf("registered: %v", err)
	}
	if err := f.svc.SendPasswordReset(ctx, "unknown@example.com"); err != nil {
		t.Fatalf("unregistered: %v", err)
	}
	if got := len(f.mailer.Sent()); got != 1 {
		t.Fatalf("sent %d emails, want 1", got)
	}
	msg, _ := f.mailer.Last("grower@example.com")
	if !strings.HasPrefix(msg.Link, "https://hydrofirma.test/reset-password?code=") {
		t.Errorf("link = %q", msg.Link)
	}
	if err := f.svc.SendPasswordReset(ctx, "bogus"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("malformed: err = %v, want ErrInvalidEmail", err)
	}

	f.mailer.FailWith(errors.New("smtp down"))
	if err := f.svc.SendPasswordReset(ctx, "grower@example.com"); err != nil {
		t.Errorf("delivery failure must not be reported: %v", err)
	}
}

func TestConfirmPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := f.svc.SendPasswordReset(ctx, "grower@example.com"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	code := f.codeFrom(t, "grower@example.com")

	if err := f.svc.ConfirmPasswordReset(ctx, code, "123"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak password: err = %v", err)
	}
	if err := f.svc.ConfirmPasswordReset(ctx, code, "new-secret"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "grower@example.com", "new-secret"); err != nil {
		t.Fatalf("Authenticate with new password: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "grower@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	// The code is bound to the password it was issued against.
	if err := f.svc.ConfirmPasswordReset(ctx, code, "another-secret"); !errors.Is(err, ErrInvalidActionCode) {
		t.Fatalf("reused code: err = %v, want ErrInvalidActionCode", err)
	}
}

func TestActionCodeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := f.svc.SendVerification(ctx, id.ID); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	verifyCode := f.codeFrom(t, "grower@example.com")

	t.Run("wrong purpose", func(t *testing.T) {
		if err := f.svc.ConfirmPasswordReset(ctx, verifyCode, "new-secret"); !errors.Is(err, ErrInvalidActionCode) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("garbage", func(t *testing.T) {
		for _, code := range []string{"", "abc", verifyCode + "x"} {
			if _, err := f.svc.ApplyEmailVerification(ctx, code); !errors.Is(err, ErrInvalidActionCode) {
				t.Errorf("code %q: err = %v", code, err)
			}
		}
	})
	t.Run("other secret", func(t *testing.T) {
		other, err := NewService(f.store, f.mailer, Options{Secret: []byte("other"), BcryptCost: bcrypt.MinCost, Now: f.clock.Now, Logger: observability.Discard()})
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if _, err := other.ApplyEmailVerification(ctx, verifyCode); !errors.Is(err, ErrInvalidActionCode) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(DefaultVerifyCodeTTL + time.Minute)
		if _, err := f.svc.ApplyEmailVerification(ctx, verifyCode); !errors.Is(err, ErrInvalidActionCode) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestApplyEmailVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := f.svc.UpdateDisplayName(ctx, id.ID, "Ada"); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if err := f.svc.SendVerification(ctx, id.ID); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	msg, _ := f.mailer.Last("grower@example.com")
	if !strings.Contains(msg.Text, "Hello Ada") {
		t.Errorf("verification text = %q", msg.Text)
	}
	code := f.codeFrom(t, "grower@example.com")

	got, err := f.svc.ApplyEmailVerification(ctx, code)
	if err != nil {
		t.Fatalf("ApplyEmailVerification: %v", err)
	}
	if !got.EmailVerified {
		t.Error("expected verified identity")
	}
	looked, _ := f.svc.Lookup(ctx, id.ID)
	if !looked.EmailVerified {
		t.Error("verification not persisted")
	}
	// Applying twice is harmless.
	if _, err := f.svc.ApplyEmailVerification(ctx, code); err != nil {
		t.Errorf("second apply: %v", err)
	}
}

func TestVerificationCodeDiesOnEmailChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	if err := f.svc.SendVerification(ctx, id.ID); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	code := f.codeFrom(t, "grower@example.com")
	if _, err := f.svc.UpdateEmail(ctx, id.ID, "new@example.com", f.clock.Now()); err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	if _, err := f.svc.ApplyEmailVerification(ctx, code); !errors.Is(err, ErrInvalidActionCode) {
		t.Fatalf("err = %v, want ErrInvalidActionCode", err)
	}
}

func TestUpdateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	other, _ := f.svc.CreateAccount(ctx, "other@example.com", "secret1")
	authTime := f.clock.Now()

	if err := f.svc.SendVerification(ctx, id.ID); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	if _, err := f.svc.ApplyEmailVerification(ctx, f.codeFrom(t, "grower@example.com")); err != nil {
		t.Fatalf("ApplyEmailVerification: %v", err)
	}

	if _, err := f.svc.UpdateEmail(ctx, id.ID, other.Email, authTime); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("taken email: err = %v", err)
	}
	if _, err := f.svc.UpdateEmail(ctx, id.ID, "nope", authTime); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("malformed email: err = %v", err)
	}
	got, err := f.svc.UpdateEmail(ctx, id.ID, "New@Example.com", authTime)
	if err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	if got.Email != "new@example.com" || got.EmailVerified {
		t.Errorf("unexpected identity after email change: %+v", got)
	}
	if _, err := f.svc.Authenticate(ctx, "new@example.com", "secret1"); err != nil {
		t.Errorf("sign in with new email: %v", err)
	}
}

func TestRecentLoginRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.svc.CreateAccount(ctx, "grower@example.com", "secret1")
	authTime := f.clock.Now()

	f.clock.Advance(DefaultRecentLoginWindow - time.Second)
	if err := f.svc.UpdatePassword(ctx, id.ID, "fresh-secret", authTime); err != nil {
		t.Fatalf("within window: %v", err)
	}

	f.clock.Advance(2 * time.Second)
	if err := f.svc.UpdatePassword(ctx, id.ID, "later-secret", authTime); !errors.Is(err, ErrRequiresRecentLogin) {
		t.Fatalf("UpdatePassword: err = %v, want ErrRequiresRecentLogin", err)
	}
	if _, err := f.svc.UpdateEmail(ctx, id.ID, "x@example.com", authTime); !errors.Is(err, ErrRequiresRecentLogin) {
		t.Fatalf("UpdateEmail: err = %v, want ErrRequiresRecentLogin", err)
	}
	if err := f.svc.UpdatePassword(ctx, id.ID, "x", time.Time{}); !errors.Is(err, ErrRequiresRecentLogin) {
		t.Fatalf("zero auth time: err = %v", err)
	}
}

func TestLookupAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Lookup(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Lookup missing: err = %v", err)
	}
	a, _ := f.svc.CreateAccount(ctx, "a@example.com", "secret1")
	f.clock.Advance(time.Minute)
	b, _ := f.svc.CreateAccount(ctx, "b@example.com", "secret1")

	list, err := f.svc.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		pw      string
		wantErr bool
	}{
		{"", true},
		{"12345", true},
		{"123456", false},
		{strings.Repeat("a", 72), false},
		{strings.Repeat("a", 73), true},
	}
	for _, tt := range tests {
		if err := ValidatePassword(tt.pw); (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(len %d) error = %v, wantErr %v", len(tt.pw), err, tt.wantErr)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@example.com", "first.last+tag@sub.example.org"}
	invalid := []string{"", "plain", "a@b", "a b@example.com", "@example.com"}
	for _, e := range valid {
		if err := ValidateEmail(e); err != nil {
			t.Errorf("ValidateEmail(%q) = %v", e, err)
		}
	}
	for _, e := range invalid {
		if err := ValidateEmail(e); err == nil {
			t.Errorf("ValidateEmail(%q) accepted", e)
		}
	}
}
