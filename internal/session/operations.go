package session

import (
	"context"
	"errors"
	"fmt"

	"hydrofirma/internal/audit"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/profile"
)

// SignUp creates an Identity, sets its display name, writes the Profile and
// dispatches the verification email. If the Profile write fails the Identity
// stays registered and signed in.
func (c *Context) SignUp(ctx context.Context, email, password, displayName string) error {
	id, err := c.creds.CreateAccount(ctx, email, password)
	if err != nil {
		c.metrics.RecordAuth("signup", "failure")
		return err
	}
	c.metrics.RecordAuth("signup", "success")
	if err := c.creds.UpdateDisplayName(ctx, displayName); err != nil {
		return err
	}
	if err := c.sync(ctx); err != nil {
		return err
	}

	c.record(ctx, &audit.Event{Action: audit.ActionSignUp, ActorID: id.ID, ActorEmail: id.Email, TargetID: id.ID})

	if err := c.profiles.Merge(ctx, id.ID, profile.NewProfilePatch(id.Email, displayName, c.now())); err != nil {
		c.logger.ErrorContext(ctx, "profile write failed after sign-up", "identity_id", id.ID, "error", err)
		return fmt.Errorf("create profile: %w", err)
	}

	if err := c.creds.SendVerification(ctx); err != nil {
		c.logger.WarnContext(ctx, "verification email not sent", "identity_id", id.ID, "error", err)
	}
	return nil
}

// SignIn authenticates. The Profile's lastLogin is updated in the background;
// a failed write is logged and never fails the sign-in.
func (c *Context) SignIn(ctx context.Context, email, password string) error {
	id, err := c.creds.SignIn(ctx, email, password)
	if err != nil {
		c.metrics.RecordAuth("signin", "failure")
		if errors.Is(err, identity.ErrCredential) {
			c.record(ctx, &audit.Event{Action: audit.ActionSignInFailed, ActorEmail: identity.NormalizeEmail(email)})
		}
		return err
	}
	c.metrics.RecordAuth("signin", "success")
	if err := c.sync(ctx); err != nil {
		return err
	}
	c.record(ctx, &audit.Event{Action: audit.ActionSignIn, ActorID: id.ID, ActorEmail: id.Email})

	bg := context.WithoutCancel(ctx)
	at := c.now()
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if err := c.profiles.Merge(bg, id.ID, profile.Patch{LastLogin: profile.Time(at)}); err != nil {
			c.logger.WarnContext(bg, "lastLogin update failed", "identity_id", id.ID, "error", err)
		}
	}()
	return nil
}

// SignOut ends the local sign-in. Signing out twice is a no-op.
func (c *Context) SignOut(ctx context.Context) error {
	prev := c.Current()
	if err := c.creds.SignOut(ctx); err != nil {
		return err
	}
	if err := c.sync(ctx); err != nil {
		return err
	}
	if prev != nil {
		c.metrics.RecordAuth("signout", "success")
		c.record(ctx, &audit.Event{Action: audit.ActionSignOut, ActorID: prev.ID, ActorEmail: prev.Email})
	}
	return nil
}

// SendPasswordReset asks the provider to email a reset link. It succeeds for
// unregistered addresses.
func (c *Context) SendPasswordReset(ctx context.Context, email string) error {
	if err := c.creds.SendPasswordReset(ctx, email); err != nil {
		return err
	}
	c.metrics.RecordAuth("password_reset_request", "success")
	return nil
}

// SendEmailVerification emails a verification link to the signed-in Identity.
func (c *Context) SendEmailVerification(ctx context.Context) error {
	return c.creds.SendVerification(ctx)
}

// UpdateDisplayName changes the display name on the Identity and the Profile.
func (c *Context) UpdateDisplayName(ctx context.Context, name string) error {
	if err := c.creds.UpdateDisplayName(ctx, name); err != nil {
		return err
	}
	id, err := c.signedIn(ctx)
	if err != nil {
		return err
	}
	patch := profile.Patch{DisplayName: profile.String(name), UpdatedAt: profile.Time(c.now())}
	if err := c.profiles.Merge(ctx, id.ID, patch); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UpdateEmail changes the email on the Identity and the Profile. Both lose
// their verified flag.
func (c *Context) UpdateEmail(ctx context.Context, email string) error {
	prev := c.Current()
	if err := c.creds.UpdateEmail(ctx, email); err != nil {
		return err
	}
	id, err := c.signedIn(ctx)
	if err != nil {
		return err
	}
	patch := profile.Patch{
		Email:         profile.String(id.Email),
		EmailVerified: profile.Bool(false),
		UpdatedAt:     profile.Time(c.now()),
	}
	if err := c.profiles.Merge(ctx, id.ID, patch); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	e := &audit.Event{Action: audit.ActionEmailChange, ActorID: id.ID, ActorEmail: id.Email, TargetID: id.ID}
	if prev != nil {
		e.Detail = map[string]string{"from": prev.Email, "to": id.Email}
	}
	c.record(ctx, e)
	return nil
}

// UpdatePassword changes the signed-in Identity's password.
func (c *Context) UpdatePassword(ctx context.Context, password string) error {
	if err := c.creds.UpdatePassword(ctx, password); err != nil {
		return err
	}
	if id := c.Current(); id != nil {
		c.record(ctx, &audit.Event{Action: audit.ActionPasswordChange, ActorID: id.ID, ActorEmail: id.Email, TargetID: id.ID})
	}
	return nil
}

// Reload re-reads the Identity from the provider. The Context signs out if
// the account no longer exists.
func (c *Context) Reload(ctx context.Context) error {
	if err := c.creds.Reload(ctx); err != nil {
		return err
	}
	return c.sync(ctx)
}

// signedIn waits for the provider's latest state and returns the Identity.
func (c *Context) signedIn(ctx context.Context) (*identity.Identity, error) {
	if err := c.sync(ctx); err != nil {
		return nil, err
	}
	id := c.Current()
	if id == nil {
		return nil, identity.ErrNoSession
	}
	return id, nil
}
