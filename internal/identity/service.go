package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hydrofirma/internal/mail"
	"hydrofirma/internal/observability"
)

// DefaultRecentLoginWindow bounds how old a sign-in may be for email and
// password changes.
const DefaultRecentLoginWindow = 5 * time.Minute

// Options configure a Service. Zero values select defaults.
type Options struct {
	// BaseURL prefixes action links in emails.
	BaseURL string
	// Secret signs action codes. Required.
	Secret []byte
	// RecentLoginWindow defaults to DefaultRecentLoginWindow.
	RecentLoginWindow time.Duration
	// BcryptCost defaults to DefaultBcryptCost.
	BcryptCost    int
	ResetCodeTTL  time.Duration
	VerifyCodeTTL time.Duration
	// Now overrides the clock.
	Now    func() time.Time
	Logger observability.Logger
}

// Service is the credential provider backend.
type Service struct {
	accounts AccountStore
	mailer   mail.Mailer
	codes    *actionCodes
	logger   observability.Logger

	baseURL     string
	recentLogin time.Duration
	cost        int
	resetTTL    time.Duration
	verifyTTL   time.Duration
	now         func() time.Time

	// dummyHash keeps Authenticate's cost the same for unknown emails.
	dummyHash []byte
}

// NewService creates a Service over the given account store and mailer.
func NewService(accounts AccountStore, mailer mail.Mailer, opts Options) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("identity: account store is required")
	}
	if mailer == nil {
		return nil, errors.New("identity: mailer is required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("identity: action code secret is required")
	}
	s := &Service{
		accounts:    accounts,
		mailer:      mailer,
		logger:      opts.Logger,
		baseURL:     opts.BaseURL,
		recentLogin: opts.RecentLoginWindow,
		cost:        opts.BcryptCost,
		resetTTL:    opts.ResetCodeTTL,
		verifyTTL:   opts.VerifyCodeTTL,
		now:         opts.Now,
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.DefaultConfig())
	}
	s.logger = s.logger.WithComponent("identity")
	if s.recentLogin <= 0 {
		s.recentLogin = DefaultRecentLoginWindow
	}
	if s.cost == 0 {
		s.cost = DefaultBcryptCost
	}
	if s.resetTTL <= 0 {
		s.resetTTL = DefaultResetCodeTTL
	}
	if s.verifyTTL <= 0 {
		s.verifyTTL = DefaultVerifyCodeTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.codes = &actionCodes{secret: opts.Secret, now: s.now}

	dummy, err := HashPassword(uuid.NewString(), s.cost)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// CreateAccount registers a new account and returns its Identity.
func (s *Service) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(password); err != nil {
		return nil, ErrWeakPassword
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	a := &Account{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		CreatedAt:         now,
		UpdatedAt:         now,
		PasswordChangedAt: now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account created", "identity_id", a.ID)
	return a.Identity(), nil
}

// Authenticate checks an email and password. Any mismatch, including an
// unknown email, is ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		_ = VerifyPassword(password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(password, a.PasswordHash); err != nil {
		return nil, err
	}
	return a.Identity(), nil
}

// SendPasswordReset emails a reset link when the address is registered. The
// result is the same for unknown addresses.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return ErrInvalidEmail
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		s.logger.DebugContext(ctx, "password reset requested for unknown email")
		return nil
	}
	code, err := s.codes.issue(purposeResetPassword, a, s.resetTTL)
	if err != nil {
		return err
	}
	link := mail.ActionLink(s.baseURL, mail.ResetPasswordPath, code)
	if err := s.mailer.Send(ctx, mail.PasswordResetMessage(a.Email, link)); err != nil {
		// Reporting the failure would reveal that the address is registered.
		s.logger.ErrorContext(ctx, "send password reset email", "identity_id", a.ID, "error", err)
	}
	return nil
}

// SendVerification emails a verification link to the account's address.
func (s *Service) SendVerification(ctx context.Context, id string) error {
	a, err := s.account(ctx, id)
	if err != nil {
		return err
	}
	code, err := s.codes.issue(purposeVerifyEmail, a, s.verifyTTL)
	if err != nil {
		return err
	}
	link := mail.ActionLink(s.baseURL, mail.VerifyEmailPath, code)
	if err := s.mailer.Send(ctx, mail.VerificationMessage(a.Email, a.DisplayName, link)); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// UpdateDisplayName sets the account's display name.
func (s *Service) UpdateDisplayName(ctx context.Context, id, name string) (*Identity, error) {
	a, err := s.account(ctx, id)
	if err != nil {
		return nil, err
	}
	a.DisplayName = name
	a.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return a.Identity(), nil
}

// UpdateEmail changes the address and clears the verified flag. authTime is
// when the caller last signed in.
func (s *Service) UpdateEmail(ctx context.Context, id, email string, authTime time.Time) (*Identity, error) {
	if err := s.checkRecentLogin(authTime); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, ErrInvalidEmail
	}
	a, err := s.account(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Email == email {
		return a.Identity(), nil
	}
	a.Email = email
	a.EmailVerified = false
	a.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, a); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("update account: %w", err)
	}
	s.logger.InfoContext(ctx, "account email changed", "identity_id", a.ID)
	return a.Identity(), nil
}

// UpdatePassword replaces the password. authTime is when the caller last
// signed in.
func (s *Service) UpdatePassword(ctx context.Context, id, password string, authTime time.Time) error {
	if err := s.checkRecentLogin(authTime); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return ErrWeakPassword
	}
	a, err := s.account(ctx, id)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, a, password)
}

// Lookup returns the current Identity for id, or ErrAccountNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (*Identity, error) {
	a, err := s.account(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Identity(), nil
}

// ListIdentities returns every account's Identity, newest first.
func (s *Service) ListIdentities(ctx context.Context) ([]*Identity, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*Identity, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Identity())
	}
	return out, nil
}

// ConfirmPasswordReset completes a reset started by SendPasswordReset. A
// code stops working once the password it was issued against changes.
func (s *Service) ConfirmPasswordReset(ctx context.Context, code, password string) error {
	claims, err := s.codes.parse(code, purposeResetPassword)
	if err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return ErrWeakPassword
	}
	a, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if a == nil || a.Email != claims.Email || hashFingerprint(a.PasswordHash) != claims.Fingerprint {
		return ErrInvalidActionCode
	}
	return s.setPassword(ctx, a, password)
}

// ApplyEmailVerification marks the address in the code as verified. The
// code is rejected if the account's email changed since it was issued.
func (s *Service) ApplyEmailVerification(ctx context.Context, code string) (*Identity, error) {
	claims, err := s.codes.parse(code, purposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	a, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if a == nil || a.Email != claims.Email {
		return nil, ErrInvalidActionCode
	}
	if !a.EmailVerified {
		a.EmailVerified = true
		a.UpdatedAt = s.now()
		if err := s.accounts.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("update account: %w", err)
		}
	}
	return a.Identity(), nil
}

func (s *Service) setPassword(ctx context.Context, a *Account, password string) error {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	a.PasswordHash = hash
	a.PasswordChangedAt = now
	a.UpdatedAt = now
	if err := s.accounts.Update(ctx, a); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	s.logger.InfoContext(ctx, "account password changed", "identity_id", a.ID)
	return nil
}

func (s *Service) account(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, ErrAccountNotFound
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

func (s *Service) checkRecentLogin(authTime time.Time) error {
	if authTime.IsZero() || s.now().Sub(authTime) > s.recentLogin {
		return ErrRequiresRecentLogin
	}
	return nil
}
