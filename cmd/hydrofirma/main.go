package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"hydrofirma/internal/admin"
	"hydrofirma/internal/config"
	"hydrofirma/internal/identity"
	"hydrofirma/internal/mail"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/profile"
	"hydrofirma/internal/sensors"
	"hydrofirma/internal/session"
	"hydrofirma/internal/web"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("HYDROFIRMA_CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", "", "listen address (host:port); overrides the config")
	orphans := flag.Bool("orphans", false, "list identities without a profile and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := observability.NewLogger(observability.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	sentryEnabled := false
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          version,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized", "environment", cfg.Sentry.Environment, "release", version)
			sentryEnabled = true
		}
	}

	if err := run(*cfg, logger, *orphans); err != nil {
		logger.Error("hydrofirma exited with error", "error", err)
		if sentryEnabled {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		os.Exit(1)
	}
	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}
}

func run(cfg config.Config, logger observability.Logger, reportOrphans bool) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing stores", "error", err)
		} else {
			logger.Info("stores closed")
		}
	}()

	mailer, err := selectMailer(cfg, logger)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics("hydrofirma", version)

	svc, err := identity.NewService(st.accounts, mailer, identity.Options{
		BaseURL:           cfg.BaseURL,
		Secret:            secretOrEphemeral(cfg.ActionSecret, "action_secret", logger),
		RecentLoginWindow: cfg.RecentLoginWindow,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}

	if reportOrphans {
		return printOrphans(ctx, os.Stdout, svc, st.profiles)
	}
	if cfg.AdminEmail != "" {
		bootstrapAdmin(ctx, logger, svc, st.profiles, cfg.AdminEmail)
	}

	registry := session.NewRegistry(session.NewFactory(svc, st.profiles,
		session.WithLogger(logger),
		session.WithAudit(st.audit),
		session.WithMetrics(metrics),
	), cfg.IdleTimeout)
	defer registry.Close()

	srv, err := web.New(web.Options{
		Registry:      registry,
		Identity:      svc,
		Profiles:      st.profiles,
		Admin:         admin.NewService(st.profiles, admin.Options{Audit: st.audit, Logger: logger}),
		Audit:         st.audit,
		Sensors:       sensors.NewSimulator(nil),
		Metrics:       metrics,
		Logger:        logger,
		CookieSecret:  secretOrEphemeral(cfg.CookieSecret, "cookie_secret", logger),
		SecureCookies: cfg.SecureCookies,
		IdleTimeout:   cfg.IdleTimeout,
		RateLimit:     web.RateLimitConfig{RequestsPerSecond: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst},
		AuthRateLimit: web.AuthRateLimit{PerMinute: cfg.RateLimit.AuthPerMinute, Burst: cfg.RateLimit.AuthBurst},
	})
	if err != nil {
		return err
	}

	// Idle browser sessions are swept on a ticker.
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := registry.Cleanup(); n > 0 {
					logger.Info("cleaned up idle sessions", "count", n)
				}
			case <-stopCleanup:
				return
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("hydrofirma listening", "addr", cfg.Addr, "base_url", cfg.BaseURL)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down server", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}
	return nil
}

func selectMailer(cfg config.Config, logger observability.Logger) (mail.Mailer, error) {
	if !cfg.SMTP.Enabled() {
		logger.Info("smtp not configured; action links will be logged")
		return mail.NewLogMailer(logger), nil
	}
	m, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp mailer: %w", err)
	}
	logger.Info("using smtp mailer", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
	return m, nil
}

// secretOrEphemeral returns the configured secret, or a random one that
// does not survive a restart.
func secretOrEphemeral(secret, name string, logger observability.Logger) []byte {
	if secret != "" {
		return []byte(secret)
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("generate %s: %v", name, err))
	}
	logger.Warn("secret not configured; using an ephemeral one", "setting", name)
	return b
}

// bootstrapAdmin grants the admin role to the account with the given email.
// It is idempotent and does nothing until that account exists.
func bootstrapAdmin(ctx context.Context, logger observability.Logger, svc *identity.Service, profiles profile.Store, email string) {
	ids, err := svc.ListIdentities(ctx)
	if err != nil {
		logger.Error("bootstrap admin: list identities failed", "error", err)
		return
	}
	want := identity.NormalizeEmail(email)
	for _, id := range ids {
		if identity.NormalizeEmail(id.Email) != want {
			continue
		}
		p, err := profiles.Get(ctx, id.ID)
		if err != nil {
			logger.Error("bootstrap admin: profile lookup failed", "error", err)
			return
		}
		if p.IsAdmin() {
			logger.Info("bootstrap admin already has the admin role", "email", want)
			return
		}
		patch := profile.Patch{Role: profile.RolePtr(profile.RoleAdmin), UpdatedAt: profile.Time(svc.Now())}
		if p == nil {
			patch = profile.NewProfilePatch(id.Email, id.DisplayName, svc.Now())
			patch.Role = profile.RolePtr(profile.RoleAdmin)
			patch.EmailVerified = profile.Bool(id.EmailVerified)
		}
		if err := profiles.Merge(ctx, id.ID, patch); err != nil {
			logger.Error("bootstrap admin: grant failed", "error", err)
			return
		}
		logger.Info("bootstrap admin granted", "email", want, "identity_id", id.ID)
		return
	}
	logger.Info("bootstrap admin has no account yet; sign up and restart", "email", want)
}

func printOrphans(ctx context.Context, w io.Writer, svc *identity.Service, profiles profile.Store) error {
	orphans, err := admin.Orphans(ctx, svc, profiles)
	if err != nil {
		return fmt.Errorf("orphan report: %w", err)
	}
	if len(orphans) == 0 {
		_, err := fmt.Fprintln(w, "no orphaned identities")
		return err
	}
	for _, id := range orphans {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", id.ID, id.Email, id.DisplayName); err != nil {
			return err
		}
	}
	return nil
}
