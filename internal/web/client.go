package web

import (
	"context"
	"net/http"
	"strings"

	"hydrofirma/internal/guard"
	"hydrofirma/internal/observability"
	"hydrofirma/internal/session"
)

const clientCookieName = "hf_client"

type contextKey int

const (
	csrfContextKey contextKey = iota
	sessionContextKey
	clientKeyContextKey
)

func withCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfContextKey, token)
}

func csrfTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey).(string)
	return token
}

func withSession(ctx context.Context, s *session.Context) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// sessionFromContext returns the client's session. Routes registered
// without withClient get nil.
func sessionFromContext(ctx context.Context) *session.Context {
	s, _ := ctx.Value(sessionContextKey).(*session.Context)
	return s
}

// clientKeyFromContext returns the registered key the browser presented, or
// "" for anonymous clients.
func clientKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(clientKeyContextKey).(string)
	return key
}

// withClient maps the hf_client cookie to the browser's session.Context.
// Browsers without a registered key share the registry's anonymous Context;
// a key is only issued by signInClient.
func (s *Server) withClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := s.registry.Anonymous()
		if c, err := r.Cookie(clientCookieName); err == nil {
			if registered, ok := s.registry.Get(c.Value); ok {
				sess = registered
				ctx = context.WithValue(ctx, clientKeyContextKey, c.Value)
			} else {
				s.clearClientCookie(w)
			}
		}
		ctx = withSession(ctx, sess)
		if id := sess.Current(); id != nil {
			ctx = observability.WithIdentityID(ctx, id.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// signInClient runs op on a newly registered Context and, when it succeeds,
// issues that Context's key and drops whatever client the browser held
// before. A key presented before sign-in is never carried across it.
func (s *Server) signInClient(w http.ResponseWriter, r *http.Request, op func(context.Context, *session.Context) error) error {
	ctx := r.Context()
	key, sess, err := s.registry.Create()
	if err != nil {
		return err
	}
	if err := sess.WaitReady(ctx); err != nil {
		s.registry.Delete(key)
		return err
	}
	if err := op(ctx, sess); err != nil {
		s.registry.Delete(key)
		return err
	}
	if old := clientKeyFromContext(ctx); old != "" {
		s.registry.Delete(old)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    key,
		Path:     "/",
		MaxAge:   int(s.idleTimeout.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// signOutClient unregisters the browser's client and expires its cookie.
func (s *Server) signOutClient(w http.ResponseWriter, r *http.Request) {
	if key := clientKeyFromContext(r.Context()); key != "" {
		s.registry.Delete(key)
	}
	s.clearClientCookie(w)
}

func (s *Server) clearClientCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireSignIn runs the route guard. Nothing is written while the session
// is still loading; pages redirect to sign-in and API routes get 401.
func (s *Server) requireSignIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess == nil {
			s.renderError(w, r, http.StatusInternalServerError, "Something went wrong", errNoClient)
			return
		}
		d, err := guard.Await(r.Context(), sess)
		if err != nil {
			// client went away or the session closed underneath us
			s.logger.WarnContext(r.Context(), "route guard aborted", "path", r.URL.Path, "error", err)
			return
		}
		id := sess.Current()
		if d.Kind == guard.Redirect || id == nil {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				s.writeErr(r.Context(), w, http.StatusUnauthorized, "authentication required", "")
				return
			}
			http.Redirect(w, r, guard.SignInPath, http.StatusSeeOther)
			return
		}
		ctx := observability.WithIdentityID(r.Context(), id.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
