package web

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	flashSessionName = "hf_flash"
	flashSuccess     = "success"
	flashError       = "error"
)

// flashes are one-shot notices carried across a POST-redirect-GET.
type flashes struct {
	Success []string
	Error   []string
}

func newFlashStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, kind, msg string) {
	sess, err := s.flashes.Get(r, flashSessionName)
	if err != nil {
		s.logger.DebugContext(r.Context(), "discarding unreadable flash cookie", "error", err)
	}
	sess.AddFlash(msg, kind)
	if err := sess.Save(r, w); err != nil {
		s.logger.WarnContext(r.Context(), "save flash failed", "error", err)
	}
}

// popFlashes reads and clears pending notices. It must run before the
// response is written.
func (s *Server) popFlashes(w http.ResponseWriter, r *http.Request) flashes {
	var out flashes
	if _, err := r.Cookie(flashSessionName); err != nil {
		return out
	}
	sess, err := s.flashes.Get(r, flashSessionName)
	if err != nil {
		s.logger.DebugContext(r.Context(), "discarding unreadable flash cookie", "error", err)
	}
	out.Success = flashStrings(sess.Flashes(flashSuccess))
	out.Error = flashStrings(sess.Flashes(flashError))
	if err := sess.Save(r, w); err != nil {
		s.logger.WarnContext(r.Context(), "clear flash failed", "error", err)
	}
	return out
}

func flashStrings(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
