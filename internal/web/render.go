package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"hydrofirma/internal/identity"
	assets "hydrofirma/web"
)

var pageNames = []string{
	"index",
	"signin",
	"signup",
	"forgot_password",
	"reset_password",
	"verify_email",
	"dashboard",
	"settings",
	"admin",
	"denied",
	"error",
}

var templateFuncs = template.FuncMap{
	"formatTime": formatTime,
}

// formatTime renders time.Time and *time.Time; unset times render as "-".
func formatTime(v any) string {
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case *time.Time:
		if tv != nil {
			t = *tv
		}
	}
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// parseTemplates builds one template set per page, each sharing the layout.
func parseTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(assets.Templates,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

type pageData struct {
	CSRF     string
	Identity *identity.Identity
	Flash    flashes
	Error    string
	Form     map[string]string
	Data     any
}

// render writes a page. The session's identity, CSRF token and pending
// flashes are filled in from the request.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	ctx := r.Context()
	t, ok := s.templates[page]
	if !ok {
		s.logger.ErrorContext(ctx, "unknown template", "page", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	data.CSRF = csrfTokenFromContext(ctx)
	if sess := sessionFromContext(ctx); sess != nil && data.Identity == nil {
		if sess.Loading() {
			_ = sess.WaitReady(ctx)
		}
		data.Identity = sess.Current()
	}
	data.Flash = s.popFlashes(w, r)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.ErrorContext(ctx, "render failed", "page", page, "error", err)
		captureMessage(ctx, fmt.Sprintf("render %s: %v", page, err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError logs err and renders the error page with a generic title.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, title string, err error) {
	ctx := r.Context()
	fields := []any{"status", status, "path", r.URL.Path}
	if err != nil {
		fields = append(fields, "error", err)
	}
	if status >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		captureMessage(ctx, fmt.Sprintf("HTTP %d: %s (detail: %v)", status, title, err))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	s.render(w, r, status, "error", pageData{Data: title})
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		captureMessage(ctx, fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

func captureMessage(ctx context.Context, msg string) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureMessage(msg)
		return
	}
	sentry.CaptureMessage(msg)
}
