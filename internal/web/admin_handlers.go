package web

import (
	"errors"
	"net/http"
	"strings"

	"hydrofirma/internal/admin"
	"hydrofirma/internal/audit"
	"hydrofirma/internal/guard"
	"hydrofirma/internal/profile"
)

const activityLimit = 20

type adminData struct {
	Notice   string
	Query    string
	Profiles []*profile.Profile
	Activity []*audit.Event
}

// adminGate resolves the admin gate for the signed-in identity. It returns
// false after rendering Access Denied.
func (s *Server) adminGate(w http.ResponseWriter, r *http.Request, status int) (string, bool) {
	ctx := r.Context()
	id := sessionFromContext(ctx).Current()
	if id == nil {
		http.Redirect(w, r, guard.SignInPath, http.StatusSeeOther)
		return "", false
	}
	gate := guard.NewAdminGate(s.profiles, id.ID, s.logger)
	if gate.Resolve(ctx) != guard.StateAdmin {
		s.render(w, r, status, "denied", pageData{Identity: id})
		return "", false
	}
	return id.ID, true
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminGate(w, r, http.StatusOK); !ok {
		return
	}
	ctx := r.Context()
	data := adminData{Query: strings.TrimSpace(r.URL.Query().Get("q"))}
	profiles, err := s.admin.List(ctx, data.Query)
	if err != nil {
		s.logger.WarnContext(ctx, "admin list unavailable", "error", err)
		data.Notice = "User data is temporarily unavailable."
	}
	data.Profiles = profiles
	events, err := s.admin.Activity(ctx, activityLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "admin activity unavailable", "error", err)
	}
	data.Activity = events
	s.render(w, r, http.StatusOK, "admin", pageData{Data: data})
}

func (s *Server) handleToggleRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.adminGate(w, r, http.StatusForbidden)
	if !ok {
		return
	}
	_, err := s.admin.ToggleRole(r.Context(), callerID, r.PathValue("id"))
	s.adminResult(w, r, "Role updated.", err)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.adminGate(w, r, http.StatusForbidden)
	if !ok {
		return
	}
	_, err := s.admin.Delete(r.Context(), callerID, r.PathValue("id"))
	s.adminResult(w, r, "User profile deleted.", err)
}

// adminResult flashes the outcome of a mutation and returns to the list.
func (s *Server) adminResult(w http.ResponseWriter, r *http.Request, success string, err error) {
	switch {
	case err == nil:
		s.addFlash(w, r, flashSuccess, success)
	case errors.Is(err, admin.ErrSelfModification):
		s.addFlash(w, r, flashError, "You cannot modify your own account.")
	case errors.Is(err, profile.ErrNotFound):
		s.addFlash(w, r, flashError, "User not found.")
	default:
		s.logger.ErrorContext(r.Context(), "admin update failed", "error", err)
		s.addFlash(w, r, flashError, "Failed to update the user. Please try again.")
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
