package web

import (
	"errors"
	"net/http"
	"strings"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/sensors"
)

const (
	msgRecentLogin   = "For your security, please sign out and sign in again before changing this."
	msgUpdateFailed  = "Failed to update your account."
	msgVerifyFailed  = "Failed to send the verification email. Please try again."
	msgProfileSaved  = "Your profile has been updated."
	msgEmailChanged  = "Your email address has been changed. Check your inbox to verify it."
	msgPasswordSaved = "Your password has been changed."
	msgVerifySent    = "A verification email is on its way."
)

type dashboardData struct {
	Reading  sensors.Reading
	Statuses map[string]sensors.Status
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	reading := s.sensors.Current()
	s.render(w, r, http.StatusOK, "dashboard", pageData{
		Data: dashboardData{Reading: reading, Statuses: reading.Statuses()},
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "settings", pageData{})
}

// settingsFailure re-renders settings for a failed account update. Recent
// login failures get their own message; nothing from the provider is shown.
func (s *Server) settingsFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, identity.ErrRequiresRecentLogin):
		s.render(w, r, http.StatusForbidden, "settings", pageData{Error: msgRecentLogin})
	case errors.Is(err, identity.ErrCredential):
		s.logger.InfoContext(ctx, "account update rejected", "op", op, "error", err)
		s.render(w, r, http.StatusBadRequest, "settings", pageData{Error: msgUpdateFailed})
	default:
		s.logger.ErrorContext(ctx, "account update failed", "op", op, "error", err)
		s.render(w, r, http.StatusInternalServerError, "settings", pageData{Error: msgUpdateFailed})
	}
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := displayNameForm{DisplayName: strings.TrimSpace(r.PostFormValue("display_name"))}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "settings", pageData{Error: formMessage(err, "display_name")})
		return
	}
	if err := sessionFromContext(ctx).UpdateDisplayName(ctx, form.DisplayName); err != nil {
		s.settingsFailure(w, r, "display_name", err)
		return
	}
	s.addFlash(w, r, flashSuccess, msgProfileSaved)
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (s *Server) handleUpdateEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := emailForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "settings", pageData{Error: formMessage(err, "email")})
		return
	}
	if err := sessionFromContext(ctx).UpdateEmail(ctx, form.Email); err != nil {
		s.settingsFailure(w, r, "email", err)
		return
	}
	s.addFlash(w, r, flashSuccess, msgEmailChanged)
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := parsePassword(r)
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "settings", pageData{Error: formMessage(err, "password", "confirm_password")})
		return
	}
	if err := sessionFromContext(ctx).UpdatePassword(ctx, form.Password); err != nil {
		s.settingsFailure(w, r, "password", err)
		return
	}
	s.addFlash(w, r, flashSuccess, msgPasswordSaved)
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (s *Server) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := sessionFromContext(ctx).SendEmailVerification(ctx); err != nil {
		s.logger.ErrorContext(ctx, "send verification failed", "error", err)
		s.addFlash(w, r, flashError, msgVerifyFailed)
	} else {
		s.addFlash(w, r, flashSuccess, msgVerifySent)
	}
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}
