package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hydrofirma/internal/identity"
	"hydrofirma/internal/session"
)

const (
	msgSignInFailed   = "Failed to sign in. Please check your credentials."
	msgSignUpFailed   = "Failed to create an account."
	msgResetSent      = "If an account exists for that address, a password reset link is on its way."
	msgResetFailed    = "Failed to send the password reset email. Please try again."
	msgInvalidLink    = "This link is invalid or has expired."
	msgGenericFailure = "Something went wrong. Please try again."
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", pageData{})
}

func (s *Server) redirectIfSignedIn(w http.ResponseWriter, r *http.Request) bool {
	sess := sessionFromContext(r.Context())
	if err := sess.WaitReady(r.Context()); err != nil {
		return false
	}
	if sess.Current() != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return true
	}
	return false
}

func (s *Server) handleSignInForm(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfSignedIn(w, r) {
		return
	}
	s.render(w, r, http.StatusOK, "signin", pageData{})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := parseSignIn(r)
	formValues := map[string]string{"email": form.Email}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "signin", pageData{
			Error: formMessage(err, "email", "password"),
			Form:  formValues,
		})
		return
	}
	err := s.signInClient(w, r, func(ctx context.Context, sess *session.Context) error {
		return sess.SignIn(ctx, form.Email, form.Password)
	})
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, identity.ErrCredential) {
			status = http.StatusInternalServerError
			s.logger.ErrorContext(ctx, "sign in failed", "error", err)
		}
		s.render(w, r, status, "signin", pageData{Error: msgSignInFailed, Form: formValues})
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleSignUpForm(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfSignedIn(w, r) {
		return
	}
	s.render(w, r, http.StatusOK, "signup", pageData{})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := parseSignUp(r)
	formValues := map[string]string{"email": form.Email, "display_name": form.DisplayName}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "signup", pageData{
			Error: formMessage(err, "display_name", "email", "password", "confirm_password"),
			Form:  formValues,
		})
		return
	}
	err := s.signInClient(w, r, func(ctx context.Context, sess *session.Context) error {
		return sess.SignUp(ctx, form.Email, form.Password, form.DisplayName)
	})
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, identity.ErrCredential) {
			status = http.StatusInternalServerError
			s.logger.ErrorContext(ctx, "sign up failed", "error", err)
		}
		s.render(w, r, status, "signup", pageData{Error: msgSignUpFailed, Form: formValues})
		return
	}
	s.addFlash(w, r, flashSuccess, "Welcome to HydroFirma! Check your inbox to verify your email address.")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := sessionFromContext(ctx).SignOut(ctx); err != nil {
		s.renderError(w, r, http.StatusInternalServerError, "Failed to sign out", err)
		return
	}
	s.signOutClient(w, r)
	s.addFlash(w, r, flashSuccess, "You have been signed out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleForgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "forgot_password", pageData{})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := emailForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	formValues := map[string]string{"email": form.Email}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "forgot_password", pageData{
			Error: formMessage(err, "email"),
			Form:  formValues,
		})
		return
	}
	if err := sessionFromContext(ctx).SendPasswordReset(ctx, form.Email); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, identity.ErrCredential) {
			status = http.StatusInternalServerError
			s.logger.ErrorContext(ctx, "password reset failed", "error", err)
		}
		s.render(w, r, status, "forgot_password", pageData{Error: msgResetFailed, Form: formValues})
		return
	}
	s.render(w, r, http.StatusOK, "forgot_password", pageData{Data: msgResetSent})
}

func (s *Server) handleResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	data := pageData{Form: map[string]string{"code": code}}
	status := http.StatusOK
	if code == "" {
		data.Error = msgInvalidLink
		status = http.StatusBadRequest
	}
	s.render(w, r, status, "reset_password", data)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := parsePassword(r)
	formValues := map[string]string{"code": form.Code}
	if err := form.Validate(); err != nil {
		s.render(w, r, http.StatusBadRequest, "reset_password", pageData{
			Error: formMessage(err, "password", "confirm_password"),
			Form:  formValues,
		})
		return
	}
	if err := session.ConfirmPasswordReset(ctx, s.identity, form.Code, form.Password); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, identity.ErrCredential) {
			status = http.StatusInternalServerError
			s.logger.ErrorContext(ctx, "confirm password reset failed", "error", err)
		}
		s.render(w, r, status, "reset_password", pageData{Error: msgInvalidLink, Form: formValues})
		return
	}
	s.addFlash(w, r, flashSuccess, "Your password has been updated. Please sign in.")
	http.Redirect(w, r, "/signin", http.StatusSeeOther)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if code == "" {
		s.render(w, r, http.StatusBadRequest, "verify_email", pageData{Error: msgInvalidLink})
		return
	}
	id, err := session.ApplyEmailVerification(ctx, s.identity, s.profiles, code)
	switch {
	case id == nil && errors.Is(err, identity.ErrCredential):
		s.render(w, r, http.StatusBadRequest, "verify_email", pageData{Error: msgInvalidLink})
		return
	case id == nil:
		s.renderError(w, r, http.StatusInternalServerError, msgGenericFailure, err)
		return
	case err != nil:
		s.logger.WarnContext(ctx, "profile not marked verified", "identity_id", id.ID, "error", err)
	}

	// refresh the browser's identity when it is the account just verified
	sess := sessionFromContext(ctx)
	if cur := sess.Current(); cur != nil && cur.ID == id.ID {
		if err := sess.Reload(ctx); err != nil {
			s.logger.WarnContext(ctx, "reload after verification failed", "error", err)
		}
	}
	s.render(w, r, http.StatusOK, "verify_email", pageData{})
}
