package web

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"hydrofirma/internal/identity"
)

var errPasswordMismatch = errors.New("passwords do not match")

// ValidateStringEquals fails unless the value equals str.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errPasswordMismatch
		}
		return nil
	}
}

func emailRules() []validation.Rule { return identity.EmailRules() }

func passwordRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(identity.MinPasswordLength, 0)}
}

type signInForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func parseSignIn(r *http.Request) signInForm {
	return signInForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
}

func (f signInForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Email, emailRules()...),
		validation.Field(&f.Password, validation.Required),
	)
}

type signUpForm struct {
	DisplayName     string `json:"display_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func parseSignUp(r *http.Request) signUpForm {
	return signUpForm{
		DisplayName:     strings.TrimSpace(r.PostFormValue("display_name")),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
}

func (f signUpForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.DisplayName, validation.Required, validation.Length(1, 100)),
		validation.Field(&f.Email, emailRules()...),
		validation.Field(&f.Password, passwordRules()...),
		validation.Field(&f.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(f.Password))),
	)
}

type emailForm struct {
	Email string `json:"email"`
}

func (f emailForm) Validate() error {
	return validation.ValidateStruct(&f, validation.Field(&f.Email, emailRules()...))
}

type displayNameForm struct {
	DisplayName string `json:"display_name"`
}

func (f displayNameForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.DisplayName, validation.Required, validation.Length(1, 100)),
	)
}

type passwordForm struct {
	Code            string `json:"code"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func parsePassword(r *http.Request) passwordForm {
	return passwordForm{
		Code:            r.PostFormValue("code"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
}

func (f passwordForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Password, passwordRules()...),
		validation.Field(&f.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(f.Password))),
	)
}

var fieldLabels = map[string]string{
	"display_name":     "Name",
	"email":            "Email",
	"password":         "Password",
	"confirm_password": "Confirm password",
}

// formMessage turns a validation failure into one line for the form,
// reporting fields in the order given.
func formMessage(err error, order ...string) string {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return "Please check the form and try again."
	}
	for _, field := range order {
		fe, ok := errs[field]
		if !ok || fe == nil {
			continue
		}
		if errors.Is(fe, errPasswordMismatch) {
			return "Passwords do not match."
		}
		return fieldLabels[field] + ": " + fe.Error() + "."
	}
	return "Please check the form and try again."
}
