package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/session"
)

// AuthAPI is the part of the ledger API behind login, registration and the
// profile pages.
type AuthAPI interface {
	Login(ctx context.Context, creds gateway.Credentials) (gateway.LoginResponse, error)
	Register(ctx context.Context, reg gateway.Registration) (gateway.LoginResponse, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword, confirm string) (string, error)
	ChangePassword(ctx context.Context, p session.Principal, ch gateway.PasswordChange) (string, error)
	ListUsers(ctx context.Context, p session.Principal) ([]core.UserProfile, error)
	UpdateUser(ctx context.Context, p session.Principal, u core.UserProfile) (core.UserProfile, error)
	DeleteUser(ctx context.Context, p session.Principal, id int64) error
}

// AuthService turns credentials into principals. Where the principal is kept
// afterwards (cookie session or CLI file) is up to the caller.
type AuthService struct {
	api    AuthAPI
	logger *log.Logger
}

func NewAuthService(api AuthAPI, logger *log.Logger) *AuthService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuthService{api: api, logger: logger.WithComponent(log.ComponentAuth)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return &core.ValidationError{Field: "email", Err: core.ErrEmptyEmail}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &core.ValidationError{Field: "email", Err: fmt.Errorf("invalid email address")}
	}
	return nil
}

// Authenticate logs in and enriches the principal with the user's profile.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (session.Principal, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return session.Principal{}, err
	}
	if password == "" {
		return session.Principal{}, &core.ValidationError{Field: "password", Err: fmt.Errorf("password is required")}
	}

	resp, err := s.api.Login(ctx, gateway.Credentials{Email: email, Password: password})
	if err != nil {
		s.logger.WarnContext(ctx, "Login rejected",
			log.NewFields().WithOperation(log.OpLogin).WithUser(email).WithError(err).ToSlice()...)
		return session.Principal{}, err
	}
	p := resp.Principal(email)
	if !p.Valid() {
		return session.Principal{}, fmt.Errorf("login response carried no API key")
	}

	p = s.Enrich(ctx, p)
	s.logger.InfoContext(ctx, "User logged in",
		log.NewFields().WithOperation(log.OpLogin).WithUser(p.Email).ToSlice()...)
	return p, nil
}

// Enrich looks the principal's profile up by email. Any failure keeps the
// minimal principal.
func (s *AuthService) Enrich(ctx context.Context, p session.Principal) session.Principal {
	users, err := s.api.ListUsers(ctx, p)
	if err != nil {
		s.logger.WarnContext(ctx, "Could not fetch full profile", log.FieldUser, p.Email, log.FieldError, err)
		return p
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, p.Email) {
			return p.Enrich(u)
		}
	}
	return p
}

// Register creates the account. When the backend hands back an API key the
// returned principal is ready to use; otherwise ok is false and the user has
// to log in.
func (s *AuthService) Register(ctx context.Context, reg gateway.Registration) (p session.Principal, ok bool, err error) {
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)
	reg.Email = normalizeEmail(reg.Email)
	if reg.FirstName == "" {
		return p, false, &core.ValidationError{Field: "firstName", Err: core.ErrEmptyName}
	}
	if err := validateEmail(reg.Email); err != nil {
		return p, false, err
	}
	if err := core.ValidatePassword(reg.Password, reg.ConfirmPassword); err != nil {
		return p, false, err
	}

	resp, err := s.api.Register(ctx, reg)
	if err != nil {
		return p, false, err
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldUser, reg.Email)

	p = resp.Principal(reg.Email)
	if !p.Valid() {
		return session.Principal{}, false, nil
	}
	p.FirstName, p.LastName = reg.FirstName, reg.LastName
	return s.Enrich(ctx, p), true, nil
}

const forgotPasswordFallback = "If the address is registered, a reset link is on its way."

func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	msg, err := s.api.ForgotPassword(ctx, email)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg) == "" {
		msg = forgotPasswordFallback
	}
	return msg, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, password, confirm string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", &core.ValidationError{Field: "token", Err: fmt.Errorf("reset link is missing its token")}
	}
	if err := core.ValidatePassword(password, confirm); err != nil {
		return "", err
	}
	return s.api.ResetPassword(ctx, token, password, confirm)
}

func (s *AuthService) ChangePassword(ctx context.Context, p session.Principal, current, password, confirm string) (string, error) {
	if current == "" {
		return "", &core.ValidationError{Field: "oldPassword", Err: fmt.Errorf("current password is required")}
	}
	if err := core.ValidatePassword(password, confirm); err != nil {
		return "", err
	}
	return s.api.ChangePassword(ctx, p, gateway.PasswordChange{
		OldPassword:        current,
		NewPassword:        password,
		ConfirmNewPassword: confirm,
	})
}

// UpdateProfile saves the names and email and returns the principal to keep,
// with the same API key.
func (s *AuthService) UpdateProfile(ctx context.Context, p session.Principal, firstName, lastName, email string) (session.Principal, error) {
	u := core.UserProfile{
		ID:        p.UserID,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     normalizeEmail(email),
	}
	if u.ID == 0 {
		return p, fmt.Errorf("profile not loaded; log in again")
	}
	if u.FirstName == "" {
		return p, &core.ValidationError{Field: "firstName", Err: core.ErrEmptyName}
	}
	if err := validateEmail(u.Email); err != nil {
		return p, err
	}

	saved, err := s.api.UpdateUser(ctx, p, u)
	if err != nil {
		return p, err
	}
	if saved.ID == 0 {
		saved = u
	}
	updated := p.Enrich(saved)
	if saved.Email != "" {
		updated.Email = saved.Email
	}
	return updated, nil
}

// DeleteAccount removes the user on the backend. The caller ends the session.
func (s *AuthService) DeleteAccount(ctx context.Context, p session.Principal) error {
	if p.UserID == 0 {
		return fmt.Errorf("profile not loaded; log in again")
	}
	if err := s.api.DeleteUser(ctx, p, p.UserID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "User account deleted", log.FieldUser, p.Email)
	return nil
}
