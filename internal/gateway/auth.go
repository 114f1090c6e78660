package gateway

import (
	"context"
	"net/http"
	"strings"

	"ledger/internal/session"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type PasswordChange struct {
	OldPassword        string `json:"oldPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type passwordReset struct {
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// LoginResponse is what login and register answer with.
type LoginResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	APIKey  string `json:"apiKey"`
}

// Principal turns the response into the minimal principal. The response email
// wins; the submitted one fills in when the backend leaves it out.
func (r LoginResponse) Principal(fallbackEmail string) session.Principal {
	email := r.Email
	if email == "" {
		email = fallbackEmail
	}
	return session.Principal{Email: strings.TrimSpace(email), APIKey: r.APIKey}
}

var anonymous = session.Principal{}

func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResponse, error) {
	var out LoginResponse
	err := c.Do(ctx, anonymous, Request{Collection: Auth, Method: http.MethodPost, Path: "/auth/login", Body: creds}, &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, reg Registration) (LoginResponse, error) {
	var out LoginResponse
	err := c.Do(ctx, anonymous, Request{Collection: Auth, Method: http.MethodPost, Path: "/auth/register", Body: reg}, &out)
	return out, err
}

// ForgotPassword asks the backend to mail a reset link; it answers in text.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var msg string
	err := c.Do(ctx, anonymous, Request{
		Collection: Auth,
		Method:     http.MethodPost,
		Path:       "/auth/forgot-password",
		Body:       map[string]string{"email": email},
	}, &msg)
	return msg, err
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword, confirm string) (string, error) {
	var msg string
	err := c.Do(ctx, anonymous, Request{
		Collection: Auth,
		Method:     http.MethodPost,
		Path:       "/auth/reset-password",
		Query:      idQuery("token", token),
		Body:       passwordReset{NewPassword: newPassword, ConfirmNewPassword: confirm},
	}, &msg)
	return msg, err
}

func (c *Client) ChangePassword(ctx context.Context, p session.Principal, ch PasswordChange) (string, error) {
	var msg string
	err := c.Do(ctx, p, Request{Collection: AuthAccount, Method: http.MethodPost, Path: "/auth/change-password", Body: ch}, &msg)
	return msg, err
}
