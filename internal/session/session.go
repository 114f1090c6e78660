// Package session holds the authenticated principal and its persistence.
//
// Every call to the ledger API takes a Principal explicitly; this package only
// decides where the principal lives between calls: a sealed server-side row
// behind a cookie for the web front end, or a single file for the CLI.
package session

import (
	"context"
	"errors"
	"time"

	"ledger/internal/core"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
	ErrNoPrincipal    = errors.New("not logged in")
)

const CookieName = "ledger_session"

// Principal is the authenticated identity: the credentials the API expects on
// every call plus the profile fields shown in the UI.
type Principal struct {
	Email     string `json:"email"`
	APIKey    string `json:"apiKey"`
	UserID    int64  `json:"id,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Valid reports whether the principal carries usable credentials.
func (p Principal) Valid() bool {
	return p.Email != "" && p.APIKey != ""
}

// Enrich merges profile fields into the principal, keeping its credentials.
func (p Principal) Enrich(profile core.UserProfile) Principal {
	p.UserID = profile.ID
	p.FirstName = profile.FirstName
	p.LastName = profile.LastName
	return p
}

// Profile returns the principal's profile view.
func (p Principal) Profile() core.UserProfile {
	return core.UserProfile{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email}
}

// DisplayName prefers the full name and falls back to the email.
func (p Principal) DisplayName() string {
	return p.Profile().FullName()
}

type Session struct {
	Token     string
	Principal Principal
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type Repository interface {
	CreateSession(ctx context.Context, s Session) error
	// GetSession returns ErrInvalidSession when the token is unknown.
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	// ReplacePrincipal rewrites the stored principal after a profile change.
	ReplacePrincipal(ctx context.Context, token string, p Principal) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Session{Token: token, Principal: p})
}

// FromContext returns the principal placed by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	if !ok || !s.Principal.Valid() {
		return Principal{}, false
	}
	return s.Principal, true
}

// TokenFromContext returns the session token of the current request.
func TokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(Session)
	return s.Token
}
