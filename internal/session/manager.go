package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Manager issues, resolves and ends web sessions.
type Manager struct {
	repo   Repository
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(repo Repository, ttl time.Duration, secureCookies bool) *Manager {
	return &Manager{repo: repo, ttl: ttl, secure: secureCookies, now: time.Now}
}

// Start persists the principal and returns the new session.
func (m *Manager) Start(ctx context.Context, p Principal) (*Session, error) {
	if !p.Valid() {
		return nil, ErrNoPrincipal
	}
	now := m.now().UTC()
	s := Session{
		Token:     uuid.NewString(),
		Principal: p,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

// Resolve loads the principal behind a token; expired sessions are removed.
func (m *Manager) Resolve(ctx context.Context, token string) (Principal, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Principal{}, ErrInvalidSession
	}
	s, err := m.repo.GetSession(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	if s.Expired(m.now()) {
		_ = m.repo.DeleteSession(ctx, token)
		return Principal{}, ErrExpiredSession
	}
	return s.Principal, nil
}

// Update replaces the principal stored for a live session.
func (m *Manager) Update(ctx context.Context, token string, p Principal) error {
	return m.repo.ReplacePrincipal(ctx, token, p)
}

// End deletes the session. Unknown tokens are not an error.
func (m *Manager) End(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := m.repo.DeleteSession(ctx, token)
	if errors.Is(err, ErrInvalidSession) {
		return nil
	}
	return err
}

// Purge drops expired sessions and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	return m.repo.DeleteExpiredSessions(ctx, m.now())
}

func (m *Manager) SetCookie(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
