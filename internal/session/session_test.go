package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledger/internal/core"
)

type mapRepo struct {
	mu   sync.Mutex
	rows map[string]Session
}

func newMapRepo() *mapRepo { return &mapRepo{rows: map[string]Session{}} }

func (r *mapRepo) CreateSession(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.Token] = s
	return nil
}

func (r *mapRepo) GetSession(_ context.Context, token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[token]
	if !ok {
		return nil, ErrInvalidSession
	}
	return &s, nil
}

func (r *mapRepo) DeleteSession(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[token]; !ok {
		return ErrInvalidSession
	}
	delete(r.rows, token)
	return nil
}

func (r *mapRepo) ReplacePrincipal(_ context.Context, token string, p Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[token]
	if !ok {
		return ErrInvalidSession
	}
	s.Principal = p
	r.rows[token] = s
	return nil
}

func (r *mapRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.rows {
		if s.Expired(now) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

var alex = Principal{Email: "alex@example.com", APIKey: "key-123"}

func TestManager_StartResolveEnd(t *testing.T) {
	ctx := context.Background()
	repo := newMapRepo()
	m := NewManager(repo, time.Hour, false)

	s, err := m.Start(ctx, alex)
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	got, err := m.Resolve(ctx, s.Token)
	if err != nil || got != alex {
		t.Fatalf("Resolve() = %+v, %v", got, err)
	}

	enriched := alex.Enrich(core.UserProfile{ID: 4, FirstName: "Alex", LastName: "Roy"})
	if err := m.Update(ctx, s.Token, enriched); err != nil {
		t.Fatalf("Update() = %v", err)
	}
	if got, _ := m.Resolve(ctx, s.Token); got.DisplayName() != "Alex Roy" {
		t.Fatalf("expected enriched principal, got %+v", got)
	}

	if err := m.End(ctx, s.Token); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if _, err := m.Resolve(ctx, s.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Resolve after End = %v, want ErrInvalidSession", err)
	}
	if err := m.End(ctx, s.Token); err != nil {
		t.Fatalf("ending twice should be harmless, got %v", err)
	}
}

func TestManager_RejectsInvalidPrincipalAndToken(t *testing.T) {
	m := NewManager(newMapRepo(), time.Hour, false)
	if _, err := m.Start(context.Background(), Principal{Email: "x@example.com"}); !errors.Is(err, ErrNoPrincipal) {
		t.Fatalf("Start without api key = %v", err)
	}
	if _, err := m.Resolve(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Resolve(garbage) = %v", err)
	}
}

func TestManager_ExpiredSession(t *testing.T) {
	ctx := context.Background()
	repo := newMapRepo()
	m := NewManager(repo, time.Minute, false)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }

	s, err := m.Start(ctx, alex)
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := m.Resolve(ctx, s.Token); !errors.Is(err, ErrExpiredSession) {
		t.Fatalf("Resolve() = %v, want ErrExpiredSession", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("expired session should be removed")
	}
}

func TestManager_Cookies(t *testing.T) {
	m := NewManager(newMapRepo(), time.Hour, true)
	s, _ := m.Start(context.Background(), alex)

	rec := httptest.NewRecorder()
	m.SetCookie(rec, s)
	c := rec.Result().Cookies()
	if len(c) != 1 || c[0].Name != CookieName || c[0].Value != s.Token || !c[0].HttpOnly || !c[0].Secure {
		t.Fatalf("unexpected cookie %+v", c)
	}

	rec = httptest.NewRecorder()
	m.ClearCookie(rec)
	c = rec.Result().Cookies()
	if len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("cookie should be cleared, got %+v", c)
	}
}

func TestSealer_RoundTripAndTamper(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	s := NewSealer(key)

	sealed, err := s.Seal(alex)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed, []byte(alex.APIKey)) {
		t.Fatalf("api key must not appear in sealed bytes")
	}
	got, err := s.Open(sealed)
	if err != nil || got != alex {
		t.Fatalf("Open() = %+v, %v", got, err)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed); !errors.Is(err, ErrUnseal) {
		t.Fatalf("tampered box should fail, got %v", err)
	}

	var other [32]byte
	fresh, _ := s.Seal(alex)
	if _, err := NewSealer(other).Open(fresh); !errors.Is(err, ErrUnseal) {
		t.Fatalf("wrong key should fail, got %v", err)
	}
}

func TestFileStore(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "cfg", "session.json"))

	if _, err := fs.Load(); !errors.Is(err, ErrNoPrincipal) {
		t.Fatalf("Load() before login = %v", err)
	}
	if err := fs.Save(alex); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	got, err := fs.Load()
	if err != nil || got != alex {
		t.Fatalf("Load() = %+v, %v", got, err)
	}
	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	if err := fs.Clear(); err != nil {
		t.Fatalf("second Clear() = %v", err)
	}
	if _, err := fs.Load(); !errors.Is(err, ErrNoPrincipal) {
		t.Fatalf("Load() after logout = %v", err)
	}
}

func TestContextPrincipal(t *testing.T) {
	ctx := WithPrincipal(context.Background(), alex, "tok")
	if p, ok := FromContext(ctx); !ok || p != alex {
		t.Fatalf("FromContext() = %+v, %v", p, ok)
	}
	if TokenFromContext(ctx) != "tok" {
		t.Fatalf("token not carried")
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := FromContext(req.Context()); ok {
		t.Fatalf("empty context should have no principal")
	}
}
