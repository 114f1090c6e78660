package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rps float64, burst int) (*Limiter, *time.Time) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerSecond: rps, Burst: burst, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	rl, now := newTestLimiter(t, 2, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should pass within burst", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("burst exhausted, request should be refused")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("clients are limited independently")
	}

	*now = now.Add(500 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("one token should have been refilled")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("only one token refilled")
	}
	if rl.Hits() != 2 {
		t.Errorf("hits = %d, want 2", rl.Hits())
	}
}

func TestLimiter_CleanupStaleEntries(t *testing.T) {
	rl, now := newTestLimiter(t, 1, 1)
	rl.Allow("a")
	*now = now.Add(11 * time.Minute)
	rl.Allow("b")
	rl.cleanupStaleEntries()
	if got := rl.ActiveClients(); got != 1 {
		t.Errorf("ActiveClients = %d, want 1", got)
	}
}

func TestLimiter_MiddlewareOnlyLimitsListedMethods(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1)
	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil, http.MethodPost)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodPost, http.StatusNoContent},
		{http.MethodPost, http.StatusTooManyRequests},
		{http.MethodGet, http.StatusNoContent},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tt.method, "/", nil))
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.method, rr.Code, tt.want)
		}
	}
}

func TestNewLimiter_Defaults(t *testing.T) {
	rl := NewLimiter(Config{})
	defer rl.Stop()
	if rl.rate != 10 || rl.burst != 30 {
		t.Errorf("defaults = %v/%v", rl.rate, rl.burst)
	}
	rl.Stop()
}
