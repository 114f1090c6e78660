package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ledger/internal/session"
)

func testSealer() *session.Sealer {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return session.NewSealer(key)
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "ledger.db"), testSealer())
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return map[string]Store{
		"sqlite": repo,
		"memory": NewMemoryStore(),
	}
}

var alice = session.Principal{Email: "alice@example.com", APIKey: "secret-key", UserID: 4, FirstName: "Alice"}

// Millisecond precision is what the database keeps.
var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := session.Session{Token: "tok-1", Principal: alice, CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}
			if err := st.CreateSession(ctx, s); err != nil {
				t.Fatal(err)
			}

			got, err := st.GetSession(ctx, "tok-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Principal != alice {
				t.Errorf("principal = %+v", got.Principal)
			}
			if !got.ExpiresAt.Equal(s.ExpiresAt) || !got.CreatedAt.Equal(s.CreatedAt) {
				t.Errorf("times = %v / %v", got.CreatedAt, got.ExpiresAt)
			}

			updated := alice
			updated.LastName = "Smith"
			if err := st.ReplacePrincipal(ctx, "tok-1", updated); err != nil {
				t.Fatal(err)
			}
			got, _ = st.GetSession(ctx, "tok-1")
			if got.Principal.LastName != "Smith" {
				t.Errorf("principal not replaced: %+v", got.Principal)
			}
			if err := st.ReplacePrincipal(ctx, "missing", updated); !errors.Is(err, session.ErrInvalidSession) {
				t.Errorf("replace missing = %v", err)
			}

			if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, session.ErrInvalidSession) {
				t.Errorf("get missing = %v", err)
			}

			if err := st.CreateSession(ctx, session.Session{Token: "tok-2", Principal: alice, CreatedAt: epoch, ExpiresAt: epoch.Add(time.Minute)}); err != nil {
				t.Fatal(err)
			}
			n, err := st.DeleteExpiredSessions(ctx, epoch.Add(30*time.Minute))
			if err != nil || n != 1 {
				t.Fatalf("DeleteExpiredSessions = %d, %v", n, err)
			}
			if _, err := st.GetSession(ctx, "tok-2"); !errors.Is(err, session.ErrInvalidSession) {
				t.Errorf("expired session still present: %v", err)
			}

			if err := st.DeleteSession(ctx, "tok-1"); err != nil {
				t.Fatal(err)
			}
			if err := st.DeleteSession(ctx, "tok-1"); err != nil {
				t.Errorf("second delete = %v", err)
			}
		})
	}
}

func TestSQLiteRepository_UnreadableSessionIsDropped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo, err := NewSQLiteRepository(path, testSealer())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateSession(ctx, session.Session{Token: "tok", Principal: alice, CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	var other [32]byte
	copy(other[:], "ffffffffffffffffffffffffffffffff")
	rotated, err := NewSQLiteRepository(path, session.NewSealer(other))
	if err != nil {
		t.Fatal(err)
	}
	defer rotated.Close()
	if _, err := rotated.GetSession(ctx, "tok"); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("GetSession with rotated key = %v", err)
	}
}

func TestSQLiteRepository_RequiresSealer(t *testing.T) {
	if _, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "x.db"), nil); err == nil {
		t.Fatal("expected error without sealer")
	}
}

func TestStore_SettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first := PendingSettlement{
				ID: "s-1", DebtID: 7, Person: "Alex", Given: true, Principal: alice,
				CreatedAt: epoch, UpdatedAt: epoch, NextAttemptAt: epoch,
			}
			second := first
			second.ID, second.DebtID = "s-2", 8
			second.CreatedAt = epoch.Add(time.Second)
			second.NextAttemptAt = epoch.Add(time.Hour)

			for _, s := range []PendingSettlement{second, first} {
				if err := st.EnqueueSettlement(ctx, s); err != nil {
					t.Fatal(err)
				}
			}

			got, err := st.GetSettlement(ctx, "s-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != SettlementPending || got.Principal != alice || !got.Given || got.Person != "Alex" {
				t.Errorf("settlement = %+v", got)
			}
			if _, err := st.GetSettlement(ctx, "nope"); !errors.Is(err, ErrSettlementNotFound) {
				t.Errorf("missing settlement = %v", err)
			}

			due, err := st.DueSettlements(ctx, epoch.Add(time.Minute), 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(due) != 1 || due[0].ID != "s-1" {
				t.Fatalf("due = %+v", due)
			}
			due, _ = st.DueSettlements(ctx, epoch.Add(2*time.Hour), 10)
			if len(due) != 2 || due[0].ID != "s-1" || due[1].ID != "s-2" {
				t.Fatalf("due ordering = %+v", due)
			}
			due, _ = st.DueSettlements(ctx, epoch.Add(2*time.Hour), 1)
			if len(due) != 1 {
				t.Fatalf("limit ignored: %d", len(due))
			}

			next := epoch.Add(3 * time.Hour)
			if err := st.RecordSettlementAttempt(ctx, "s-1", "bad gateway", next); err != nil {
				t.Fatal(err)
			}
			got, _ = st.GetSettlement(ctx, "s-1")
			if got.Attempts != 1 || got.LastError != "bad gateway" || !got.NextAttemptAt.Equal(next) {
				t.Errorf("after attempt = %+v", got)
			}

			if err := st.MarkSettlementFailed(ctx, "s-2", "forbidden", epoch); err != nil {
				t.Fatal(err)
			}
			if err := st.RecordSettlementAttempt(ctx, "s-2", "x", next); !errors.Is(err, ErrSettlementNotFound) {
				t.Errorf("attempt on failed row = %v", err)
			}
			if err := st.MarkSettlementDone(ctx, "s-1", epoch.Add(time.Minute)); err != nil {
				t.Fatal(err)
			}
			if err := st.MarkSettlementDone(ctx, "nope", epoch); !errors.Is(err, ErrSettlementNotFound) {
				t.Errorf("done on missing = %v", err)
			}

			stats, err := st.SettlementStats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats != (SettlementStats{Done: 1, Failed: 1}) {
				t.Errorf("stats = %+v", stats)
			}

			n, err := st.RetryFailedSettlements(ctx, epoch)
			if err != nil || n != 1 {
				t.Fatalf("RetryFailedSettlements = %d, %v", n, err)
			}
			got, _ = st.GetSettlement(ctx, "s-2")
			if got.Status != SettlementPending || got.Attempts != 0 {
				t.Errorf("retried = %+v", got)
			}

			n, err = st.CleanupSettlements(ctx, epoch.Add(time.Hour))
			if err != nil || n != 1 {
				t.Fatalf("CleanupSettlements = %d, %v", n, err)
			}
			if _, err := st.GetSettlement(ctx, "s-1"); !errors.Is(err, ErrSettlementNotFound) {
				t.Errorf("done row should be cleaned: %v", err)
			}
		})
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		if err := RunMigrations(path); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}
