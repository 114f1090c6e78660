package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ledger/internal/session"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	sealer  *session.Sealer
}

// NewSQLiteRepository opens the database, runs migrations and seals every
// stored principal with sealer.
func NewSQLiteRepository(dbPath string, sealer *session.Sealer) (*SQLiteRepository, error) {
	if sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		sealer:  sealer,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping backs the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Sessions

func (r *SQLiteRepository) CreateSession(ctx context.Context, s session.Session) error {
	sealed, err := r.sealer.Seal(s.Principal)
	if err != nil {
		return fmt.Errorf("seal principal: %w", err)
	}
	err = r.queries.CreateSession(ctx, SessionRow{
		Token:           s.Token,
		Email:           s.Principal.Email,
		SealedPrincipal: sealed,
		CreatedAt:       millis(s.CreatedAt),
		ExpiresAt:       millis(s.ExpiresAt),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, token string) (*session.Session, error) {
	row, err := r.queries.GetSession(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	p, err := r.sealer.Open(row.SealedPrincipal)
	if err != nil {
		// A rotated key makes old rows unreadable; treat them as gone.
		slog.WarnContext(ctx, "Dropping unreadable session", "email", row.Email, "error", err)
		_ = r.queries.DeleteSession(ctx, token)
		return nil, session.ErrInvalidSession
	}
	return &session.Session{
		Token:     row.Token,
		Principal: p,
		CreatedAt: fromMillis(row.CreatedAt),
		ExpiresAt: fromMillis(row.ExpiresAt),
	}, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if err := r.queries.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReplacePrincipal(ctx context.Context, token string, p session.Principal) error {
	sealed, err := r.sealer.Seal(p)
	if err != nil {
		return fmt.Errorf("seal principal: %w", err)
	}
	n, err := r.queries.UpdateSessionPrincipal(ctx, p.Email, sealed, token)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return session.ErrInvalidSession
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	n, err := r.queries.DeleteExpiredSessions(ctx, millis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired sessions removed", "count", n)
	}
	return int(n), nil
}

// Settlement outbox

func (r *SQLiteRepository) EnqueueSettlement(ctx context.Context, s PendingSettlement) error {
	sealed, err := r.sealer.Seal(s.Principal)
	if err != nil {
		return fmt.Errorf("seal principal: %w", err)
	}
	status := s.Status
	if status == "" {
		status = SettlementPending
	}
	var given int64
	if s.Given {
		given = 1
	}
	err = r.queries.InsertSettlement(ctx, SettlementRow{
		ID:              s.ID,
		DebtID:          s.DebtID,
		Person:          s.Person,
		Given:           given,
		Email:           s.Principal.Email,
		SealedPrincipal: sealed,
		Status:          string(status),
		Attempts:        int64(s.Attempts),
		LastError:       s.LastError,
		CreatedAt:       millis(s.CreatedAt),
		UpdatedAt:       millis(s.UpdatedAt),
		NextAttemptAt:   millis(s.NextAttemptAt),
	})
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	slog.InfoContext(ctx, "Settlement queued",
		"settlement_id", s.ID,
		"debt_id", s.DebtID,
		"user", s.Principal.Email)
	return nil
}

func (r *SQLiteRepository) toSettlement(ctx context.Context, row SettlementRow) PendingSettlement {
	p, err := r.sealer.Open(row.SealedPrincipal)
	if err != nil {
		// Leave the principal empty; the repair will fail as unauthenticated
		// and end up failed instead of retrying forever.
		slog.WarnContext(ctx, "Cannot open settlement principal", "settlement_id", row.ID, "error", err)
		p = session.Principal{Email: row.Email}
	}
	return PendingSettlement{
		ID:            row.ID,
		DebtID:        row.DebtID,
		Person:        row.Person,
		Given:         row.Given != 0,
		Principal:     p,
		Status:        SettlementStatus(row.Status),
		Attempts:      int(row.Attempts),
		LastError:     row.LastError,
		CreatedAt:     fromMillis(row.CreatedAt),
		UpdatedAt:     fromMillis(row.UpdatedAt),
		NextAttemptAt: fromMillis(row.NextAttemptAt),
	}
}

func (r *SQLiteRepository) GetSettlement(ctx context.Context, id string) (*PendingSettlement, error) {
	row, err := r.queries.GetSettlement(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	s := r.toSettlement(ctx, row)
	return &s, nil
}

func (r *SQLiteRepository) DueSettlements(ctx context.Context, now time.Time, limit int) ([]PendingSettlement, error) {
	rows, err := r.queries.DueSettlements(ctx, millis(now), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get due settlements: %w", err)
	}
	out := make([]PendingSettlement, len(rows))
	for i, row := range rows {
		out[i] = r.toSettlement(ctx, row)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkSettlementDone(ctx context.Context, id string, now time.Time) error {
	n, err := r.queries.MarkSettlementDone(ctx, millis(now), id)
	if err != nil {
		return fmt.Errorf("mark settlement done: %w", err)
	}
	if n == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

func (r *SQLiteRepository) RecordSettlementAttempt(ctx context.Context, id, lastError string, next time.Time) error {
	n, err := r.queries.RecordSettlementAttempt(ctx, lastError, millis(next), millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("record settlement attempt: %w", err)
	}
	if n == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

func (r *SQLiteRepository) MarkSettlementFailed(ctx context.Context, id, lastError string, now time.Time) error {
	n, err := r.queries.MarkSettlementFailed(ctx, lastError, millis(now), id)
	if err != nil {
		return fmt.Errorf("mark settlement failed: %w", err)
	}
	if n == 0 {
		return ErrSettlementNotFound
	}
	slog.WarnContext(ctx, "Settlement marked as failed", "settlement_id", id, "error", lastError)
	return nil
}

func (r *SQLiteRepository) RetryFailedSettlements(ctx context.Context, now time.Time) (int, error) {
	n, err := r.queries.RetryFailedSettlements(ctx, millis(now))
	if err != nil {
		return 0, fmt.Errorf("retry failed settlements: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) CleanupSettlements(ctx context.Context, before time.Time) (int, error) {
	n, err := r.queries.CleanupSettlements(ctx, millis(before))
	if err != nil {
		return 0, fmt.Errorf("cleanup settlements: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) SettlementStats(ctx context.Context) (SettlementStats, error) {
	pending, done, failed, err := r.queries.SettlementStats(ctx)
	if err != nil {
		return SettlementStats{}, fmt.Errorf("settlement stats: %w", err)
	}
	return SettlementStats{Pending: int(pending), Done: int(done), Failed: int(failed)}, nil
}
