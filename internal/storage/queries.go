package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Rows as stored. Times are unix milliseconds.

type SessionRow struct {
	Token           string
	Email           string
	SealedPrincipal []byte
	CreatedAt       int64
	ExpiresAt       int64
}

type SettlementRow struct {
	ID              string
	DebtID          int64
	Person          string
	Given           int64
	Email           string
	SealedPrincipal []byte
	Status          string
	Attempts        int64
	LastError       string
	CreatedAt       int64
	UpdatedAt       int64
	NextAttemptAt   int64
}

const createSession = `INSERT INTO sessions (token, email, sealed_principal, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateSession(ctx context.Context, arg SessionRow) error {
	_, err := q.db.ExecContext(ctx, createSession,
		arg.Token, arg.Email, arg.SealedPrincipal, arg.CreatedAt, arg.ExpiresAt)
	return err
}

const getSession = `SELECT token, email, sealed_principal, created_at, expires_at
FROM sessions WHERE token = ?`

func (q *Queries) GetSession(ctx context.Context, token string) (SessionRow, error) {
	row := q.db.QueryRowContext(ctx, getSession, token)
	var i SessionRow
	err := row.Scan(&i.Token, &i.Email, &i.SealedPrincipal, &i.CreatedAt, &i.ExpiresAt)
	return i, err
}

const deleteSession = `DELETE FROM sessions WHERE token = ?`

func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, deleteSession, token)
	return err
}

const updateSessionPrincipal = `UPDATE sessions SET email = ?, sealed_principal = ? WHERE token = ?`

func (q *Queries) UpdateSessionPrincipal(ctx context.Context, email string, sealed []byte, token string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSessionPrincipal, email, sealed, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= ?`

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSessions, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertSettlement = `INSERT INTO pending_settlements (
    id, debt_id, person, given, email, sealed_principal, status,
    attempts, last_error, created_at, updated_at, next_attempt_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSettlement(ctx context.Context, arg SettlementRow) error {
	_, err := q.db.ExecContext(ctx, insertSettlement,
		arg.ID, arg.DebtID, arg.Person, arg.Given, arg.Email, arg.SealedPrincipal, arg.Status,
		arg.Attempts, arg.LastError, arg.CreatedAt, arg.UpdatedAt, arg.NextAttemptAt)
	return err
}

const settlementColumns = `id, debt_id, person, given, email, sealed_principal, status,
    attempts, last_error, created_at, updated_at, next_attempt_at`

func scanSettlement(scan func(...interface{}) error) (SettlementRow, error) {
	var i SettlementRow
	err := scan(&i.ID, &i.DebtID, &i.Person, &i.Given, &i.Email, &i.SealedPrincipal, &i.Status,
		&i.Attempts, &i.LastError, &i.CreatedAt, &i.UpdatedAt, &i.NextAttemptAt)
	return i, err
}

const getSettlement = `SELECT ` + settlementColumns + ` FROM pending_settlements WHERE id = ?`

func (q *Queries) GetSettlement(ctx context.Context, id string) (SettlementRow, error) {
	return scanSettlement(q.db.QueryRowContext(ctx, getSettlement, id).Scan)
}

const dueSettlements = `SELECT ` + settlementColumns + ` FROM pending_settlements
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`

func (q *Queries) DueSettlements(ctx context.Context, now, limit int64) ([]SettlementRow, error) {
	rows, err := q.db.QueryContext(ctx, dueSettlements, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SettlementRow
	for rows.Next() {
		i, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markSettlementDone = `UPDATE pending_settlements
SET status = 'done', updated_at = ?
WHERE id = ?`

func (q *Queries) MarkSettlementDone(ctx context.Context, now int64, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markSettlementDone, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const recordSettlementAttempt = `UPDATE pending_settlements
SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending'`

func (q *Queries) RecordSettlementAttempt(ctx context.Context, lastError string, next, now int64, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, recordSettlementAttempt, lastError, next, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markSettlementFailed = `UPDATE pending_settlements
SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) MarkSettlementFailed(ctx context.Context, lastError string, now int64, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markSettlementFailed, lastError, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const retryFailedSettlements = `UPDATE pending_settlements
SET status = 'pending', attempts = 0, next_attempt_at = ?, updated_at = ?
WHERE status = 'failed'`

func (q *Queries) RetryFailedSettlements(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, retryFailedSettlements, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const cleanupSettlements = `DELETE FROM pending_settlements
WHERE status = 'done' AND updated_at < ?`

func (q *Queries) CleanupSettlements(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, cleanupSettlements, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const settlementStats = `SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM pending_settlements`

func (q *Queries) SettlementStats(ctx context.Context) (pending, done, failed int64, err error) {
	err = q.db.QueryRowContext(ctx, settlementStats).Scan(&pending, &done, &failed)
	return pending, done, failed, err
}
