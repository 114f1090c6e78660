// Package storage keeps the front end's own state: server-side sessions and
// the outbox of settlements whose removal still has to be confirmed.
// Debts, accounts and everything else live behind the ledger API.
package storage

import (
	"context"
	"errors"
	"time"

	"ledger/internal/session"
)

var ErrSettlementNotFound = errors.New("settlement not found")

// SettlementStatus is the lifecycle of an outbox row.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementDone    SettlementStatus = "done"
	SettlementFailed  SettlementStatus = "failed"
)

// PendingSettlement is a debt already updated to zero whose DELETE did not
// go through. The principal is stored sealed so the repair can run after the
// user has logged out.
type PendingSettlement struct {
	ID            string
	DebtID        int64
	Person        string
	Given         bool
	Principal     session.Principal
	Status        SettlementStatus
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	NextAttemptAt time.Time
}

type SettlementStats struct {
	Pending int
	Done    int
	Failed  int
}

// SettlementOutbox is the durable repair queue.
type SettlementOutbox interface {
	EnqueueSettlement(ctx context.Context, s PendingSettlement) error
	GetSettlement(ctx context.Context, id string) (*PendingSettlement, error)
	// DueSettlements returns pending rows whose next attempt is not after now,
	// oldest first.
	DueSettlements(ctx context.Context, now time.Time, limit int) ([]PendingSettlement, error)
	MarkSettlementDone(ctx context.Context, id string, now time.Time) error
	// RecordSettlementAttempt bumps the attempt count and reschedules.
	RecordSettlementAttempt(ctx context.Context, id, lastError string, next time.Time) error
	MarkSettlementFailed(ctx context.Context, id, lastError string, now time.Time) error
	RetryFailedSettlements(ctx context.Context, now time.Time) (int, error)
	CleanupSettlements(ctx context.Context, before time.Time) (int, error)
	SettlementStats(ctx context.Context) (SettlementStats, error)
}

// Store is everything the front end persists locally.
type Store interface {
	session.Repository
	SettlementOutbox
	Close() error
}

var (
	_ Store = (*SQLiteRepository)(nil)
	_ Store = (*MemoryStore)(nil)
)
