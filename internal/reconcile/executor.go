package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/metrics"
	"ledger/internal/session"
)

// DebtStore is the slice of the ledger API the workflow needs. Credentials
// are passed on every call.
type DebtStore interface {
	ListDebts(ctx context.Context, p session.Principal) ([]core.DebtRecord, error)
	CreateDebt(ctx context.Context, p session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error)
	UpdateDebt(ctx context.Context, p session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error)
	DeleteDebt(ctx context.Context, p session.Principal, id int64, accountID *int64) error
	ListAccounts(ctx context.Context, p session.Principal) ([]core.Account, error)
}

// RepairQueue records a settlement whose removal could not be confirmed so
// it can be completed later. It returns the settlement id.
type RepairQueue interface {
	QueueSettlement(ctx context.Context, p session.Principal, debt core.DebtRecord, cause error) (string, error)
}

// RetryPolicy bounds the removal retries of a settlement.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 250 * time.Millisecond}
}

// Snapshot is the state reloaded after a submission.
type Snapshot struct {
	Debts    []core.DebtRecord
	Accounts []core.Account
}

// Outcome describes a completed submission.
type Outcome struct {
	Plan     Plan
	Created  *core.DebtRecord
	Snapshot Snapshot
	// PendingID is set when the record was settled but its removal was
	// handed to the repair queue.
	PendingID string
}

type Executor struct {
	store   DebtStore
	repairs RepairQueue
	retry   RetryPolicy
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type ExecutorOption func(*Executor)

func WithRepairQueue(q RepairQueue) ExecutorOption {
	return func(e *Executor) { e.repairs = q }
}

func WithRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		e.retry = p
	}
}

func WithLogger(l *log.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l.WithComponent(log.ComponentReconcile) }
}

func NewExecutor(store DebtStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  store,
		retry:  DefaultRetryPolicy(),
		logger: log.Discard(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit plans the workflow's current state, runs it and closes the
// workflow. Validation errors leave the workflow open so the user can fix
// the input.
func (e *Executor) Submit(ctx context.Context, w *Workflow, p session.Principal, amount decimal.Decimal) (*Outcome, error) {
	plan, err := w.Plan(amount)
	if err != nil {
		metrics.WorkflowSubmissions.WithLabelValues(string(w.State().Action()), metrics.OutcomeInvalid).Inc()
		return nil, err
	}
	w.markSubmitted()
	return e.Execute(ctx, p, plan)
}

// Execute runs the plan in order. A failed first step aborts without reload.
// A settlement whose update went through but whose removal keeps failing is
// queued for repair and reported as ErrSettlementPending alongside a
// non-nil outcome.
func (e *Executor) Execute(ctx context.Context, p session.Principal, plan Plan) (*Outcome, error) {
	action := string(plan.Action)
	out := &Outcome{Plan: plan}
	var pending error

	for i, step := range plan.Steps {
		var err error
		switch step.Kind {
		case StepUpdate:
			_, err = e.store.UpdateDebt(ctx, p, step.Record, step.AccountID)
		case StepCreate:
			var created core.DebtRecord
			created, err = e.store.CreateDebt(ctx, p, step.Record, step.AccountID)
			if err == nil {
				out.Created = &created
			}
		case StepDelete:
			if plan.Settles() && i == 1 {
				pending = e.settle(ctx, p, step, out)
				continue
			}
			err = e.store.DeleteDebt(ctx, p, step.Record.ID, step.AccountID)
		}
		if err != nil {
			metrics.WorkflowSubmissions.WithLabelValues(action, metrics.OutcomeFailed).Inc()
			e.logger.ErrorContext(ctx, "Debt workflow step failed",
				log.NewFields().
					WithOperation(string(step.Kind)).
					WithUser(p.Email).
					WithDebt(step.Record.ID, step.Record.Person, step.Record.Amount, step.Record.Given).
					WithAccount(step.AccountID).
					WithError(err).
					ToSlice()...)
			return nil, err
		}
		e.logger.InfoContext(ctx, "Debt workflow step applied",
			log.NewFields().
				WithOperation(string(step.Kind)).
				WithUser(p.Email).
				WithDebt(step.Record.ID, step.Record.Person, step.Record.Amount, step.Record.Given).
				WithAccount(step.AccountID).
				ToSlice()...)
	}

	snap, err := e.Reload(ctx, p)
	if err != nil {
		e.logger.WarnContext(ctx, "Reload after submission failed", log.FieldUser, p.Email, log.FieldError, err)
	}
	out.Snapshot = snap

	if pending != nil {
		metrics.WorkflowSubmissions.WithLabelValues(action, metrics.OutcomePending).Inc()
		return out, pending
	}
	metrics.WorkflowSubmissions.WithLabelValues(action, metrics.OutcomeOK).Inc()
	return out, nil
}

// settle removes a record already updated to zero. A missing record counts
// as removed.
func (e *Executor) settle(ctx context.Context, p session.Principal, step Step, out *Outcome) error {
	backoff := e.retry.Backoff
	var lastErr error
	for attempt := 1; attempt <= e.retry.Attempts; attempt++ {
		err := e.store.DeleteDebt(ctx, p, step.Record.ID, step.AccountID)
		if err == nil || gateway.IsNotFound(err) {
			return nil
		}
		lastErr = err
		e.logger.WarnContext(ctx, "Settlement removal failed",
			log.FieldDebtID, step.Record.ID,
			log.FieldAttempt, attempt,
			log.FieldError, err)
		if attempt == e.retry.Attempts || gateway.IsAuthError(err) {
			break
		}
		if err := e.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	if e.repairs == nil {
		return fmt.Errorf("%w: %v", ErrSettlementPending, lastErr)
	}
	// The request context may already be gone; the queue write must still land.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	id, err := e.repairs.QueueSettlement(qctx, p, step.Record, lastErr)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to queue settlement repair",
			log.FieldDebtID, step.Record.ID,
			log.FieldError, err)
		return fmt.Errorf("%w: %w", ErrSettlementPending, errors.Join(lastErr, err))
	}
	out.PendingID = id
	e.logger.InfoContext(ctx, "Settlement queued for repair",
		log.FieldDebtID, step.Record.ID,
		log.FieldSettlementID, id)
	return fmt.Errorf("%w: %v", ErrSettlementPending, lastErr)
}

// Reload fetches debts and accounts concurrently.
func (e *Executor) Reload(ctx context.Context, p session.Principal) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		debts, err := e.store.ListDebts(gctx, p)
		if err != nil {
			return fmt.Errorf("list debts: %w", err)
		}
		snap.Debts = debts
		return nil
	})
	g.Go(func() error {
		accounts, err := e.store.ListAccounts(gctx, p)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		snap.Accounts = accounts
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
