// Package reconcile drives the manage-a-debt workflow: pick a record, choose
// repay, increase or delete, optionally link an account, and submit the
// resulting request sequence.
//
// The workflow value is a small state machine. Plan turns its current state
// into the exact API calls without touching the network; Executor runs them.
package reconcile

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// Action is the user's choice of what to do with the selected record.
type Action string

const (
	ActionNone     Action = ""
	ActionRepay    Action = "repay"
	ActionIncrease Action = "increase"
	ActionDelete   Action = "delete"
)

// ParseAction accepts the form values used by the front ends.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionRepay, ActionIncrease, ActionDelete:
		return Action(s), true
	}
	return ActionNone, false
}

// RepayMode says how much of the balance a repayment settles.
type RepayMode string

const (
	Partial RepayMode = "partial"
	Full    RepayMode = "full"
)

func ParseRepayMode(s string) (RepayMode, bool) {
	switch RepayMode(s) {
	case Partial, Full:
		return RepayMode(s), true
	}
	return "", false
}

// State is one of Idle, Repaying, Increasing or Deleting. A repay mode only
// exists inside Repaying.
type State interface {
	Action() Action
	isState()
}

type (
	Idle       struct{}
	Repaying   struct{ Mode RepayMode }
	Increasing struct{}
	Deleting   struct{}
)

func (Idle) Action() Action       { return ActionNone }
func (Repaying) Action() Action   { return ActionRepay }
func (Increasing) Action() Action { return ActionIncrease }
func (Deleting) Action() Action   { return ActionDelete }

func (Idle) isState()       {}
func (Repaying) isState()   {}
func (Increasing) isState() {}
func (Deleting) isState()   {}

// Workflow is one manage session over a selected record. It is discarded
// after Submit; a new selection starts a new Workflow.
type Workflow struct {
	debt      core.DebtRecord
	state     State
	accountID *int64
	submitted bool
}

// Begin selects a record. The workflow starts Idle with no linked account.
func Begin(d core.DebtRecord) *Workflow {
	return &Workflow{debt: d, state: Idle{}}
}

// Select begins a workflow on the record with id from a freshly loaded list.
func Select(debts []core.DebtRecord, id int64) (*Workflow, error) {
	d, ok := core.FindDebt(debts, id)
	if !ok {
		return nil, ErrNoSelection
	}
	return Begin(d), nil
}

func (w *Workflow) Debt() core.DebtRecord { return w.debt }
func (w *Workflow) State() State          { return w.state }
func (w *Workflow) Submitted() bool       { return w.submitted }

// LinkedAccount returns the account that will absorb the balance effect.
func (w *Workflow) LinkedAccount() (int64, bool) {
	if w.accountID == nil {
		return 0, false
	}
	return *w.accountID, true
}

// CanDelete reports whether the delete action is available.
func (w *Workflow) CanDelete() bool {
	return w.debt.Settled()
}

func (w *Workflow) transition(s State) error {
	if w.submitted {
		return ErrAlreadySubmitted
	}
	w.state = s
	return nil
}

// Repay enters Repaying with the given mode.
func (w *Workflow) Repay(mode RepayMode) error {
	if mode != Partial && mode != Full {
		return ErrUnknownMode
	}
	return w.transition(Repaying{Mode: mode})
}

// SetMode switches between partial and full while already repaying.
func (w *Workflow) SetMode(mode RepayMode) error {
	if _, ok := w.state.(Repaying); !ok {
		return ErrNotRepaying
	}
	return w.Repay(mode)
}

func (w *Workflow) Increase() error {
	return w.transition(Increasing{})
}

// Delete is only reachable once nothing is owed either way.
func (w *Workflow) Delete() error {
	if !w.CanDelete() {
		return ErrDeleteRequiresZero
	}
	return w.transition(Deleting{})
}

// Choose enters the state for a parsed action; mode only matters for repay.
func (w *Workflow) Choose(a Action, mode RepayMode) error {
	switch a {
	case ActionRepay:
		if mode == "" {
			mode = Partial
		}
		return w.Repay(mode)
	case ActionIncrease:
		return w.Increase()
	case ActionDelete:
		return w.Delete()
	}
	return ErrNoAction
}

func (w *Workflow) LinkAccount(id int64) error {
	if w.submitted {
		return ErrAlreadySubmitted
	}
	if id <= 0 {
		return ErrInvalidAccount
	}
	w.accountID = &id
	return nil
}

func (w *Workflow) UnlinkAccount() {
	w.accountID = nil
}

// Cancel discards every transient choice and returns to Idle.
func (w *Workflow) Cancel() error {
	if w.submitted {
		return ErrAlreadySubmitted
	}
	w.state = Idle{}
	w.accountID = nil
	return nil
}

// Plan computes the request sequence for the current state. amount is the
// partial repayment or the increase; it is ignored for full repay and delete.
func (w *Workflow) Plan(amount decimal.Decimal) (Plan, error) {
	if w.submitted {
		return Plan{}, ErrAlreadySubmitted
	}
	return PlanFor(w.debt, w.state, amount, w.accountID)
}

// markSubmitted closes the workflow; no transition leaves Submitted.
func (w *Workflow) markSubmitted() {
	w.submitted = true
}

var (
	ErrNoSelection          = errors.New("this record no longer exists")
	ErrNoAction             = errors.New("choose an action first")
	ErrNotRepaying          = errors.New("repay mode can only be chosen while repaying")
	ErrUnknownMode          = errors.New("unknown repay mode")
	ErrInvalidAmount        = errors.New("enter an amount greater than zero")
	ErrAmountExceedsBalance = errors.New("amount exceeds balance")
	ErrDeleteRequiresZero   = errors.New("only settled records can be deleted")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrAlreadySubmitted     = errors.New("workflow already submitted")
	ErrSettlementPending    = errors.New("record settled but not yet removed; it will be cleaned up automatically")
)

// IsValidation reports whether err was raised before any request was sent.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrNoSelection, ErrNoAction, ErrNotRepaying, ErrUnknownMode, ErrInvalidAmount,
		ErrAmountExceedsBalance, ErrDeleteRequiresZero, ErrInvalidAccount, ErrAlreadySubmitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Message is the user-facing text of a workflow validation error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrAmountExceedsBalance):
		return "Amount exceeds balance"
	case errors.Is(err, ErrInvalidAmount):
		return "Enter an amount greater than zero"
	case errors.Is(err, ErrDeleteRequiresZero):
		return "Only settled records can be deleted"
	case errors.Is(err, ErrNoAction):
		return "Choose an action first"
	case errors.Is(err, ErrSettlementPending):
		return "Settled. The record will disappear once the server confirms the removal."
	}
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if size == 0 {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
