package reconcile

import (
	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// StepKind names the debt endpoint a step calls.
type StepKind string

const (
	StepUpdate StepKind = "update"
	StepDelete StepKind = "delete"
	StepCreate StepKind = "create"
)

// Step is one request of a plan. AccountID is sent as the accountId query
// parameter when set.
type Step struct {
	Kind      StepKind
	Record    core.DebtRecord
	AccountID *int64
}

// Plan is the ordered request sequence for one submission.
type Plan struct {
	Action Action
	Mode   RepayMode
	Steps  []Step
}

// Settles reports whether the plan ends a record with an update to zero
// followed by its removal.
func (p Plan) Settles() bool {
	n := len(p.Steps)
	return n == 2 && p.Steps[0].Kind == StepUpdate && p.Steps[1].Kind == StepDelete
}

// PlanFor maps a workflow state to requests. Validation failures return
// before any step is produced.
func PlanFor(d core.DebtRecord, s State, amount decimal.Decimal, accountID *int64) (Plan, error) {
	switch st := s.(type) {
	case Repaying:
		return planRepay(d, st.Mode, amount, accountID)
	case Increasing:
		return planIncrease(d, amount, accountID)
	case Deleting:
		if !d.Settled() {
			return Plan{}, ErrDeleteRequiresZero
		}
		return Plan{
			Action: ActionDelete,
			Steps:  []Step{{Kind: StepDelete, Record: d, AccountID: accountID}},
		}, nil
	}
	return Plan{}, ErrNoAction
}

func planRepay(d core.DebtRecord, mode RepayMode, amount decimal.Decimal, accountID *int64) (Plan, error) {
	next := decimal.Zero
	switch mode {
	case Full:
	case Partial:
		if !amount.IsPositive() {
			return Plan{}, ErrInvalidAmount
		}
		next = d.Amount.Sub(amount)
		if next.IsNegative() {
			return Plan{}, ErrAmountExceedsBalance
		}
	default:
		return Plan{}, ErrUnknownMode
	}

	updated := d
	updated.Amount = next
	plan := Plan{
		Action: ActionRepay,
		Mode:   mode,
		Steps:  []Step{{Kind: StepUpdate, Record: updated, AccountID: accountID}},
	}
	// The balance effect travels with the update; the removal of a zero
	// record carries none.
	if next.IsZero() {
		plan.Steps = append(plan.Steps, Step{Kind: StepDelete, Record: updated})
	}
	return plan, nil
}

func planIncrease(d core.DebtRecord, amount decimal.Decimal, accountID *int64) (Plan, error) {
	if !amount.IsPositive() {
		return Plan{}, ErrInvalidAmount
	}
	line := core.DebtRecord{Person: d.Person, Amount: amount.Round(2), Given: d.Given}
	return Plan{
		Action: ActionIncrease,
		Steps:  []Step{{Kind: StepCreate, Record: line, AccountID: accountID}},
	}, nil
}
