// Package sheets exports a point-in-time copy of a user's ledger into
// spreadsheet tabs. The google subpackage writes to Google Sheets; memory
// keeps exports in process for tests and dry runs.
package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/session"
)

// Ports for outbound adapters.
type (
	// Exporter writes every table of a snapshot, replacing earlier contents.
	Exporter interface {
		Export(ctx context.Context, s Snapshot) (Result, error)
	}

	// Source is the read side of the ledger API a snapshot is built from.
	Source interface {
		ListAccounts(ctx context.Context, p session.Principal) ([]core.Account, error)
		ListBudgets(ctx context.Context, p session.Principal) ([]core.Budget, error)
		ListInvestments(ctx context.Context, p session.Principal) ([]core.Investment, error)
		ListCredits(ctx context.Context, p session.Principal) ([]core.Credit, error)
		ListDebts(ctx context.Context, p session.Principal) ([]core.DebtRecord, error)
	}
)

// Snapshot is one user's ledger at TakenAt.
type Snapshot struct {
	Owner       string
	TakenAt     time.Time
	Accounts    []core.Account
	Budgets     []core.Budget
	Investments []core.Investment
	Credits     []core.Credit
	Debts       []core.DebtRecord
}

// Table is one tab: a header row followed by data rows.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Result reports what an export wrote.
type Result struct {
	Tabs []string
	Rows int
}

// Collect fetches every collection concurrently.
func Collect(ctx context.Context, src Source, p session.Principal, now time.Time) (Snapshot, error) {
	s := Snapshot{Owner: p.Email, TakenAt: now}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Accounts, err = src.ListAccounts(gctx, p)
		return wrap("accounts", err)
	})
	g.Go(func() (err error) {
		s.Budgets, err = src.ListBudgets(gctx, p)
		return wrap("budgets", err)
	})
	g.Go(func() (err error) {
		s.Investments, err = src.ListInvestments(gctx, p)
		return wrap("investments", err)
	})
	g.Go(func() (err error) {
		s.Credits, err = src.ListCredits(gctx, p)
		return wrap("credits", err)
	})
	g.Go(func() (err error) {
		s.Debts, err = src.ListDebts(gctx, p)
		return wrap("debts", err)
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func wrap(collection string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", collection, err)
	}
	return nil
}

// Tables lays the snapshot out as tabs. Amounts are written as plain
// numbers so spreadsheet formulas keep working.
func (s Snapshot) Tables() []Table {
	summary := core.Summarize(s.Accounts, s.Budgets, s.Investments, s.Debts)

	overview := Table{Name: "Summary", Header: []string{"Metric", "Amount"}}
	overview.Rows = [][]any{
		{"Exported at", s.TakenAt.UTC().Format(time.RFC3339)},
		{"Owner", s.Owner},
		{"Account balance", number(summary.TotalBalance)},
		{"Budgets", number(summary.TotalBudget)},
		{"Investments", number(summary.TotalInvestments)},
		{"Borrowed", number(summary.TotalDebt)},
		{"Lent", number(summary.TotalLent)},
		{"Net worth", number(summary.NetWorth)},
	}

	accounts := Table{Name: "Accounts", Header: []string{"ID", "Name", "Type", "Balance"}}
	for _, a := range s.Accounts {
		accounts.Rows = append(accounts.Rows, []any{a.ID, a.AccountName, a.Type.Label(), number(a.Balance)})
	}

	budgets := Table{Name: "Budgets", Header: []string{"ID", "Name", "Amount"}}
	for _, b := range s.Budgets {
		budgets.Rows = append(budgets.Rows, []any{b.ID, b.Name, number(b.Amount)})
	}

	investments := Table{Name: "Investments", Header: []string{"ID", "Name", "Type", "Value", "Account", "Budget"}}
	for _, i := range s.Investments {
		investments.Rows = append(investments.Rows, []any{i.ID, i.Name, i.Type.Label(), number(i.Value), optionalID(i.AccountID), optionalID(i.BudgetID)})
	}

	credits := Table{Name: "Credits", Header: []string{"ID", "Source", "Amount", "Note", "Repaid debt"}}
	for _, c := range s.Credits {
		credits.Rows = append(credits.Rows, []any{c.ID, c.Source, number(c.Amount), c.Note, c.RepayDebt})
	}

	debts := Table{Name: "Debts", Header: []string{"ID", "Person", "Direction", "Amount"}}
	for _, d := range s.Debts {
		debts.Rows = append(debts.Rows, []any{d.ID, d.Person, d.Direction(), number(d.Amount)})
	}

	return []Table{overview, accounts, budgets, investments, credits, debts}
}

func number(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func optionalID(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}
