package http

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/session"
)

type dashboardData struct {
	Summary     core.Summary
	Accounts    []core.Account
	Budgets     []core.Budget
	Investments []core.Investment
	Borrowed    []core.DebtRecord
	Lent        []core.DebtRecord
}

// handleDashboard renders the overview built from every collection.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p := principal(r)
	data, err := s.loadDashboard(ctx, p)
	page := newPage(r, "Dashboard", "dashboard")
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to load dashboard",
			log.NewFields().WithOperation(log.OpRead).WithUser(p.Email).WithError(err).ToSlice()...)
		page.Error = userMessage(err)
		s.render(w, r, http.StatusBadGateway, "dashboard.html", page)
		return
	}
	page.Data = data
	s.render(w, r, http.StatusOK, "dashboard.html", page)
}

// loadDashboard fetches the four collections concurrently. Any failure
// cancels the rest.
func (s *Server) loadDashboard(ctx context.Context, p session.Principal) (dashboardData, error) {
	var (
		data  dashboardData
		debts []core.DebtRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data.Accounts, err = s.ledger.ListAccounts(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		data.Budgets, err = s.ledger.ListBudgets(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		data.Investments, err = s.ledger.ListInvestments(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		debts, err = s.ledger.ListDebts(gctx, p)
		return err
	})
	if err := g.Wait(); err != nil {
		return data, err
	}

	s.accounts.Set(accountsKey(p), data.Accounts)
	data.Borrowed = core.FilterDebts(debts, false)
	data.Lent = core.FilterDebts(debts, true)
	data.Summary = core.Summarize(data.Accounts, data.Budgets, data.Investments, debts)
	return data, nil
}
