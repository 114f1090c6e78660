package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
)

type budgetsData struct {
	Budgets  []core.Budget
	Accounts []core.Account
	Total    string
}

func (s *Server) loadBudgets(r *http.Request) (budgetsData, error) {
	p := principal(r)
	budgets, err := s.ledger.ListBudgets(r.Context(), p)
	if err != nil {
		return budgetsData{}, err
	}
	accounts, err := s.accountOptions(r.Context(), p)
	if err != nil {
		return budgetsData{}, err
	}
	total := core.Sum(budgets, func(b core.Budget) decimal.Decimal { return b.Amount })
	return budgetsData{Budgets: budgets, Accounts: accounts, Total: core.FormatAmount(total)}, nil
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Budgets", "budgets")
	data, err := s.loadBudgets(r)
	if err != nil {
		page.Error = userMessage(err)
		s.render(w, r, http.StatusBadGateway, "budgets.html", page)
		return
	}
	page.Data = data
	s.render(w, r, http.StatusOK, "budgets.html", page)
}

func (s *Server) handleBudgetRows(w http.ResponseWriter, r *http.Request) {
	data, err := s.loadBudgets(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "budget_rows", data)
}

func budgetFromForm(r *http.Request) (core.Budget, error) {
	amount, err := ParseAmountField(r.Form.Get("amount"))
	if err != nil {
		return core.Budget{}, err
	}
	b := core.Budget{Name: sanitizeInput(r.Form.Get("name")), Amount: amount}
	return b, b.Validate()
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	b, err := budgetFromForm(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	created, err := s.ledger.CreateBudget(r.Context(), principal(r), b)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpCreate, "budgets", created.ID)
	s.mutated(w, r, "Budget added", EventBudgetsChanged)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid budget").Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	b, err := budgetFromForm(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	b.ID = id
	if _, err := s.ledger.UpdateBudget(r.Context(), principal(r), b); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpUpdate, "budgets", id)
	s.mutated(w, r, "Budget updated", EventBudgetsChanged)
}

// handleCloseBudget removes a budget. Choosing an account moves whatever is
// left of it there.
func (s *Server) handleCloseBudget(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid budget").Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	accountID, err := ParseOptionalID(r.Form.Get("accountId"))
	if err != nil {
		BadRequestError("Invalid account").Write(w)
		return
	}
	if err := s.ledger.CloseBudget(r.Context(), principal(r), id, accountID); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpDelete, "budgets", id)
	s.mutated(w, r, "Budget closed", EventBudgetsChanged, EventAccountsChanged)
}
