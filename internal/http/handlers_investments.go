package http

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
)

type investmentsData struct {
	Investments []core.Investment
	Types       []core.InvestmentType
	Accounts    []core.Account
	Budgets     []core.Budget
	Total       string
}

func (s *Server) loadInvestments(r *http.Request) (investmentsData, error) {
	p := principal(r)
	investments, err := s.ledger.ListInvestments(r.Context(), p)
	if err != nil {
		return investmentsData{}, err
	}
	accounts, err := s.accountOptions(r.Context(), p)
	if err != nil {
		return investmentsData{}, err
	}
	budgets, err := s.ledger.ListBudgets(r.Context(), p)
	if err != nil {
		return investmentsData{}, err
	}
	total := core.Sum(investments, func(i core.Investment) decimal.Decimal { return i.Value })
	return investmentsData{
		Investments: investments,
		Types:       core.InvestmentTypes(),
		Accounts:    accounts,
		Budgets:     budgets,
		Total:       core.FormatAmount(total),
	}, nil
}

func (s *Server) handleInvestments(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Investments", "investments")
	data, err := s.loadInvestments(r)
	if err != nil {
		page.Error = userMessage(err)
		s.render(w, r, http.StatusBadGateway, "investments.html", page)
		return
	}
	page.Data = data
	s.render(w, r, http.StatusOK, "investments.html", page)
}

func (s *Server) handleInvestmentRows(w http.ResponseWriter, r *http.Request) {
	data, err := s.loadInvestments(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "investment_rows", data)
}

// linkedIDs reads the optional account and budget selects shared by the
// investment forms.
func linkedIDs(r *http.Request) (accountID, budgetID *int64, err error) {
	if accountID, err = ParseOptionalID(r.Form.Get("accountId")); err != nil {
		return nil, nil, &core.ValidationError{Field: "accountId", Err: errors.New("invalid account")}
	}
	if budgetID, err = ParseOptionalID(r.Form.Get("budgetId")); err != nil {
		return nil, nil, &core.ValidationError{Field: "budgetId", Err: errors.New("invalid budget")}
	}
	return accountID, budgetID, nil
}

func (s *Server) handleCreateInvestment(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	value, err := core.ParseAmount(r.Form.Get("value"))
	if err != nil {
		failureResponse(&core.ValidationError{Field: "value", Err: err}).Write(w)
		return
	}
	accountID, budgetID, err := linkedIDs(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	inv := core.Investment{
		Name:                sanitizeInput(r.Form.Get("name")),
		Type:                core.InvestmentType(sanitizeInput(r.Form.Get("type"))),
		Value:               value,
		AccountID:           accountID,
		BudgetID:            budgetID,
		AddToAccountOnClose: ParseCheckbox(r.Form.Get("addToAccountOnClose")),
	}
	if err := inv.Validate(); err != nil {
		failureResponse(err).Write(w)
		return
	}

	created, err := s.ledger.CreateInvestment(r.Context(), principal(r), inv)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpCreate, "investments", created.ID)
	s.mutated(w, r, "Investment added", EventInvestmentsChanged, EventAccountsChanged, EventBudgetsChanged)
}

// handleAdjustInvestment adds to or withdraws from an investment. The
// signed change may be funded from, or paid into, an account or budget.
func (s *Server) handleAdjustInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid investment").Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	change, err := core.ParseSignedAmount(r.Form.Get("changeAmount"))
	if err != nil {
		failureResponse(&core.ValidationError{Field: "changeAmount", Err: err}).Write(w)
		return
	}
	accountID, budgetID, err := linkedIDs(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}

	ch := gateway.InvestmentChange{
		Amount:       change,
		AccountID:    accountID,
		BudgetID:     budgetID,
		AddToAccount: ParseCheckbox(r.Form.Get("addToAccount")),
	}
	if _, err := s.ledger.UpdateInvestment(r.Context(), principal(r), id, ch); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpUpdate, "investments", id)
	s.mutated(w, r, "Investment updated", EventInvestmentsChanged, EventAccountsChanged, EventBudgetsChanged)
}

func (s *Server) handleCloseInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid investment").Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	if err := s.ledger.CloseInvestment(r.Context(), principal(r), id, ParseCheckbox(r.Form.Get("addToAccount"))); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpDelete, "investments", id)
	s.mutated(w, r, "Investment closed", EventInvestmentsChanged, EventAccountsChanged)
}
