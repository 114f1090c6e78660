package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
)

type creditsData struct {
	Credits  []core.Credit
	Accounts []core.Account
	Total    string
}

func (s *Server) loadCredits(r *http.Request) (creditsData, error) {
	p := principal(r)
	credits, err := s.ledger.ListCredits(r.Context(), p)
	if err != nil {
		return creditsData{}, err
	}
	accounts, err := s.accountOptions(r.Context(), p)
	if err != nil {
		return creditsData{}, err
	}
	total := core.Sum(credits, func(c core.Credit) decimal.Decimal { return c.Amount })
	return creditsData{Credits: credits, Accounts: accounts, Total: core.FormatAmount(total)}, nil
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Credits", "credits")
	data, err := s.loadCredits(r)
	if err != nil {
		page.Error = userMessage(err)
		s.render(w, r, http.StatusBadGateway, "credits.html", page)
		return
	}
	page.Data = data
	s.render(w, r, http.StatusOK, "credits.html", page)
}

func (s *Server) handleCreditRows(w http.ResponseWriter, r *http.Request) {
	data, err := s.loadCredits(r)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "credit_rows", data)
}

// handleCreateCredit books incoming money against an account. With
// repayDebt the server also applies it to outstanding debts.
func (s *Server) handleCreateCredit(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	accountID, err := ParseOptionalID(r.Form.Get("accountId"))
	if err != nil || accountID == nil {
		UnprocessableEntityError("Choose the account receiving the credit").Write(w)
		return
	}
	amount, err := ParseAmountField(r.Form.Get("amount"))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	c := core.Credit{
		Source:    sanitizeInput(r.Form.Get("source")),
		Amount:    amount,
		Note:      sanitizeInput(r.Form.Get("note")),
		RepayDebt: ParseCheckbox(r.Form.Get("repayDebt")),
	}
	if err := c.Validate(); err != nil {
		failureResponse(err).Write(w)
		return
	}

	created, err := s.ledger.CreateCredit(r.Context(), principal(r), *accountID, c)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpCreate, "credits", created.ID)
	events := []string{EventCreditsChanged, EventAccountsChanged}
	if c.RepayDebt {
		events = append(events, EventDebtsChanged)
	}
	s.mutated(w, r, "Credit recorded", events...)
}

func (s *Server) handleDeleteCredit(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid credit").Write(w)
		return
	}
	if err := s.ledger.DeleteCredit(r.Context(), principal(r), id); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpDelete, "credits", id)
	s.mutated(w, r, "Credit deleted", EventCreditsChanged, EventAccountsChanged)
}
