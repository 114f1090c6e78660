package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
)

type accountsData struct {
	Accounts []core.Account
	Types    []core.AccountType
	Total    string
}

func newAccountsData(accounts []core.Account) accountsData {
	total := core.Sum(accounts, func(a core.Account) decimal.Decimal { return a.Balance })
	return accountsData{Accounts: accounts, Types: core.AccountTypes(), Total: core.FormatAmount(total)}
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Accounts", "accounts")
	accounts, err := s.ledger.ListAccounts(r.Context(), principal(r))
	if err != nil {
		page.Error = userMessage(err)
		s.render(w, r, http.StatusBadGateway, "accounts.html", page)
		return
	}
	s.accounts.Set(accountsKey(principal(r)), accounts)
	page.Data = newAccountsData(accounts)
	s.render(w, r, http.StatusOK, "accounts.html", page)
}

func (s *Server) handleAccountRows(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context(), principal(r))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.accounts.Set(accountsKey(principal(r)), accounts)
	s.render(w, r, http.StatusOK, "account_rows", newAccountsData(accounts))
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	balance := decimal.Zero
	if v := r.Form.Get("balance"); v != "" {
		var err error
		if balance, err = core.ParseBalance(v); err != nil {
			failureResponse(&core.ValidationError{Field: "balance", Err: err}).Write(w)
			return
		}
	}
	a := core.Account{
		AccountName: sanitizeInput(r.Form.Get("accountName")),
		Type:        core.AccountType(sanitizeInput(r.Form.Get("type"))),
		Balance:     balance,
	}
	if err := a.Validate(); err != nil {
		failureResponse(err).Write(w)
		return
	}

	created, err := s.ledger.CreateAccount(r.Context(), principal(r), a)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpCreate, "accounts", created.ID)
	s.mutated(w, r, "Account added", EventAccountsChanged)
}

// handleUpdateAccount renames or retypes an account. The balance is carried
// over from the server copy; it only moves through transactions.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid account").Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	p := principal(r)
	accounts, err := s.ledger.ListAccounts(r.Context(), p)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	current, ok := findAccount(accounts, id)
	if !ok {
		NotFoundError("Account not found").Write(w)
		return
	}

	current.AccountName = sanitizeInput(r.Form.Get("accountName"))
	current.Type = core.AccountType(sanitizeInput(r.Form.Get("type")))
	if err := current.Validate(); err != nil {
		failureResponse(err).Write(w)
		return
	}
	if _, err := s.ledger.UpdateAccount(r.Context(), p, current); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpUpdate, "accounts", id)
	s.mutated(w, r, "Account updated", EventAccountsChanged)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r, "id")
	if err != nil {
		BadRequestError("Invalid account").Write(w)
		return
	}
	if err := s.ledger.DeleteAccount(r.Context(), principal(r), id); err != nil {
		failureResponse(err).Write(w)
		return
	}
	logMutation(r, log.OpDelete, "accounts", id)
	s.mutated(w, r, "Account deleted", EventAccountsChanged)
}

func findAccount(accounts []core.Account, id int64) (core.Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return core.Account{}, false
}
