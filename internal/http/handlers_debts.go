package http

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/reconcile"
	"ledger/internal/session"
)

type debtsData struct {
	Given    bool
	Title    string
	Debts    []core.DebtRecord
	Accounts []core.Account
	Total    string
	// OOB marks the rows fragment for an out-of-band swap.
	OOB bool
}

func newDebtsData(debts []core.DebtRecord, given bool) debtsData {
	side := core.FilterDebts(debts, given)
	title := "Borrowed"
	if given {
		title = "Lent"
	}
	return debtsData{
		Given: given,
		Title: title,
		Debts: side,
		Total: core.FormatAmount(core.Sum(side, func(d core.DebtRecord) decimal.Decimal { return d.Amount })),
	}
}

// manageData feeds the manage modal.
type manageData struct {
	Debt      core.DebtRecord
	Accounts  []core.Account
	CanDelete bool
	Error     string
	Action    string
	Mode      string
	Amount    string
	Link      bool
	AccountID string
}

func (s *Server) handleBorrowed(w http.ResponseWriter, r *http.Request) {
	s.debtsPage(w, r, false)
}

func (s *Server) handleLent(w http.ResponseWriter, r *http.Request) {
	s.debtsPage(w, r, true)
}

func (s *Server) debtsPage(w http.ResponseWriter, r *http.Request, given bool) {
	p := principal(r)
	nav := "debts"
	if given {
		nav = "lent"
	}
	page := newPage(r, "", nav)

	debts, err := s.ledger.ListDebts(r.Context(), p)
	if err == nil {
		data := newDebtsData(debts, given)
		page.Title = data.Title
		data.Accounts, err = s.accountOptions(r.Context(), p)
		page.Data = data
	}
	if err != nil {
		page.Title = newDebtsData(nil, given).Title
		page.Error = userMessage(err)
		page.Data = nil
		s.render(w, r, http.StatusBadGateway, "debts.html", page)
		return
	}
	s.render(w, r, http.StatusOK, "debts.html", page)
}

func (s *Server) handleDebtRows(w http.ResponseWriter, r *http.Request) {
	debts, err := s.ledger.ListDebts(r.Context(), principal(r))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "debt_rows", newDebtsData(debts, ParseCheckbox(r.URL.Query().Get("given"))))
}

// handleCreateDebt records a new borrowed or lent amount. A linked account
// receives (borrowed) or pays out (lent) the money.
func (s *Server) handleCreateDebt(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	amount, err := ParseAmountField(r.Form.Get("amount"))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	accountID, err := ParseOptionalID(r.Form.Get("accountId"))
	if err != nil {
		failureResponse(&core.ValidationError{Field: "accountId", Err: reconcile.ErrInvalidAccount}).Write(w)
		return
	}
	d := core.DebtRecord{
		Person: sanitizeInput(r.Form.Get("person")),
		Amount: amount,
		Given:  ParseCheckbox(r.Form.Get("given")),
	}
	if err := d.Validate(); err != nil {
		failureResponse(err).Write(w)
		return
	}

	created, err := s.ledger.CreateDebt(r.Context(), principal(r), d, accountID)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogDebtMutation(r.Context(), "create", created.ID, d.Person, d.Amount, d.Given, accountID)
	s.mutated(w, r, "Record added", EventDebtsChanged, EventAccountsChanged)
}

// selectedDebt loads the record named in the path from a fresh list so the
// workflow always starts from the server's balance.
func (s *Server) selectedDebt(r *http.Request, p session.Principal) (core.DebtRecord, *HTMXResponseBuilder) {
	id, err := ParseID(r, "id")
	if err != nil {
		return core.DebtRecord{}, BadRequestError("Invalid record")
	}
	debts, err := s.ledger.ListDebts(r.Context(), p)
	if err != nil {
		return core.DebtRecord{}, failureResponse(err)
	}
	wf, err := reconcile.Select(debts, id)
	if err != nil {
		return core.DebtRecord{}, NotFoundError(reconcile.Message(err))
	}
	return wf.Debt(), nil
}

// handleManageDebt renders the manage modal for one record.
func (s *Server) handleManageDebt(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	d, resp := s.selectedDebt(r, p)
	if resp != nil {
		resp.Write(w)
		return
	}
	accounts, err := s.accountOptions(r.Context(), p)
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "manage_modal", manageData{
		Debt:      d,
		Accounts:  accounts,
		CanDelete: d.Settled(),
		Mode:      string(reconcile.Partial),
	})
}

// handleSubmitManage drives one reconciliation workflow from the modal form.
// Validation problems re-render the modal with the user's input kept.
func (s *Server) handleSubmitManage(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	d, resp := s.selectedDebt(r, p)
	if resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	form := manageData{
		Debt:      d,
		CanDelete: d.Settled(),
		Action:    r.Form.Get("action"),
		Mode:      r.Form.Get("mode"),
		Amount:    sanitizeInput(r.Form.Get("amount")),
		Link:      ParseCheckbox(r.Form.Get("linkAccount")),
		AccountID: r.Form.Get("accountId"),
	}

	wf, err := buildWorkflow(d, form)
	var out *reconcile.Outcome
	if err == nil {
		amount, perr := core.ParseAmount(form.Amount)
		if perr != nil {
			// Plan rejects a zero amount wherever one is needed.
			amount = decimal.Zero
		}
		out, err = s.executor.Submit(r.Context(), wf, p, amount)
	}

	switch {
	case err == nil:
		s.settledResponse(r, d, out).
			TriggerSuccessNotification(successMessage(out.Plan.Action)).
			Write(w)
	case errors.Is(err, reconcile.ErrSettlementPending):
		s.settledResponse(r, d, out).
			TriggerWarningNotification(reconcile.Message(err)).
			Write(w)
	case reconcile.IsValidation(err):
		form.Accounts, _ = s.accountOptions(r.Context(), p)
		form.Error = reconcile.Message(err)
		s.respond(w, r, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "manage_modal", form)
	default:
		failureResponse(err).Write(w)
	}
}

// buildWorkflow replays the modal's choices onto a fresh workflow.
func buildWorkflow(d core.DebtRecord, form manageData) (*reconcile.Workflow, error) {
	wf := reconcile.Begin(d)
	action, ok := reconcile.ParseAction(form.Action)
	if !ok {
		return nil, reconcile.ErrNoAction
	}
	mode, ok := reconcile.ParseRepayMode(form.Mode)
	if action == reconcile.ActionRepay && form.Mode != "" && !ok {
		return nil, reconcile.ErrUnknownMode
	}
	if err := wf.Choose(action, mode); err != nil {
		return nil, err
	}
	if form.Link {
		id, err := ParseOptionalID(form.AccountID)
		if err != nil || id == nil {
			return nil, reconcile.ErrInvalidAccount
		}
		if err := wf.LinkAccount(*id); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

// settledResponse closes the modal and swaps in the reloaded rows. When the
// reload failed the page is asked to refetch instead.
func (s *Server) settledResponse(r *http.Request, d core.DebtRecord, out *reconcile.Outcome) *HTMXResponseBuilder {
	p := principal(r)
	s.invalidate(p)
	b := NewHTMXResponse().TriggerModalClose()

	if out == nil || (out.Snapshot.Debts == nil && out.Snapshot.Accounts == nil) {
		return b.TriggerChanged(EventDebtsChanged, EventAccountsChanged)
	}
	s.accounts.Set(accountsKey(p), out.Snapshot.Accounts)

	rows := newDebtsData(out.Snapshot.Debts, d.Given)
	rows.OOB = true
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "debt_rows", rows); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", "debt_rows")
		return b.TriggerChanged(EventDebtsChanged, EventAccountsChanged)
	}
	return b.TriggerChanged(EventAccountsChanged).BodyHTML(body.String())
}

func successMessage(a reconcile.Action) string {
	switch a {
	case reconcile.ActionRepay:
		return "Repayment recorded"
	case reconcile.ActionIncrease:
		return "Amount added"
	case reconcile.ActionDelete:
		return "Record deleted"
	}
	return "Saved"
}
