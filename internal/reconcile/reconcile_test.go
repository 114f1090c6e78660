package reconcile

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/session"
)

type call struct {
	op        string
	record    core.DebtRecord
	id        int64
	accountID *int64
}

type fakeStore struct {
	mu        sync.Mutex
	calls     []call
	deleteErr []error
	updateErr error
	createErr error
	listErr   error
	nextID    int64
}

func (f *fakeStore) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeStore) ListDebts(context.Context, session.Principal) ([]core.DebtRecord, error) {
	f.record(call{op: "list-debts"})
	return []core.DebtRecord{}, f.listErr
}

func (f *fakeStore) ListAccounts(context.Context, session.Principal) ([]core.Account, error) {
	f.record(call{op: "list-accounts"})
	return []core.Account{}, nil
}

func (f *fakeStore) CreateDebt(_ context.Context, _ session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error) {
	f.record(call{op: "create", record: d, accountID: accountID})
	if f.createErr != nil {
		return core.DebtRecord{}, f.createErr
	}
	f.nextID++
	d.ID = 100 + f.nextID
	return d, nil
}

func (f *fakeStore) UpdateDebt(_ context.Context, _ session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error) {
	f.record(call{op: "update", record: d, id: d.ID, accountID: accountID})
	return d, f.updateErr
}

func (f *fakeStore) DeleteDebt(_ context.Context, _ session.Principal, id int64, accountID *int64) error {
	f.record(call{op: "delete", id: id, accountID: accountID})
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deleteErr) == 0 {
		return nil
	}
	err := f.deleteErr[0]
	f.deleteErr = f.deleteErr[1:]
	return err
}

// mutations drops the reload calls.
func (f *fakeStore) mutations() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == "update" || c.op == "delete" || c.op == "create" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) reloaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var debts, accounts bool
	for _, c := range f.calls {
		debts = debts || c.op == "list-debts"
		accounts = accounts || c.op == "list-accounts"
	}
	return debts && accounts
}

type fakeQueue struct {
	queued []core.DebtRecord
	err    error
}

func (q *fakeQueue) QueueSettlement(_ context.Context, _ session.Principal, d core.DebtRecord, _ error) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.queued = append(q.queued, d)
	return "settlement-1", nil
}

var principal = session.Principal{Email: "me@example.com", APIKey: "key"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func alex() core.DebtRecord {
	return core.DebtRecord{ID: 7, Person: "Alex", Amount: dec("500"), Given: false}
}

func newTestExecutor(store *fakeStore, opts ...ExecutorOption) *Executor {
	e := NewExecutor(store, opts...)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func TestWorkflow_Transitions(t *testing.T) {
	w := Begin(alex())
	if _, ok := w.State().(Idle); !ok {
		t.Fatalf("expected Idle, got %T", w.State())
	}
	if _, ok := w.LinkedAccount(); ok {
		t.Fatal("account must not be linked initially")
	}

	if err := w.SetMode(Full); !errors.Is(err, ErrNotRepaying) {
		t.Fatalf("SetMode outside repay: got %v", err)
	}
	if err := w.Repay(Partial); err != nil {
		t.Fatal(err)
	}
	if err := w.SetMode(Full); err != nil {
		t.Fatal(err)
	}
	if st, ok := w.State().(Repaying); !ok || st.Mode != Full {
		t.Fatalf("expected Repaying{Full}, got %#v", w.State())
	}
	if err := w.Increase(); err != nil {
		t.Fatal(err)
	}
	if w.State().Action() != ActionIncrease {
		t.Fatalf("action = %q", w.State().Action())
	}
	if err := w.Delete(); !errors.Is(err, ErrDeleteRequiresZero) {
		t.Fatalf("delete on open record: got %v", err)
	}

	if err := w.LinkAccount(3); err != nil {
		t.Fatal(err)
	}
	if err := w.LinkAccount(0); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("LinkAccount(0) = %v", err)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.State().(Idle); !ok {
		t.Fatalf("Cancel should return to Idle, got %T", w.State())
	}
	if _, ok := w.LinkedAccount(); ok {
		t.Fatal("Cancel should unlink the account")
	}
}

func TestWorkflow_Choose(t *testing.T) {
	w := Begin(alex())
	if err := w.Choose(ActionNone, ""); !errors.Is(err, ErrNoAction) {
		t.Fatalf("got %v", err)
	}
	if err := w.Choose(ActionRepay, ""); err != nil {
		t.Fatal(err)
	}
	if st := w.State().(Repaying); st.Mode != Partial {
		t.Fatalf("default mode = %q", st.Mode)
	}
	if err := w.Choose(ActionRepay, "everything"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("got %v", err)
	}
	if _, ok := ParseAction("increase"); !ok {
		t.Fatal("increase should parse")
	}
	if _, ok := ParseAction("settle"); ok {
		t.Fatal("settle should not parse")
	}
	if m, ok := ParseRepayMode("full"); !ok || m != Full {
		t.Fatal("full should parse")
	}
}

func TestSelect(t *testing.T) {
	debts := []core.DebtRecord{alex(), {ID: 2, Person: "Sam", Given: true}}
	w, err := Select(debts, 2)
	if err != nil {
		t.Fatal(err)
	}
	if w.Debt().Person != "Sam" || !w.CanDelete() {
		t.Fatalf("selected %+v", w.Debt())
	}
	if _, ok := w.State().(Idle); !ok {
		t.Fatalf("state = %T", w.State())
	}
	if _, err := Select(debts, 99); !errors.Is(err, ErrNoSelection) || !IsValidation(err) {
		t.Fatalf("missing record = %v", err)
	}
	if got := Message(ErrNoSelection); got != "This record no longer exists" {
		t.Fatalf("message = %q", got)
	}
}

func TestPlan_Idle(t *testing.T) {
	if _, err := Begin(alex()).Plan(dec("1")); !errors.Is(err, ErrNoAction) {
		t.Fatalf("got %v", err)
	}
}

func TestPlan_PartialRepay(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		wantErr    error
		wantAmount string
		wantDelete bool
	}{
		{name: "below balance", amount: "200", wantAmount: "300"},
		{name: "fraction", amount: "0.01", wantAmount: "499.99"},
		{name: "exact balance", amount: "500", wantAmount: "0", wantDelete: true},
		{name: "above balance", amount: "500.01", wantErr: ErrAmountExceedsBalance},
		{name: "zero", amount: "0", wantErr: ErrInvalidAmount},
		{name: "negative", amount: "-5", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Begin(alex())
			if err := w.Repay(Partial); err != nil {
				t.Fatal(err)
			}
			plan, err := w.Plan(dec(tt.amount))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if len(plan.Steps) != 0 {
					t.Fatalf("no steps expected on validation error, got %d", len(plan.Steps))
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			first := plan.Steps[0]
			if first.Kind != StepUpdate || first.Record.ID != 7 {
				t.Fatalf("first step = %+v", first)
			}
			if !first.Record.Amount.Equal(dec(tt.wantAmount)) {
				t.Errorf("amount = %s, want %s", first.Record.Amount, tt.wantAmount)
			}
			if first.Record.Given || first.Record.Person != "Alex" {
				t.Errorf("person/given changed: %+v", first.Record)
			}
			if got := len(plan.Steps) == 2; got != tt.wantDelete {
				t.Fatalf("delete step = %v, want %v", got, tt.wantDelete)
			}
			if tt.wantDelete && (plan.Steps[1].Kind != StepDelete || plan.Steps[1].Record.ID != 7) {
				t.Errorf("second step = %+v", plan.Steps[1])
			}
			if plan.Settles() != tt.wantDelete {
				t.Errorf("Settles() = %v", plan.Settles())
			}
		})
	}
}

func TestPlan_FullRepayAlwaysSettles(t *testing.T) {
	for _, amount := range []string{"500", "0", "12.34"} {
		d := alex()
		d.Amount = dec(amount)
		w := Begin(d)
		if err := w.Repay(Full); err != nil {
			t.Fatal(err)
		}
		plan, err := w.Plan(decimal.Zero)
		if err != nil {
			t.Fatalf("amount %s: %v", amount, err)
		}
		if !plan.Settles() {
			t.Fatalf("amount %s: expected update then delete, got %+v", amount, plan.Steps)
		}
		if !plan.Steps[0].Record.Amount.IsZero() {
			t.Errorf("amount %s: update carries %s", amount, plan.Steps[0].Record.Amount)
		}
	}
}

func TestPlan_LinkedAccountOnlyOnBalanceStep(t *testing.T) {
	w := Begin(alex())
	_ = w.Repay(Full)
	_ = w.LinkAccount(9)
	plan, err := w.Plan(decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Steps[0].AccountID == nil || *plan.Steps[0].AccountID != 9 {
		t.Errorf("update should carry account 9, got %v", plan.Steps[0].AccountID)
	}
	if plan.Steps[1].AccountID != nil {
		t.Errorf("settlement delete should not carry an account, got %d", *plan.Steps[1].AccountID)
	}
}

func TestPlan_Increase(t *testing.T) {
	d := core.DebtRecord{ID: 3, Person: "Sam", Amount: dec("80"), Given: true}
	w := Begin(d)
	_ = w.Increase()

	if _, err := w.Plan(decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero increase: %v", err)
	}
	_ = w.LinkAccount(2)
	plan, err := w.Plan(dec("25.5"))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepCreate {
		t.Fatalf("steps = %+v", plan.Steps)
	}
	got := plan.Steps[0].Record
	if got.ID != 0 || got.Person != "Sam" || !got.Given || !got.Amount.Equal(dec("25.5")) {
		t.Errorf("new line = %+v", got)
	}
	if *plan.Steps[0].AccountID != 2 {
		t.Errorf("account = %d", *plan.Steps[0].AccountID)
	}
	if !w.Debt().Amount.Equal(dec("80")) {
		t.Error("selected record must not change")
	}
}

func TestPlan_DeleteOnlyWhenSettled(t *testing.T) {
	sam := core.DebtRecord{ID: 4, Person: "Sam", Amount: decimal.Zero, Given: true}
	w := Begin(sam)
	if !w.CanDelete() {
		t.Fatal("zero record should be deletable")
	}
	if err := w.Delete(); err != nil {
		t.Fatal(err)
	}
	plan, err := w.Plan(decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != StepDelete || plan.Steps[0].Record.ID != 4 {
		t.Fatalf("steps = %+v", plan.Steps)
	}

	if _, err := PlanFor(alex(), Deleting{}, decimal.Zero, nil); !errors.Is(err, ErrDeleteRequiresZero) {
		t.Fatalf("forced delete on open record: %v", err)
	}
}

func TestExecutor_PartialRepay(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Repay(Partial)
	_ = w.LinkAccount(5)

	out, err := e.Submit(context.Background(), w, principal, dec("200"))
	if err != nil {
		t.Fatal(err)
	}
	calls := store.mutations()
	if len(calls) != 1 || calls[0].op != "update" {
		t.Fatalf("calls = %+v", calls)
	}
	if !calls[0].record.Amount.Equal(dec("300")) || *calls[0].accountID != 5 {
		t.Errorf("update = %+v", calls[0])
	}
	if !store.reloaded() {
		t.Error("expected reload of debts and accounts")
	}
	if out.Snapshot.Debts == nil || out.Snapshot.Accounts == nil {
		t.Error("snapshot should be populated")
	}
	if !w.Submitted() {
		t.Error("workflow should be submitted")
	}
	if _, err := e.Submit(context.Background(), w, principal, dec("1")); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second submit: %v", err)
	}
	if err := w.Repay(Full); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("transition after submit: %v", err)
	}
}

func TestExecutor_ValidationSendsNothing(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Repay(Partial)

	_, err := e.Submit(context.Background(), w, principal, dec("600"))
	if !errors.Is(err, ErrAmountExceedsBalance) {
		t.Fatalf("err = %v", err)
	}
	if Message(err) != "Amount exceeds balance" {
		t.Errorf("message = %q", Message(err))
	}
	if !IsValidation(err) {
		t.Error("should be a validation error")
	}
	if len(store.calls) != 0 {
		t.Fatalf("no request expected, got %+v", store.calls)
	}
	if w.Submitted() {
		t.Error("workflow should stay open after a validation error")
	}
}

func TestExecutor_FullRepayUpdatesThenDeletes(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Repay(Full)

	if _, err := e.Submit(context.Background(), w, principal, decimal.Zero); err != nil {
		t.Fatal(err)
	}
	calls := store.mutations()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].op != "update" || !calls[0].record.Amount.IsZero() {
		t.Errorf("first = %+v", calls[0])
	}
	if calls[1].op != "delete" || calls[1].id != 7 {
		t.Errorf("second = %+v", calls[1])
	}
}

func TestExecutor_IncreaseCreatesOneRecord(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Increase()

	out, err := e.Submit(context.Background(), w, principal, dec("50"))
	if err != nil {
		t.Fatal(err)
	}
	calls := store.mutations()
	if len(calls) != 1 || calls[0].op != "create" {
		t.Fatalf("calls = %+v", calls)
	}
	if out.Created == nil || out.Created.Person != "Alex" || out.Created.Given {
		t.Errorf("created = %+v", out.Created)
	}
}

func TestExecutor_DeleteCarriesLinkedAccount(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store)
	w := Begin(core.DebtRecord{ID: 4, Person: "Sam", Given: true})
	_ = w.Delete()
	_ = w.LinkAccount(8)

	if _, err := e.Submit(context.Background(), w, principal, decimal.Zero); err != nil {
		t.Fatal(err)
	}
	calls := store.mutations()
	if len(calls) != 1 || calls[0].op != "delete" || calls[0].id != 4 || *calls[0].accountID != 8 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExecutor_FirstStepFailureSkipsReload(t *testing.T) {
	store := &fakeStore{updateErr: &gateway.APIError{Status: http.StatusBadRequest, Message: "Debt not found"}}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Repay(Full)

	_, err := e.Submit(context.Background(), w, principal, decimal.Zero)
	if err == nil || gateway.Message(err) != "Debt not found" {
		t.Fatalf("err = %v", err)
	}
	if calls := store.mutations(); len(calls) != 1 {
		t.Fatalf("delete must not follow a failed update: %+v", calls)
	}
	if store.reloaded() {
		t.Error("failed submission should not reload")
	}
}

func TestExecutor_SettlementRetriesRemoval(t *testing.T) {
	boom := &gateway.APIError{Status: http.StatusBadGateway, Message: "bad gateway"}
	store := &fakeStore{deleteErr: []error{boom, boom}}
	e := newTestExecutor(store, WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Millisecond}))
	w := Begin(alex())
	_ = w.Repay(Full)

	if _, err := e.Submit(context.Background(), w, principal, decimal.Zero); err != nil {
		t.Fatal(err)
	}
	var deletes int
	for _, c := range store.mutations() {
		if c.op == "delete" {
			deletes++
		}
	}
	if deletes != 3 {
		t.Fatalf("deletes = %d, want 3", deletes)
	}
}

func TestExecutor_SettlementMissingRecordCountsAsRemoved(t *testing.T) {
	store := &fakeStore{deleteErr: []error{&gateway.APIError{Status: http.StatusNotFound, Message: "gone"}}}
	e := newTestExecutor(store)
	w := Begin(alex())
	_ = w.Repay(Full)

	if _, err := e.Submit(context.Background(), w, principal, decimal.Zero); err != nil {
		t.Fatalf("404 on removal should succeed: %v", err)
	}
}

func TestExecutor_SettlementQueuedForRepair(t *testing.T) {
	boom := errors.New("connection reset")
	store := &fakeStore{deleteErr: []error{boom, boom, boom}}
	queue := &fakeQueue{}
	e := newTestExecutor(store, WithRepairQueue(queue), WithRetryPolicy(RetryPolicy{Attempts: 3}))
	w := Begin(alex())
	_ = w.Repay(Full)

	out, err := e.Submit(context.Background(), w, principal, decimal.Zero)
	if !errors.Is(err, ErrSettlementPending) {
		t.Fatalf("err = %v", err)
	}
	if out == nil || out.PendingID != "settlement-1" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(queue.queued) != 1 || queue.queued[0].ID != 7 || !queue.queued[0].Amount.IsZero() {
		t.Fatalf("queued = %+v", queue.queued)
	}
	if !store.reloaded() {
		t.Error("pending settlement should still reload")
	}
}

func TestExecutor_SettlementQueueFailure(t *testing.T) {
	store := &fakeStore{deleteErr: []error{errors.New("down")}}
	queue := &fakeQueue{err: errors.New("disk full")}
	e := newTestExecutor(store, WithRepairQueue(queue), WithRetryPolicy(RetryPolicy{Attempts: 1}))
	w := Begin(alex())
	_ = w.Repay(Full)

	out, err := e.Submit(context.Background(), w, principal, decimal.Zero)
	if !errors.Is(err, ErrSettlementPending) {
		t.Fatalf("err = %v", err)
	}
	if out.PendingID != "" {
		t.Errorf("pending id = %q", out.PendingID)
	}
}

func TestExecutor_ReloadError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("timeout")}
	e := newTestExecutor(store)
	if _, err := e.Reload(context.Background(), principal); err == nil {
		t.Fatal("expected reload error")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(ErrInvalidAccount); got != "Invalid account" {
		t.Errorf("Message = %q", got)
	}
	if got := Message(ErrSettlementPending); got == "" {
		t.Error("pending message should not be empty")
	}
}
