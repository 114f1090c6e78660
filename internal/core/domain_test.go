package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDebtRecordValidate(t *testing.T) {
	good := DebtRecord{Person: "Alex", Amount: dec("500")}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	zero := DebtRecord{Person: "Sam", Amount: decimal.Zero, Given: true}
	if err := zero.Validate(); err != nil {
		t.Fatalf("zero amount must be valid, got %v", err)
	}

	bads := []DebtRecord{
		{Person: "", Amount: dec("1")},
		{Person: "   ", Amount: dec("1")},
		{Person: "Alex", Amount: dec("-1")},
		{Person: strings.Repeat("x", 101), Amount: dec("1")},
	}
	for i, d := range bads {
		err := d.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d expected ValidationError, got %T", i, err)
		}
	}
}

func TestDebtRecordJSONUsesBareNumbers(t *testing.T) {
	b, err := json.Marshal(DebtRecord{ID: 7, Person: "Alex", Amount: dec("300.5"), Given: false})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":7,"person":"Alex","amount":300.5,"given":false}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}

	var d DebtRecord
	if err := json.Unmarshal([]byte(`{"id":3,"person":"Sam","amount":0,"given":true}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.ID != 3 || !d.Settled() || !d.Given || d.Direction() != "Lent" {
		t.Fatalf("unexpected record %+v", d)
	}
}

func TestFilterAndFindDebts(t *testing.T) {
	debts := []DebtRecord{
		{ID: 1, Person: "Alex", Amount: dec("500")},
		{ID: 2, Person: "Sam", Amount: dec("0"), Given: true},
		{ID: 3, Person: "Kim", Amount: dec("20"), Given: true},
	}
	if got := FilterDebts(debts, true); len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("lent filter returned %+v", got)
	}
	if got := FilterDebts(debts, false); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("borrowed filter returned %+v", got)
	}
	if d, ok := FindDebt(debts, 3); !ok || d.Person != "Kim" {
		t.Fatalf("FindDebt(3) = %+v, %v", d, ok)
	}
	if _, ok := FindDebt(debts, 9); ok {
		t.Fatalf("FindDebt(9) should miss")
	}
}

func TestTypeLabels(t *testing.T) {
	if got := CreditCard.Label(); got != "Credit Card" {
		t.Fatalf("CreditCard.Label() = %q", got)
	}
	if got := RealEstate.Label(); got != "Real Estate" {
		t.Fatalf("RealEstate.Label() = %q", got)
	}
	if got := PPF.Label(); got != "PPF" {
		t.Fatalf("PPF.Label() = %q", got)
	}
	if AccountType("WALLET").IsValid() {
		t.Fatalf("WALLET is not a backend account type")
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		confirm  string
		want     error
	}{
		{"ok", "secret123", "secret123", nil},
		{"too short", "abc123", "abc123", ErrWeakPassword},
		{"too long", "abcdefghij1234567", "abcdefghij1234567", ErrWeakPassword},
		{"no digit", "abcdefghij", "abcdefghij", ErrWeakPassword},
		{"no letter", "12345678", "12345678", ErrWeakPassword},
		{"mismatch", "secret123", "secret124", ErrPasswordMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password, tc.confirm)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	accounts := []Account{
		{ID: 1, AccountName: "HDFC", Type: Savings, Balance: dec("10000")},
		{ID: 2, AccountName: "Wallet", Type: Cash, Balance: dec("500")},
		{ID: 3, AccountName: "ICICI", Type: Savings, Balance: dec("2000")},
	}
	budgets := []Budget{{ID: 1, Name: "Food", Amount: dec("3000")}}
	investments := []Investment{{ID: 1, Name: "Index", Type: MutualFunds, Value: dec("4000")}}
	debts := []DebtRecord{
		{ID: 1, Person: "Alex", Amount: dec("500")},
		{ID: 2, Person: "Sam", Amount: dec("250"), Given: true},
	}

	s := Summarize(accounts, budgets, investments, debts)
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"balance", s.TotalBalance, "12500"},
		{"budget", s.TotalBudget, "3000"},
		{"investments", s.TotalInvestments, "4000"},
		{"debt", s.TotalDebt, "500"},
		{"lent", s.TotalLent, "250"},
		{"net worth", s.NetWorth, "16250"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	if len(s.Allocation) != 3 {
		t.Fatalf("expected 3 allocation slices, got %+v", s.Allocation)
	}
	if s.Allocation[0].Name != "Savings" || !s.Allocation[0].Amount.Equal(dec("12000")) {
		t.Fatalf("largest slice should be Savings 12000, got %+v", s.Allocation[0])
	}
	if s.Allocation[1].Name != "Investments" {
		t.Fatalf("second slice should be Investments, got %+v", s.Allocation[1])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil, nil, nil)
	if !s.NetWorth.IsZero() || len(s.Allocation) != 0 {
		t.Fatalf("expected empty summary, got %+v", s)
	}
}
