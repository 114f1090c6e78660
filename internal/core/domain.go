package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// The backend speaks BigDecimal as bare JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	Checking   AccountType = "CHECKING"
	Savings    AccountType = "SAVINGS"
	CreditCard AccountType = "CREDIT_CARD"
	Cash       AccountType = "CASH"
	Brokerage  AccountType = "INVESTMENT"
)

const (
	MutualFunds InvestmentType = "MUTUAL_FUNDS"
	Stocks      InvestmentType = "STOCKS"
	FixedDep    InvestmentType = "FD"
	RecurDep    InvestmentType = "RD"
	PPF         InvestmentType = "PPF"
	NPS         InvestmentType = "NPS"
	Gold        InvestmentType = "GOLD"
	RealEstate  InvestmentType = "REAL_ESTATE"
	Crypto      InvestmentType = "CRYPTO"
	DebtFunds   InvestmentType = "DEBT_FUNDS"
	OtherInvest InvestmentType = "OTHER"
)

type (
	AccountType    string
	InvestmentType string

	// DebtRecord is one ledger line. Given=false means the user owes Person,
	// Given=true means Person owes the user.
	DebtRecord struct {
		ID     int64           `json:"id,omitempty"`
		Person string          `json:"person"`
		Amount decimal.Decimal `json:"amount"`
		Given  bool            `json:"given"`
	}

	Account struct {
		ID          int64           `json:"id,omitempty"`
		AccountName string          `json:"accountName"`
		Type        AccountType     `json:"type"`
		Balance     decimal.Decimal `json:"balance"`
	}

	Budget struct {
		ID     int64           `json:"id,omitempty"`
		Name   string          `json:"name"`
		Amount decimal.Decimal `json:"amount"`
	}

	Investment struct {
		ID                  int64           `json:"id,omitempty"`
		Name                string          `json:"name"`
		Type                InvestmentType  `json:"type"`
		Value               decimal.Decimal `json:"value"`
		AccountID           *int64          `json:"accountId"`
		BudgetID            *int64          `json:"budgetId"`
		AddToAccountOnClose bool            `json:"addToAccountOnClose"`
	}

	Credit struct {
		ID        int64           `json:"id,omitempty"`
		Source    string          `json:"source"`
		Amount    decimal.Decimal `json:"amount"`
		Note      string          `json:"note"`
		RepayDebt bool            `json:"repayDebt"`
	}

	UserProfile struct {
		ID        int64  `json:"id,omitempty"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrEmptyPerson      = errors.New("person is required")
	ErrEmptyName        = errors.New("name is required")
	ErrEmptySource      = errors.New("source is required")
	ErrInvalidType      = errors.New("invalid type")
	ErrEmptyEmail       = errors.New("email is required")
	ErrWeakPassword     = errors.New("password must be 8-16 characters with at least one letter and one number")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// ValidationError ties a validation failure to the form field that caused it.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

var accountTypes = []AccountType{Checking, Savings, CreditCard, Cash, Brokerage}

// AccountTypes lists the account types offered by the backend, in display order.
func AccountTypes() []AccountType {
	out := make([]AccountType, len(accountTypes))
	copy(out, accountTypes)
	return out
}

func (t AccountType) IsValid() bool {
	for _, v := range accountTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Label renders the type for humans: CREDIT_CARD -> Credit Card.
func (t AccountType) Label() string {
	return labelize(string(t))
}

var investmentTypes = []InvestmentType{
	MutualFunds, Stocks, FixedDep, RecurDep, PPF, NPS, Gold, RealEstate, Crypto, DebtFunds, OtherInvest,
}

func InvestmentTypes() []InvestmentType {
	out := make([]InvestmentType, len(investmentTypes))
	copy(out, investmentTypes)
	return out
}

func (t InvestmentType) IsValid() bool {
	for _, v := range investmentTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (t InvestmentType) Label() string {
	switch t {
	case FixedDep, RecurDep, PPF, NPS:
		return string(t)
	}
	return labelize(string(t))
}

func labelize(s string) string {
	if s == "" {
		return "Other"
	}
	words := strings.Split(strings.ToLower(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Direction returns the human name of the side of the ledger the record sits on.
func (d DebtRecord) Direction() string {
	if d.Given {
		return "Lent"
	}
	return "Borrowed"
}

// Settled reports whether nothing is left to repay or collect.
func (d DebtRecord) Settled() bool {
	return d.Amount.IsZero()
}

func (d DebtRecord) Validate() error {
	if strings.TrimSpace(d.Person) == "" {
		return invalid("person", ErrEmptyPerson)
	}
	if len(d.Person) > 100 {
		return invalid("person", errors.New("too long (max 100 characters)"))
	}
	if d.Amount.IsNegative() {
		return invalid("amount", ErrNegativeAmount)
	}
	return nil
}

// FilterDebts keeps the records on the requested side of the ledger.
func FilterDebts(debts []DebtRecord, given bool) []DebtRecord {
	out := make([]DebtRecord, 0, len(debts))
	for _, d := range debts {
		if d.Given == given {
			out = append(out, d)
		}
	}
	return out
}

// FindDebt returns the record with the given id.
func FindDebt(debts []DebtRecord, id int64) (DebtRecord, bool) {
	for _, d := range debts {
		if d.ID == id {
			return d, true
		}
	}
	return DebtRecord{}, false
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.AccountName) == "" {
		return invalid("accountName", ErrEmptyName)
	}
	if !a.Type.IsValid() {
		return invalid("type", ErrInvalidType)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if !b.Amount.IsPositive() {
		return invalid("amount", ErrInvalidAmount)
	}
	return nil
}

func (i Investment) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if !i.Type.IsValid() {
		return invalid("type", ErrInvalidType)
	}
	if !i.Value.IsPositive() {
		return invalid("value", ErrInvalidAmount)
	}
	return nil
}

func (c Credit) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return invalid("source", ErrEmptySource)
	}
	if !c.Amount.IsPositive() {
		return invalid("amount", ErrInvalidAmount)
	}
	return nil
}

// FullName joins first and last name, falling back to the email.
func (u UserProfile) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// ValidatePassword applies the password policy shared by registration,
// reset and change: 8-16 characters with at least one letter and one digit.
func ValidatePassword(password, confirm string) error {
	n := len([]rune(password))
	var letter, digit bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	if n < 8 || n > 16 || !letter || !digit {
		return invalid("password", ErrWeakPassword)
	}
	if password != confirm {
		return invalid("confirmPassword", ErrPasswordMismatch)
	}
	return nil
}
