package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/session"
)

// Accounts

func (c *Client) ListAccounts(ctx context.Context, p session.Principal) ([]core.Account, error) {
	var out []core.Account
	err := c.Do(ctx, p, Request{Collection: Accounts, Method: http.MethodGet, Path: "/accounts"}, &out)
	return out, err
}

func (c *Client) GetAccount(ctx context.Context, p session.Principal, id int64) (core.Account, error) {
	var out core.Account
	err := c.Do(ctx, p, Request{Collection: Accounts, Method: http.MethodGet, Path: itemPath(Accounts, id)}, &out)
	return out, err
}

func (c *Client) CreateAccount(ctx context.Context, p session.Principal, a core.Account) (core.Account, error) {
	var out core.Account
	a.ID = 0
	err := c.Do(ctx, p, Request{Collection: Accounts, Method: http.MethodPost, Path: "/accounts", Body: a}, &out)
	return out, err
}

func (c *Client) UpdateAccount(ctx context.Context, p session.Principal, a core.Account) (core.Account, error) {
	var out core.Account
	err := c.Do(ctx, p, Request{Collection: Accounts, Method: http.MethodPut, Path: itemPath(Accounts, a.ID), Body: a}, &out)
	return out, err
}

func (c *Client) DeleteAccount(ctx context.Context, p session.Principal, id int64) error {
	var msg string
	return c.Do(ctx, p, Request{Collection: Accounts, Method: http.MethodDelete, Path: itemPath(Accounts, id)}, &msg)
}

// Budgets

func (c *Client) ListBudgets(ctx context.Context, p session.Principal) ([]core.Budget, error) {
	var out []core.Budget
	err := c.Do(ctx, p, Request{Collection: Budgets, Method: http.MethodGet, Path: "/budgets"}, &out)
	return out, err
}

func (c *Client) CreateBudget(ctx context.Context, p session.Principal, b core.Budget) (core.Budget, error) {
	var out core.Budget
	b.ID = 0
	err := c.Do(ctx, p, Request{Collection: Budgets, Method: http.MethodPost, Path: "/budgets", Body: b}, &out)
	return out, err
}

func (c *Client) UpdateBudget(ctx context.Context, p session.Principal, b core.Budget) (core.Budget, error) {
	var out core.Budget
	err := c.Do(ctx, p, Request{Collection: Budgets, Method: http.MethodPut, Path: itemPath(Budgets, b.ID), Body: b}, &out)
	return out, err
}

// CloseBudget removes the budget; with accountID its remaining amount is
// credited to that account.
func (c *Client) CloseBudget(ctx context.Context, p session.Principal, id int64, accountID *int64) error {
	return c.Do(ctx, p, Request{
		Collection: Budgets,
		Method:     http.MethodPost,
		Path:       "/budgets/close/" + strconv.FormatInt(id, 10),
		Query:      idQuery("addRemainingToAccount", accountID != nil, "accountId", accountID),
	}, nil)
}

// Investments

func (c *Client) ListInvestments(ctx context.Context, p session.Principal) ([]core.Investment, error) {
	var out []core.Investment
	err := c.Do(ctx, p, Request{Collection: Investments, Method: http.MethodGet, Path: "/investments"}, &out)
	return out, err
}

func (c *Client) CreateInvestment(ctx context.Context, p session.Principal, inv core.Investment) (core.Investment, error) {
	var out core.Investment
	inv.ID = 0
	err := c.Do(ctx, p, Request{Collection: Investments, Method: http.MethodPost, Path: "/investments", Body: inv}, &out)
	return out, err
}

// InvestmentChange adjusts an investment's value. A positive Amount adds
// funds, a negative one withdraws. AddToAccount moves the difference through
// AccountID.
type InvestmentChange struct {
	Amount       decimal.Decimal
	AccountID    *int64
	BudgetID     *int64
	AddToAccount bool
}

func (c *Client) UpdateInvestment(ctx context.Context, p session.Principal, id int64, ch InvestmentChange) (core.Investment, error) {
	var out core.Investment
	q := idQuery("addToAccount", ch.AddToAccount, "accountId", ch.AccountID, "budgetId", ch.BudgetID)
	q.Set("changeAmount", ch.Amount.String())
	err := c.Do(ctx, p, Request{
		Collection: Investments,
		Method:     http.MethodPut,
		Path:       itemPath(Investments, id),
		Query:      q,
	}, &out)
	return out, err
}

// CloseInvestment deletes it; addToAccount returns its value to the linked
// account.
func (c *Client) CloseInvestment(ctx context.Context, p session.Principal, id int64, addToAccount bool) error {
	return c.Do(ctx, p, Request{
		Collection: Investments,
		Method:     http.MethodDelete,
		Path:       itemPath(Investments, id),
		Query:      idQuery("addToAccount", addToAccount),
	}, nil)
}

// Credits

func (c *Client) ListCredits(ctx context.Context, p session.Principal) ([]core.Credit, error) {
	var out []core.Credit
	err := c.Do(ctx, p, Request{Collection: Credits, Method: http.MethodGet, Path: "/credits"}, &out)
	return out, err
}

func (c *Client) GetCredit(ctx context.Context, p session.Principal, id int64) (core.Credit, error) {
	var out core.Credit
	err := c.Do(ctx, p, Request{Collection: Credits, Method: http.MethodGet, Path: itemPath(Credits, id)}, &out)
	return out, err
}

// CreateCredit records income into accountID.
func (c *Client) CreateCredit(ctx context.Context, p session.Principal, accountID int64, cr core.Credit) (core.Credit, error) {
	var out core.Credit
	cr.ID = 0
	err := c.Do(ctx, p, Request{Collection: Credits, Method: http.MethodPost, Path: itemPath(Credits, accountID), Body: cr}, &out)
	return out, err
}

func (c *Client) DeleteCredit(ctx context.Context, p session.Principal, id int64) error {
	return c.Do(ctx, p, Request{Collection: Credits, Method: http.MethodDelete, Path: itemPath(Credits, id)}, nil)
}

// Users

func (c *Client) ListUsers(ctx context.Context, p session.Principal) ([]core.UserProfile, error) {
	var out []core.UserProfile
	err := c.Do(ctx, p, Request{Collection: Users, Method: http.MethodGet, Path: "/users"}, &out)
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, p session.Principal, u core.UserProfile) (core.UserProfile, error) {
	var out core.UserProfile
	err := c.Do(ctx, p, Request{Collection: Users, Method: http.MethodPut, Path: itemPath(Users, u.ID), Body: u}, &out)
	return out, err
}

func (c *Client) DeleteUser(ctx context.Context, p session.Principal, id int64) error {
	return c.Do(ctx, p, Request{Collection: Users, Method: http.MethodDelete, Path: itemPath(Users, id)}, nil)
}
