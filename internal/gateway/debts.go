package gateway

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/session"
)

type debtCreate struct {
	Person string          `json:"person"`
	Amount decimal.Decimal `json:"amount"`
	Given  bool            `json:"given"`
}

func (c *Client) ListDebts(ctx context.Context, p session.Principal) ([]core.DebtRecord, error) {
	var out []core.DebtRecord
	err := c.Do(ctx, p, Request{Collection: Debts, Method: http.MethodGet, Path: "/debts"}, &out)
	return out, err
}

// CreateDebt adds a ledger line. With accountID the backend moves money on
// that account: borrowing deposits into it, lending withdraws from it.
func (c *Client) CreateDebt(ctx context.Context, p session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error) {
	var out core.DebtRecord
	err := c.Do(ctx, p, Request{
		Collection: Debts,
		Method:     http.MethodPost,
		Path:       "/debts",
		Query:      idQuery("accountId", accountID),
		Body:       debtCreate{Person: d.Person, Amount: d.Amount, Given: d.Given},
	}, &out)
	return out, err
}

// UpdateDebt sends the full record. With accountID the backend applies the
// amount difference to that account.
func (c *Client) UpdateDebt(ctx context.Context, p session.Principal, d core.DebtRecord, accountID *int64) (core.DebtRecord, error) {
	var out core.DebtRecord
	err := c.Do(ctx, p, Request{
		Collection: Debts,
		Method:     http.MethodPut,
		Path:       itemPath(Debts, d.ID),
		Query:      idQuery("accountId", accountID),
		Body:       d,
	}, &out)
	return out, err
}

func (c *Client) DeleteDebt(ctx context.Context, p session.Principal, id int64, accountID *int64) error {
	return c.Do(ctx, p, Request{
		Collection: Debts,
		Method:     http.MethodDelete,
		Path:       itemPath(Debts, id),
		Query:      idQuery("accountId", accountID),
	}, nil)
}
