package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AllocationSlice is the share of money held in one bucket.
type AllocationSlice struct {
	Name   string
	Amount decimal.Decimal
}

// Summary is the dashboard overview across every collection.
type Summary struct {
	TotalBalance     decimal.Decimal
	TotalBudget      decimal.Decimal
	TotalInvestments decimal.Decimal
	TotalDebt        decimal.Decimal // borrowed, still owed by the user
	TotalLent        decimal.Decimal // lent, still owed to the user
	NetWorth         decimal.Decimal
	Allocation       []AllocationSlice
}

// Summarize folds the collections into dashboard totals.
func Summarize(accounts []Account, budgets []Budget, investments []Investment, debts []DebtRecord) Summary {
	s := Summary{
		TotalBalance:     Sum(accounts, func(a Account) decimal.Decimal { return a.Balance }),
		TotalBudget:      Sum(budgets, func(b Budget) decimal.Decimal { return b.Amount }),
		TotalInvestments: Sum(investments, func(i Investment) decimal.Decimal { return i.Value }),
		TotalDebt:        Sum(FilterDebts(debts, false), func(d DebtRecord) decimal.Decimal { return d.Amount }),
		TotalLent:        Sum(FilterDebts(debts, true), func(d DebtRecord) decimal.Decimal { return d.Amount }),
	}
	s.NetWorth = s.TotalBalance.Add(s.TotalInvestments).Add(s.TotalLent).Sub(s.TotalDebt)

	byType := make(map[string]decimal.Decimal)
	for _, a := range accounts {
		name := a.Type.Label()
		byType[name] = byType[name].Add(a.Balance)
	}
	if s.TotalInvestments.IsPositive() {
		byType["Investments"] = byType["Investments"].Add(s.TotalInvestments)
	}
	for name, amount := range byType {
		s.Allocation = append(s.Allocation, AllocationSlice{Name: name, Amount: amount})
	}
	sort.Slice(s.Allocation, func(i, j int) bool {
		if !s.Allocation[i].Amount.Equal(s.Allocation[j].Amount) {
			return s.Allocation[i].Amount.GreaterThan(s.Allocation[j].Amount)
		}
		return s.Allocation[i].Name < s.Allocation[j].Name
	})
	return s
}
