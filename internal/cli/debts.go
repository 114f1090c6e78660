package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/reconcile"
)

func (a *App) debtsCmd() *cobra.Command {
	debts := &cobra.Command{Use: "debts", Short: "Money you borrowed or lent"}
	debts.AddCommand(a.debtsListCmd(), a.debtsAddCmd())
	debts.AddCommand(a.manageCmd(reconcile.ActionRepay), a.manageCmd(reconcile.ActionIncrease), a.manageCmd(reconcile.ActionDelete))
	return debts
}

func (a *App) debtsListCmd() *cobra.Command {
	var lent bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List borrowed records, or lent ones with --lent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			all, err := a.API.ListDebts(cmd.Context(), p)
			if err != nil {
				return err
			}
			printDebts(a.Out, core.FilterDebts(all, lent))
			return nil
		},
	}
	cmd.Flags().BoolVar(&lent, "lent", false, "show money others owe you")
	return cmd
}

func (a *App) debtsAddCmd() *cobra.Command {
	var (
		person, amount string
		lent           bool
		account        int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new debt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			amt, err := core.ParseAmount(amount)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			d := core.DebtRecord{Person: person, Amount: amt, Given: lent}
			if err := d.Validate(); err != nil {
				return err
			}
			created, err := a.API.CreateDebt(cmd.Context(), p, d, optionalAccount(account))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Added %s record #%d for %s: %s\n",
				created.Direction(), created.ID, created.Person, core.FormatAmount(created.Amount))
			return nil
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "who the money is owed to or by")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 1500 or 1500,50")
	cmd.Flags().BoolVar(&lent, "lent", false, "you lent the money")
	cmd.Flags().Int64Var(&account, "account", 0, "account the money moved through")
	return cmd
}

// manageCmd drives one reconciliation workflow per invocation.
func (a *App) manageCmd(action reconcile.Action) *cobra.Command {
	var (
		amount  string
		full    bool
		account int64
	)
	cmd := &cobra.Command{
		Use:  string(action) + " <id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			p, err := a.principal()
			if err != nil {
				return err
			}
			debts, err := a.API.ListDebts(cmd.Context(), p)
			if err != nil {
				return err
			}
			w, err := reconcile.Select(debts, id)
			if err != nil {
				return err
			}
			d := w.Debt()
			mode := reconcile.Partial
			if full {
				mode = reconcile.Full
			}
			if err := w.Choose(action, mode); err != nil {
				return err
			}
			if account != 0 {
				if err := w.LinkAccount(account); err != nil {
					return err
				}
			}

			amt := decimal.Zero
			if amount != "" {
				if amt, err = core.ParseAmount(amount); err != nil {
					return fmt.Errorf("amount: %w", err)
				}
			}

			out, err := a.Executor.Submit(cmd.Context(), w, p, amt)
			switch {
			case errors.Is(err, reconcile.ErrSettlementPending):
				fmt.Fprintln(a.Out, reconcile.Message(err))
			case err != nil:
				return err
			default:
				fmt.Fprintln(a.Out, resultLine(out, d))
			}
			if out != nil && len(out.Snapshot.Debts) > 0 {
				printDebts(a.Out, core.FilterDebts(out.Snapshot.Debts, d.Given))
			}
			return nil
		},
	}
	switch action {
	case reconcile.ActionRepay:
		cmd.Short = "Record a partial or full repayment"
		cmd.Flags().StringVar(&amount, "amount", "", "amount repaid")
		cmd.Flags().BoolVar(&full, "full", false, "settle the whole balance")
		cmd.MarkFlagsMutuallyExclusive("amount", "full")
	case reconcile.ActionIncrease:
		cmd.Short = "Add to the balance of a record"
		cmd.Flags().StringVar(&amount, "amount", "", "amount to add")
	case reconcile.ActionDelete:
		cmd.Short = "Delete a settled record"
	}
	cmd.Flags().Int64Var(&account, "account", 0, "account the money moved through")
	return cmd
}

// resultLine describes a finished submission. An increase leaves the selected
// record alone and reports the record it created.
func resultLine(out *reconcile.Outcome, d core.DebtRecord) string {
	plan := out.Plan
	switch {
	case plan.Action == reconcile.ActionDelete:
		return fmt.Sprintf("Deleted record #%d (%s)", d.ID, d.Person)
	case plan.Settles():
		return fmt.Sprintf("Settled record #%d (%s)", d.ID, d.Person)
	case plan.Action == reconcile.ActionIncrease && out.Created != nil:
		return fmt.Sprintf("Added new record #%d for %s", out.Created.ID, out.Created.Person)
	case plan.Action == reconcile.ActionIncrease:
		return fmt.Sprintf("Added new record for %s", d.Person)
	}
	return fmt.Sprintf("Repayment recorded for #%d (%s)", d.ID, d.Person)
}

func printDebts(w io.Writer, debts []core.DebtRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPERSON\tAMOUNT")
	for _, d := range debts {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", d.ID, d.Person, core.FormatAmount(d.Amount))
	}
	fmt.Fprintf(tw, "\tTotal\t%s\n", core.FormatAmount(core.Sum(debts, func(d core.DebtRecord) decimal.Decimal { return d.Amount })))
	tw.Flush()
}

func optionalAccount(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
