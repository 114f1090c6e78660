package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/reconcile"
	"ledger/internal/session"
	"ledger/internal/sheets"
)

// API is the slice of the ledger API the command-line client uses.
type API interface {
	reconcile.DebtStore
	sheets.Source
}

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (session.Principal, error)
}

// App carries the dependencies of every ledgerctl command.
type App struct {
	API      API
	Auth     Authenticator
	Sessions *session.FileStore
	Executor *reconcile.Executor
	// NewExporter is called only by export commands so the other commands
	// run without Google settings.
	NewExporter func(ctx context.Context) (sheets.Exporter, error)

	In  io.Reader
	Out io.Writer
	Now func() time.Time
}

var ErrNotLoggedIn = errors.New("not logged in, run 'ledgerctl login' first")

// Root builds the ledgerctl command tree.
func (a *App) Root() *cobra.Command {
	if a.Now == nil {
		a.Now = time.Now
	}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Manage your ledger from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.Out)
	root.SetIn(a.In)

	root.AddCommand(a.loginCmd(), a.logoutCmd(), a.whoamiCmd())
	root.AddCommand(a.debtsCmd(), a.accountsCmd(), a.summaryCmd(), a.exportCmd())
	return root
}

// Execute runs args and formats API errors the way the web front end does.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.Root()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &apiErr):
		return errors.New(gateway.Message(err))
	case reconcile.IsValidation(err):
		return errors.New(reconcile.Message(err))
	}
	return err
}

func (a *App) principal() (session.Principal, error) {
	p, err := a.Sessions.Load()
	if errors.Is(err, session.ErrNoPrincipal) {
		return p, ErrNotLoggedIn
	}
	return p, err
}

func (a *App) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				fmt.Fprint(a.Out, "Password: ")
				line, err := bufio.NewReader(a.In).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
				fmt.Fprintln(a.Out)
			}
			p, err := a.Auth.Authenticate(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.Sessions.Save(p); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Logged in as %s\n", p.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when omitted)")
	return cmd
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.Sessions.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, "Logged out")
			return nil
		},
	}
}

func (a *App) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			if name := p.DisplayName(); name != p.Email {
				fmt.Fprintf(a.Out, "%s <%s>\n", name, p.Email)
			} else {
				fmt.Fprintln(a.Out, p.Email)
			}
			return nil
		},
	}
}

func (a *App) accountsCmd() *cobra.Command {
	accounts := &cobra.Command{Use: "accounts", Short: "Bank and cash accounts"}
	accounts.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			list, err := a.API.ListAccounts(cmd.Context(), p)
			if err != nil {
				return err
			}
			printAccounts(a.Out, list)
			return nil
		},
	})
	return accounts
}

func (a *App) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show totals across every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			snap, err := sheets.Collect(cmd.Context(), a.API, p, a.Now())
			if err != nil {
				return err
			}
			s := core.Summarize(snap.Accounts, snap.Budgets, snap.Investments, snap.Debts)
			tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Account balance\t%s\n", core.FormatAmount(s.TotalBalance))
			fmt.Fprintf(tw, "Budgets\t%s\n", core.FormatAmount(s.TotalBudget))
			fmt.Fprintf(tw, "Investments\t%s\n", core.FormatAmount(s.TotalInvestments))
			fmt.Fprintf(tw, "Borrowed\t%s\n", core.FormatAmount(s.TotalDebt))
			fmt.Fprintf(tw, "Lent\t%s\n", core.FormatAmount(s.TotalLent))
			fmt.Fprintf(tw, "Net worth\t%s\n", core.FormatAmount(s.NetWorth))
			return tw.Flush()
		},
	}
}

func (a *App) exportCmd() *cobra.Command {
	export := &cobra.Command{Use: "export", Short: "Export a snapshot of the ledger"}
	export.AddCommand(&cobra.Command{
		Use:   "sheets",
		Short: "Write every collection to the configured Google spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.principal()
			if err != nil {
				return err
			}
			if a.NewExporter == nil {
				return errors.New("export is not configured")
			}
			exp, err := a.NewExporter(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := sheets.Collect(cmd.Context(), a.API, p, a.Now())
			if err != nil {
				return err
			}
			res, err := exp.Export(cmd.Context(), snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Exported %d rows to %s\n", res.Rows, strings.Join(res.Tabs, ", "))
			return nil
		},
	})
	return export
}

func printAccounts(w io.Writer, accounts []core.Account) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tBALANCE")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", acc.ID, acc.AccountName, acc.Type.Label(), core.FormatAmount(acc.Balance))
	}
	fmt.Fprintf(tw, "\t\tTotal\t%s\n", core.FormatAmount(core.Sum(accounts, func(a core.Account) decimal.Decimal { return a.Balance })))
	tw.Flush()
}
