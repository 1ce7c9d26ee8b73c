package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage billed clients",
}

var clientsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a client with a zero balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		industry, _ := cmd.Flags().GetString("industry")
		description, _ := cmd.Flags().GetString("description")
		marginRaw, _ := cmd.Flags().GetString("margin")
		margin, err := money.Parse(marginRaw)
		if err != nil {
			return eris.Wrap(err, "clients create: margin")
		}
		if margin.IsNegative() {
			return eris.New("clients create: margin must not be negative")
		}

		c := &model.Client{
			Name:          args[0],
			Industry:      industry,
			Description:   description,
			MarginPercent: margin,
			CreditBalance: money.Zero,
		}
		if err := st.CreateClient(ctx, c); err != nil {
			return eris.Wrap(err, "clients create")
		}
		return writeJSON(cmd.OutOrStdout(), c)
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up client credit balances",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <client-id>",
	Short: "Show a client's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		balance, err := ledger.New(st).GetBalance(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "credits balance")
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), balance.StringFixed(4))
		return err
	},
}

var creditsAddCmd = &cobra.Command{
	Use:   "add <client-id> <amount>",
	Short: "Add credits to a client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		amount, err := money.Parse(args[1])
		if err != nil {
			return eris.Wrap(err, "credits add: amount")
		}
		typ, _ := cmd.Flags().GetString("type")
		note, _ := cmd.Flags().GetString("note")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		balance, err := ledger.New(st).AddCredits(ctx, args[0], amount, model.TransactionType(typ), note)
		if err != nil {
			return eris.Wrap(err, "credits add")
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), balance.StringFixed(4))
		return err
	},
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history <client-id>",
	Short: "List a client's credit transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		txs, err := ledger.New(st).History(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "credits history")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), txs)
		}
		if len(txs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No transactions found.")
			return nil
		}
		formatTransactions(cmd.OutOrStdout(), txs)
		return nil
	},
}

func init() {
	clientsCreateCmd.Flags().String("industry", "", "client industry")
	clientsCreateCmd.Flags().String("description", "", "short description of what the client sells")
	clientsCreateCmd.Flags().String("margin", "0", "margin percent added to provider costs")
	clientsCmd.AddCommand(clientsCreateCmd)
	rootCmd.AddCommand(clientsCmd)

	creditsAddCmd.Flags().String("type", string(model.TxPurchase), "transaction type (purchase, adjustment, refund)")
	creditsAddCmd.Flags().String("note", "", "free-form note stored on the transaction")
	creditsHistoryCmd.Flags().Int("limit", 50, "max number of transactions")
	creditsHistoryCmd.Flags().Bool("json", false, "print JSON instead of a table")

	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsAddCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)
	rootCmd.AddCommand(creditsCmd)
}

// formatTransactions writes a tabular view of ledger rows.
func formatTransactions(out io.Writer, txs []model.CreditTransaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tTYPE\tAMOUNT\tBALANCE\tSOURCE\tOPERATION\tNOTE")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.Type,
			tx.Amount.StringFixed(4),
			tx.BalanceAfter.StringFixed(4),
			orDash(tx.Source),
			orDash(tx.Operation),
			truncate(tx.Note, 40),
		)
	}
	w.Flush() //nolint:errcheck
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
