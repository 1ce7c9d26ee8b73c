package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/listbuild"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/promote"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Build and qualify target lists",
}

// -- list create --

var listCreateCmd = &cobra.Command{
	Use:   "create <client-id> <name>",
	Short: "Create an empty list bound to an ICP and optional persona",
	Args:  cobra.ExactArgs(2),
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

		icpID, _ := cmd.Flags().GetString("icp")
		personaID, _ := cmd.Flags().GetString("persona")
		l := &model.List{ClientID: args[0], Name: args[1], ICPID: icpID, PersonaID: personaID}
		if err := st.CreateList(ctx, l); err != nil {
			return eris.Wrap(err, "list create")
		}
		return writeJSON(cmd.OutOrStdout(), l)
	},
}

// -- list build --

var listBuildCmd = &cobra.Command{
	Use:   "build <list-id>",
	Short: "Search providers for ICP matches and add those above the intelligence floor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := e.listBuilder().Build(ctx, args[0], listbuild.Options{Limit: limit})
		var ice *ledger.InsufficientCreditsError
		if errors.As(err, &ice) {
			zap.L().Warn("list build stopped: insufficient credits", zap.String("available", ice.Available.String()))
		}
		if res != nil {
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
		}
		return err
	},
}

// -- list qualify --

var listQualifyCmd = &cobra.Command{
	Use:   "qualify <list-id>",
	Short: "Re-detect signals for active-segment members and promote qualifying companies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.promoter().QualifyList(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list qualify")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

// -- list members --

var listMembersCmd = &cobra.Command{
	Use:   "members <list-id>",
	Short: "Show list members with their scores and stage",
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

		l, err := st.GetList(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list members")
		}
		f := store.CompanyFilter{ClientID: l.ClientID, ListID: l.ID}
		f.Limit, _ = cmd.Flags().GetInt("limit")
		if v, _ := cmd.Flags().GetString("stage"); v != "" {
			if f.Stage, err = stageFlag(v); err != nil {
				return err
			}
		}
		companies, err := st.ListCompanies(ctx, f)
		if err != nil {
			return eris.Wrap(err, "list members")
		}
		if len(companies) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No members found.")
			return nil
		}
		formatCompanies(cmd.OutOrStdout(), companies)
		return nil
	},
}

// -- market activate --

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "React to market events",
}

var marketActivateCmd = &cobra.Command{
	Use:   "activate <client-id> <event.yaml>",
	Short: "Move TAM companies affected by a market event into the active segment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var event signal.MarketEvent
		if err := readYAML(args[1], &event); err != nil {
			return err
		}
		if event.ID == "" || event.Title == "" {
			return eris.New("market activate: event id and title are required")
		}

		e, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		listID, _ := cmd.Flags().GetString("list")
		res, err := e.promoter().ActivateMarketSignal(ctx, args[0], listID, event)
		if err != nil {
			return eris.Wrap(err, "market activate")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

// -- contacts score --

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Work with contacts",
}

var contactsScoreCmd = &cobra.Command{
	Use:   "score <client-id>",
	Short: "Score persona fit and career signals for contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		scope := promote.ContactScope{ClientID: args[0]}
		scope.ListID, _ = cmd.Flags().GetString("list")
		scope.CompanyID, _ = cmd.Flags().GetString("company")
		scope.PersonaID, _ = cmd.Flags().GetString("persona")

		res, err := e.promoter().ScoreContacts(ctx, scope)
		if err != nil {
			return eris.Wrap(err, "contacts score")
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

// -- strategy --

var strategyCmd = &cobra.Command{
	Use:   "strategy <client-id>",
	Short: "Generate (or read from cache) the acquisition strategy for a client context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("strategy"); err != nil {
			return err
		}
		e, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		icpID, _ := cmd.Flags().GetString("icp")
		personaID, _ := cmd.Flags().GetString("persona")
		st, err := e.Strategies.Generate(ctx, args[0], icpID, personaID)
		if err != nil {
			return eris.Wrap(err, "strategy")
		}
		if st.Fallback {
			fmt.Fprintln(cmd.ErrOrStderr(), "model output was unusable; showing the default strategy (not cached)")
		}
		return writeJSON(cmd.OutOrStdout(), st)
	},
}

func init() {
	listCreateCmd.Flags().String("icp", "", "ICP id the list is built against")
	listCreateCmd.Flags().String("persona", "", "persona id for contact scoring")
	listBuildCmd.Flags().Int("limit", 25, "max companies requested from search providers")
	listMembersCmd.Flags().String("stage", "", "only members at this pipeline stage")
	listMembersCmd.Flags().Int("limit", 100, "max members to display")

	listCmd.AddCommand(listCreateCmd)
	listCmd.AddCommand(listBuildCmd)
	listCmd.AddCommand(listQualifyCmd)
	listCmd.AddCommand(listMembersCmd)
	rootCmd.AddCommand(listCmd)

	marketActivateCmd.Flags().String("list", "", "only consider TAM companies on this list")
	marketCmd.AddCommand(marketActivateCmd)
	rootCmd.AddCommand(marketCmd)

	contactsScoreCmd.Flags().String("list", "", "only contacts at companies on this list")
	contactsScoreCmd.Flags().String("company", "", "only contacts at this company")
	contactsScoreCmd.Flags().String("persona", "", "persona id for fit scoring")
	contactsCmd.AddCommand(contactsScoreCmd)
	rootCmd.AddCommand(contactsCmd)

	strategyCmd.Flags().String("icp", "", "ICP id")
	strategyCmd.Flags().String("persona", "", "persona id")
	rootCmd.AddCommand(strategyCmd)
}

// formatCompanies writes a tabular view of companies.
func formatCompanies(out io.Writer, companies []model.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tNAME\tSTAGE\tICP\tSIGNAL\tINTEL\tSPENT")
	for _, c := range companies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%s\n",
			c.Domain,
			truncate(orDash(c.Name), 30),
			c.PipelineStage,
			c.ICPFitScore,
			c.SignalScore,
			c.IntelligenceScore,
			c.CreditsSpent.StringFixed(2),
		)
	}
	w.Flush() //nolint:errcheck
}
