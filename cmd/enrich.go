package main

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/enrich"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <client-id> [domain...]",
	Short: "Enrich companies (and optionally their contacts) through the provider waterfall",
	Long:  "Runs each domain through firmographic enrichment, optional contact discovery, signal detection and scoring. Domains come from arguments and/or --file (one per line).",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		domains := args[1:]
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			fromFile, err := readLines(path)
			if err != nil {
				return err
			}
			domains = append(domains, fromFile...)
		}
		if len(domains) == 0 {
			return eris.New("enrich: no domains given")
		}

		e, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		clientID := args[0]
		opts := enrich.Options{}
		opts.ICPID, _ = cmd.Flags().GetString("icp")
		opts.PersonaID, _ = cmd.Flags().GetString("persona")
		opts.MaxContacts, _ = cmd.Flags().GetInt("max-contacts")
		opts.VerifyEmails, _ = cmd.Flags().GetBool("verify")

		if useStrategy, _ := cmd.Flags().GetBool("strategy"); useStrategy {
			opts.Strategy, err = e.Strategies.Generate(ctx, clientID, opts.ICPID, opts.PersonaID)
			if err != nil {
				return eris.Wrap(err, "enrich: strategy")
			}
		}

		job, err := e.pipeline().Run(ctx, clientID, domains, opts)
		var ice *ledger.InsufficientCreditsError
		if errors.As(err, &ice) {
			zap.L().Warn("enrich stopped: insufficient credits",
				zap.String("available", ice.Available.String()),
				zap.String("required", ice.Required.String()),
			)
		}
		if job != nil {
			if werr := writeJSON(cmd.OutOrStdout(), job); werr != nil {
				return werr
			}
		}
		return err
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect batch jobs",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its per-item errors",
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

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return writeJSON(cmd.OutOrStdout(), job)
	},
}

func init() {
	enrichCmd.Flags().String("file", "", "file with one domain per line")
	enrichCmd.Flags().String("icp", "", "ICP id used for fit scoring")
	enrichCmd.Flags().String("persona", "", "persona id; enables contact discovery")
	enrichCmd.Flags().Int("max-contacts", 5, "max contacts kept per company")
	enrichCmd.Flags().Bool("verify", false, "verify discovered email addresses")
	enrichCmd.Flags().Bool("strategy", false, "order providers and weights by the client's generated strategy")
	rootCmd.AddCommand(enrichCmd)

	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

// readLines returns the non-blank, non-comment lines of a file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, eris.Wrapf(sc.Err(), "read %s", path)
}

// stageFlag parses a pipeline stage flag value.
func stageFlag(v string) (model.PipelineStage, error) {
	s := model.PipelineStage(v)
	if !s.Valid() {
		return "", eris.Errorf("unknown pipeline stage %q", v)
	}
	return s, nil
}
