package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-engine/internal/model"
)

// icpFile is the YAML form of an ideal customer profile.
type icpFile struct {
	Name    string           `yaml:"name"`
	Filters model.ICPFilters `yaml:"filters"`
}

// personaFile is the YAML form of a persona.
type personaFile struct {
	Name        string   `yaml:"name"`
	Titles      []string `yaml:"titles"`
	Seniorities []string `yaml:"seniorities"`
	Departments []string `yaml:"departments"`
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	return eris.Wrapf(yaml.Unmarshal(data, out), "parse %s", path)
}

var icpCmd = &cobra.Command{
	Use:   "icp",
	Short: "Manage ideal customer profiles",
}

var icpImportCmd = &cobra.Command{
	Use:   "import <client-id> <file.yaml>",
	Short: "Save an ICP from a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var f icpFile
		if err := readYAML(args[1], &f); err != nil {
			return err
		}
		if f.Name == "" {
			return eris.New("icp import: name is required")
		}
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetClient(ctx, args[0]); err != nil {
			return eris.Wrap(err, "icp import")
		}
		icp := &model.ICP{ClientID: args[0], Name: f.Name, Filters: f.Filters}
		if err := st.SaveICP(ctx, icp); err != nil {
			return eris.Wrap(err, "icp import")
		}
		return writeJSON(cmd.OutOrStdout(), icp)
	},
}

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage contact personas",
}

var personaImportCmd = &cobra.Command{
	Use:   "import <client-id> <file.yaml>",
	Short: "Save a persona from a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var f personaFile
		if err := readYAML(args[1], &f); err != nil {
			return err
		}
		if f.Name == "" {
			return eris.New("persona import: name is required")
		}
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetClient(ctx, args[0]); err != nil {
			return eris.Wrap(err, "persona import")
		}
		p := &model.Persona{
			ClientID:    args[0],
			Name:        f.Name,
			Titles:      f.Titles,
			Seniorities: f.Seniorities,
			Departments: f.Departments,
		}
		if err := st.SavePersona(ctx, p); err != nil {
			return eris.Wrap(err, "persona import")
		}
		return writeJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	icpCmd.AddCommand(icpImportCmd)
	personaCmd.AddCommand(personaImportCmd)
	rootCmd.AddCommand(icpCmd)
	rootCmd.AddCommand(personaCmd)
}
