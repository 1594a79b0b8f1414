package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/leadextract/internal/catalog"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Seed a location's extraction catalog from a fixture file",
	Long:  "Loads a YAML catalog fixture and writes its fields, rules, stop triggers and plan into the store. Used for onboarding new locations.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		fx, err := catalog.LoadFixture(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		return catalog.Seed(cmd.Context(), st, fx)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
