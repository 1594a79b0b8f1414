package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/leadextract/internal/transcript"
)

var transcriptLimit int

var transcriptCmd = &cobra.Command{
	Use:   "transcript <conversation-id>",
	Short: "Print the assembled transcript for a conversation",
	Long:  "Assembles the bounded transcript exactly as the extraction pipeline would see it, for auditing what the model was shown.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		limit := transcriptLimit
		if limit == 0 {
			limit = cfg.Extraction.AuditLimit
		}

		tr, err := transcript.NewAssembler(st).Assemble(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(tr)
	},
}

func init() {
	transcriptCmd.Flags().IntVar(&transcriptLimit, "limit", 0, "max messages to include (default from config)")
	rootCmd.AddCommand(transcriptCmd)
}
