package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadextract/internal/report"
)

var usageReportMonth string

var usageReportCmd = &cobra.Command{
	Use:   "usage-report",
	Short: "Export the monthly usage workbook",
	Long:  "Writes the per-location usage rollup for one month to an xlsx workbook and, when an FTP dropbox is configured, uploads it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("offline"); err != nil {
			return err
		}

		month := time.Now().UTC()
		if usageReportMonth != "" {
			m, err := time.Parse("2006-01", usageReportMonth)
			if err != nil {
				return eris.Wrapf(err, "parse month %q (want YYYY-MM)", usageReportMonth)
			}
			month = m
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		sum, err := report.NewExporter(st, cfg.Report).Export(cmd.Context(), month)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

func init() {
	usageReportCmd.Flags().StringVar(&usageReportMonth, "month", "", "month to export as YYYY-MM (default current month)")
	rootCmd.AddCommand(usageReportCmd)
}
