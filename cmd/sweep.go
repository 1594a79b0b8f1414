package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/token"
)

var sweepCron bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Refresh CRM credentials nearing expiry",
	Long:  "Scans stored OAuth credentials and refreshes every pair inside the sweep threshold. With --cron the sweep keeps running on the configured schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		manager := token.NewManager(st, newCRMClient(), cfg.Token)

		if !sweepCron {
			report, err := manager.Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		}

		scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
		if err != nil {
			return eris.Wrap(err, "create scheduler")
		}

		job, err := scheduler.NewJob(
			gocron.CronJob(cfg.Token.SweepCron, false),
			gocron.NewTask(func() {
				if _, err := manager.Sweep(ctx); err != nil {
					zap.L().Error("scheduled sweep failed", zap.Error(err))
				}
			}),
			gocron.WithName("credential-sweep"),
		)
		if err != nil {
			return eris.Wrapf(err, "schedule sweep %q", cfg.Token.SweepCron)
		}

		scheduler.Start()
		if next, nerr := job.NextRun(); nerr == nil {
			zap.L().Info("sweep scheduled",
				zap.String("cron", cfg.Token.SweepCron),
				zap.Time("next_run", next))
		}

		<-ctx.Done()
		zap.L().Info("stopping sweep scheduler")
		return eris.Wrap(scheduler.Shutdown(), "shutdown scheduler")
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepCron, "cron", false, "run on the configured schedule instead of once")
	rootCmd.AddCommand(sweepCmd)
}
