package main

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/warp/cashback-engine/api"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
)

func migrateCommand(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if reset {
				if err := store.Reset(cmd.Context()); err != nil {
					return err
				}
				a.logger.Warn("all data deleted")
			}
			a.logger.Info("schema up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all rows after migrating")
	return cmd
}

// cycleCommand resolves cycles either for a stored account or for an ad-hoc
// statement day.
func cycleCommand(a *app) *cobra.Command {
	var (
		accountID    string
		date         string
		statementDay int
		count        int
	)
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Print the cycle containing a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := time.Now().UTC()
			if date != "" {
				parsed, err := generic.ParseDate(date)
				if err != nil {
					return errors.Wrap(err, "invalid --date")
				}
				ref = parsed
			}

			var cycle cashback.Cycle
			if accountID != "" {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				svc := a.newService(store, nil, nil)
				if cycle, err = svc.Cycle(cmd.Context(), generic.AccountID(accountID), ref); err != nil {
					return err
				}
			} else {
				var cfg cashback.CycleConfig = cashback.CalendarMonth{}
				if statementDay != 0 {
					cfg = cashback.StatementCycle{Day: statementDay}
				}
				var err error
				if cycle, err = cashback.ResolveCycle(ref, cfg); err != nil {
					return err
				}
			}

			cycles := []cashback.Cycle{cycle}
			for i := 1; i < count; i++ {
				next, err := cycles[len(cycles)-1].Next()
				if err != nil {
					return err
				}
				cycles = append(cycles, next)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cycles)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account whose cashback config defines the cycle")
	cmd.Flags().StringVar(&date, "date", "", "reference date, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&statementDay, "statement-day", 0, "statement day 1-31 when no account is given")
	cmd.Flags().IntVar(&count, "count", 1, "number of consecutive cycles to print")
	return cmd
}

func closeCyclesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "close-cycles",
		Short: "Snapshot every ended cycle that is not closed yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			scheduler := api.NewCycleCloseScheduler(store, a.newService(store, nil, nil), a.logger)
			summary := scheduler.RunNow(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return errors.Errorf("%d cycles failed to close", summary.Failed)
			}
			return nil
		},
	}
}
