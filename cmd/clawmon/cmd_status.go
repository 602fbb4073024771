package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clawmon/internal/history"
	"clawmon/internal/localusage"
	"clawmon/internal/statuspage"
)

// statusCmd reports the last stored snapshot plus local telemetry and the
// service feed. It touches no browser, so it is safe to run while a monitor
// instance holds the lock.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last captured snapshot without touching the browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		hist, err := history.Open(appConfig.HistoryPath())
		if err != nil {
			return err
		}
		defer hist.Close()

		entry, ok, err := hist.Latest(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No snapshots captured yet. Run `clawmon fetch` or start the monitor.")
		} else {
			fmt.Printf("Last snapshot (captured %s):\n", entry.CapturedAt.Local().Format("2006-01-02 15:04"))
			printSnapshot(&entry.Snapshot)
			fmt.Println()
		}

		if roots := localProjectRoots(); len(roots) > 0 {
			if sum, scanErr := localusage.Scan(ctx, roots, time.Now()); scanErr == nil {
				fmt.Printf("local tokens: today %d ($%.2f), 30 days %d ($%.2f)\n",
					sum.TodayTokens, sum.TodayCostUSD, sum.Last30Tokens, sum.Last30CostUSD)
			}
		}

		if svc, svcErr := statuspage.NewClient(appConfig.StatusFeedURL).Current(ctx); svcErr == nil && svc.Degraded() {
			fmt.Printf("service %s: %s\n", svc.Indicator, svc.Description)
		}
		return nil
	},
}
