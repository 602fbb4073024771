package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clawmon/internal/usage"
)

var fetchJSON bool

// fetchCmd captures one snapshot and prints it. It never opens a login
// window; use `clawmon login` for that.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one usage snapshot and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appConfig, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
		defer cancel()

		rel, err := app.Coord.AcquireBrowserLock(ctx)
		if err != nil {
			return err
		}
		defer rel.Release()

		snap, err := app.Flow.Fetch(ctx, false)
		if err != nil {
			return err
		}

		if fetchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		printSnapshot(snap)
		return nil
	},
}

func printSnapshot(snap *usage.Snapshot) {
	fmt.Printf("session  %3.0f%%  resets in %s\n", snap.SessionPercent, snap.SessionReset)
	fmt.Printf("week     %3.0f%%  resets in %s\n", snap.WeekPercent, snap.WeekReset)
	for _, tier := range []usage.ModelTier{usage.TierOpus, usage.TierSonnet} {
		if pct, ok := snap.ModelPercents[tier]; ok {
			fmt.Printf("%-8s %3.0f%%\n", tier, pct)
		}
	}
	if c := snap.Credits; c != nil {
		fmt.Printf("credits  %.2f %s\n", c.Amount, c.Currency)
	}
	if o := snap.Overage; o != nil {
		fmt.Printf("overage  %.2f / %.2f %s\n", o.Used, o.Limit, o.Currency)
	}
	if snap.Scraped {
		fmt.Println("(recovered from page text; week and spend data unavailable)")
	}
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print the snapshot as JSON")
}
