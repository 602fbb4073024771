// clawmon watches claude.ai plan usage from the outside: it drives a real
// logged-in browser session, merges the result with local token telemetry,
// and renders a live terminal display.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clawmon/internal/config"
	"clawmon/internal/logging"
	"clawmon/internal/tui"
)

var (
	verbose   bool
	stateDir  string
	logger    *zap.Logger
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clawmon",
	Short: "clawmon - claude.ai usage monitor",
	Long: `clawmon tracks your claude.ai plan usage without an API key.

It reuses the browser session you already have: a dedicated browser profile
holds your login, usage endpoints are discovered by watching the usage page's
own network traffic, and responses are normalized into one snapshot. Local
token counts from the CLI's session logs are shown alongside, so the display
stays useful even when the web fetch degrades.

Run without arguments to start the live display.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := stateDir
		if dir == "" {
			var err error
			if dir, err = config.StateDir(); err != nil {
				return err
			}
		}
		var err error
		if appConfig, err = config.Load(dir); err != nil {
			return err
		}

		// The display owns the terminal; only the interactive monitor
		// logs to a file.
		toFile := cmd.Use == "clawmon"
		if logger, err = logging.New(appConfig.LogsDir(), verbose, toFile); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appConfig, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		return tui.Run(tui.Options{
			Interval: appConfig.RefreshInterval(),
			Refresh:  app.Monitor.RunCycle,
			Retry:    app.Monitor.RetryLogin,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (default $CLAWMON_HOME or ~/.clawmon)")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
