package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clawmon/internal/auth"
	"clawmon/internal/coordinate"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a browser window and sign in to claude.ai",
	Long: `Opens the dedicated browser profile on the login page and waits for you
to complete the sign-in. The session cookie lands in the profile, so every
later fetch reuses it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appConfig, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		rel, err := app.Coord.AcquireBrowserLock(ctx)
		if err != nil {
			return err
		}
		defer rel.Release()

		fmt.Println("Opening the login page; complete the sign-in in the browser window.")
		if err := app.Flow.Login(ctx); err != nil {
			return err
		}
		fmt.Println("Signed in.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored browser session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.ClearSession(appConfig.ProfileDir()); err != nil {
			return err
		}
		if err := coordinate.New(appConfig.StateDir()).ClearState(); err != nil {
			return err
		}
		fmt.Println("Session cleared. Run `clawmon login` to sign in again.")
		return nil
	},
}
