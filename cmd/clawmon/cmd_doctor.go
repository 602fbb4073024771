package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"clawmon/internal/auth"
	"clawmon/internal/browser"
	"clawmon/internal/statuspage"
)

// doctorCmd checks the pieces a refresh cycle depends on and reports each
// one, so a broken setup is diagnosed without waiting for a cycle to fail.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check browser, profile, and connectivity prerequisites",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		ok := true
		check := func(name string, err error) {
			if err != nil {
				ok = false
				fmt.Printf("✗ %-18s %v\n", name, err)
				return
			}
			fmt.Printf("✓ %s\n", name)
		}

		bin, err := browser.FindExecutable(appConfig.BrowserPath)
		check("browser binary", err)
		if err == nil {
			fmt.Printf("  using %s\n", bin)
		}

		check("state dir", writableDir(appConfig.StateDir()))

		if auth.HasExistingSession(appConfig.ProfileDir()) {
			fmt.Println("✓ stored session")
		} else {
			ok = false
			fmt.Println("✗ stored session      none; run `clawmon login`")
		}

		_, err = statuspage.NewClient(appConfig.StatusFeedURL).Current(ctx)
		check("status feed", err)

		if _, err := os.Stat(filepath.Join(appConfig.StateDir(), "browser.lock")); err == nil {
			fmt.Println("! browser lock present (another instance may be running)")
		}

		if !ok {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}

func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
