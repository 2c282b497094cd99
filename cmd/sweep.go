// Package cmd provides command-line interface commands for Aegis.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"aegis/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

// Flags for the sweep command
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

const defaultTimeout = 1 * time.Minute

// sweepResult is the JSON output shape for --json.
type sweepResult struct {
	Backend string `json:"backend"`
	Removed int64  `json:"removed"`
}

// NewSweepCmd creates the sweep command: a one-shot removal of expired
// CSRF tokens, for cron jobs and operators who do not want to wait for the
// in-server retention interval.
func NewSweepCmd() *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired CSRF tokens from storage",
		Long: `Remove expired CSRF tokens from the configured storage backend.

Expired tokens are already invisible to validation; sweeping reclaims the
space they occupy. The running server performs the same sweep on its
configured cleanup interval, so this command is only needed for on-demand
cleanup or when the server is not running.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: runSweep,
	}

	sweepCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	sweepCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	sweepCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	return sweepCmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	// CLI runs want errors on the terminal, not interleaved debug logs
	logger := zap.NewNop().Sugar()

	cfg, err := bootstrap.InitConfig(logger)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	components, err := bootstrap.InitTokenStorage(cfg, logger)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to initialize storage: %v\n", err)
		return err
	}
	defer components.Close(logger)

	if !quiet && !outputJSON {
		infoColor.Printf("Sweeping expired tokens (backend: %s)...\n", cfg.Storage.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	removed, err := components.TokenStore.DeleteExpiredTokens(ctx)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return err
	}

	if outputJSON {
		out, err := json.Marshal(sweepResult{
			Backend: string(cfg.Storage.Backend),
			Removed: removed,
		})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	successColor.Printf("Removed %d expired token(s)\n", removed)
	return nil
}
