/**
 * pnrfill - reservation screen autofill
 *
 * Reads a captured reservation screen, decides whether the upgrade or name
 * correction may go through and on which tool, then fills and verifies the
 * destination form.
 *
 * Commands:
 * - run      one capture end to end (exit code reports the outcome)
 * - extract  print the extracted fields
 * - decide   print the decision and fill plan without touching the form
 * - worker   consume captures from Redis/asynq and serve the HTTP trigger
 * - submit   push a capture onto the worker queue
 * - runs     list the audit trail
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pnrfill-worker/internal/config"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
)

var version = "0.1.0-dev"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "pnrfill",
		Short: "Reservation screen autofill",
		Long: `pnrfill reads a reservation screen capture, evaluates the upgrade and
name-correction rules, and fills the change form with verified values.

Exit codes: 0 all fields verified, 1 partial fill, 2 denied or documents
required, 3 capture could not be read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("env-file", ".env.pnrfill", "Environment file to load before reading configuration")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newExtractCmd(),
		newDecideCmd(),
		newWorkerCmd(),
		newSubmitCmd(),
		newRunsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logging.Sync()
	if err == nil {
		return
	}
	if ee, ok := err.(*exitError); ok {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	if kind := cerrors.KindOf(err); kind != "" {
		os.Exit(cerrors.ExitCode(kind))
	}
	os.Exit(cerrors.ExitPartial)
}

// loadConfig reads the env file (if any) and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, cerrors.NewConfigInvalidError("environment", err)
	}
	logging.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput(cmd) {
				_ = writeJSON(map[string]string{"version": version})
				return
			}
			fmt.Printf("pnrfill version %s\n", version)
		},
	}
}
