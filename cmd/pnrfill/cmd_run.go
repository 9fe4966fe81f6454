package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <capture>",
		Short: "Process one capture end to end",
		Long: `Extract the reservation fields from a capture (PNG, JPEG or span JSON),
evaluate the rules, and fill and verify the change form.

The process exit code reports the outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			ctx := cmd.Context()
			raw, err := a.loader.LoadFile(ctx, args[0])
			if err != nil {
				return err
			}

			driver, err := a.driver(ctx, dryRun)
			if err != nil {
				return err
			}
			recorder, err := storage.NewRecorder(a.cfg.AuditDriver, a.cfg.DatabaseURL, a.cfg.SQLitePath)
			if err != nil {
				return err
			}
			if recorder != nil {
				defer recorder.Close()
			}

			controller, err := a.controller(pipeline.Config{
				Filler:   executor.New(driver, a.cfg.FillPacing),
				Recorder: recorder,
			})
			if err != nil {
				return err
			}

			result, err := controller.Run(ctx, &pipeline.RunRequest{
				Capture:    raw,
				Correction: correctionFrom(cmd),
				Source:     "cli",
			})
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if err := writeJSON(result.Summary()); err != nil {
					return err
				}
			} else {
				printSummary(result)
			}
			if result.ExitCode != 0 {
				return &exitError{code: result.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Fill an in-memory form instead of the form agent")
	correctionFlags(cmd)
	return cmd
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <capture>",
		Short: "Print the fields extracted from a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			raw, err := a.loader.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fm, err := a.extractor.Extract(raw)
			if err != nil {
				return err
			}

			if dump, _ := cmd.Flags().GetBool("dump"); dump {
				spew.Fdump(os.Stdout, fm)
				return nil
			}
			if jsonOutput(cmd) {
				return writeJSON(fm)
			}
			fmt.Printf("Capture %s\n", fm.CaptureID)
			for _, name := range fields.Schema {
				v := fm.Get(name)
				fmt.Printf("  %-16s %-28s %.2f\n", name, v.String(), v.Confidence)
			}
			if missing := fm.MissingFields(); len(missing) > 0 {
				fmt.Printf("  missing: %s\n", joinNames(missing))
			}
			return nil
		},
	}
	cmd.Flags().Bool("dump", false, "Dump the full field map")
	return cmd
}

func newDecideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide <capture>",
		Short: "Evaluate the rules and print the fill plan without touching the form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			raw, err := a.loader.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			controller, err := a.controller(pipeline.Config{
				Filler: executor.New(executor.NewMemoryDriver(), 0),
			})
			if err != nil {
				return err
			}

			result := controller.Preview(&pipeline.RunRequest{
				Capture:    raw,
				Correction: correctionFrom(cmd),
				Source:     "cli",
			})
			if jsonOutput(cmd) {
				if err := writeJSON(map[string]interface{}{
					"decision": result.Decision,
					"plan":     result.Plan,
					"summary":  result.Summary(),
				}); err != nil {
					return err
				}
			} else {
				printSummary(result)
				if result.Plan != nil {
					fmt.Println("Plan:")
					for i, action := range result.Plan.Actions {
						mode := "write"
						if action.VerifyOnly {
							mode = "verify"
						}
						fmt.Printf("  %2d. %-16s %-6s %q\n", i+1, action.Field, mode, action.Value)
					}
				}
			}
			if result.ExitCode != 0 {
				return &exitError{code: result.ExitCode}
			}
			return nil
		},
	}
	correctionFlags(cmd)
	return cmd
}

func printSummary(result *pipeline.RunResult) {
	s := result.Summary()
	fmt.Printf("Run %s (capture %s)\n", s.RunID, s.CaptureID)
	if s.Outcome != "" {
		fmt.Printf("  decision:   %s\n", s.Outcome)
	}
	if s.Reason != "" {
		fmt.Printf("  reason:     %s\n", s.Reason)
	}
	if s.Endorsement != "" {
		fmt.Printf("  endorse:    %s\n", s.Endorsement)
	}
	if s.Correction != nil {
		fmt.Printf("  correction: type %d, %d document(s) required\n",
			s.Correction.ErrorType, s.Correction.DocumentsNeeded)
	}
	if s.Error != "" {
		fmt.Printf("  error:      %s\n", s.Error)
	}
	if result.Report != nil {
		fmt.Printf("  filled:     %d verified, %.1f%% complete\n", s.Verified, s.CompletionPercent)
	}
	if len(s.Failed) > 0 {
		fmt.Printf("  failed:     %s\n", joinNames(s.Failed))
	}
	if len(s.Skipped) > 0 {
		fmt.Printf("  skipped:    %s\n", joinNames(s.Skipped))
	}
	if len(s.LowConfidence) > 0 {
		fmt.Printf("  check:      %s (low confidence)\n", joinNames(s.LowConfidence))
	}
	if len(s.MissingRequired) > 0 {
		fmt.Printf("  missing:    %s\n", joinNames(s.MissingRequired))
	}
	fmt.Printf("  duration:   %s\n", time.Duration(s.DurationMs)*time.Millisecond)
	fmt.Printf("  exit code:  %d\n", s.ExitCode)
}

func joinNames[T ~string](names []T) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
