package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pnrfill-worker/internal/config"
	"github.com/adverant/nexus/pnrfill-worker/internal/queue"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <capture>",
		Short: "Queue a capture for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read capture: %w", err)
			}
			payload := &queue.JobPayload{
				CaptureID:  filepath.Base(args[0]),
				Source:     "submit",
				Capture:    data,
				Correction: correctionFrom(cmd),
			}

			var id string
			switch cfg.QueueBackend {
			case config.QueueBackendAsynq:
				opt, err := asynq.ParseRedisURI(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("failed to parse Redis URL: %w", err)
				}
				client := asynq.NewClient(opt)
				defer client.Close()
				task, err := queue.NewCaptureTask(payload)
				if err != nil {
					return err
				}
				info, err := client.EnqueueContext(cmd.Context(), task, asynq.Queue(cfg.QueueName), asynq.MaxRetry(3))
				if err != nil {
					return fmt.Errorf("failed to enqueue task: %w", err)
				}
				id = info.ID
			default:
				opt, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("failed to parse Redis URL: %w", err)
				}
				rdb := redis.NewClient(opt)
				defer rdb.Close()
				id, err = queue.Submit(cmd.Context(), rdb, cfg.QueueName, &queue.CaptureJob{Payload: *payload})
				if err != nil {
					return err
				}
			}

			if jsonOutput(cmd) {
				return writeJSON(map[string]string{"jobId": id, "queue": cfg.QueueName, "backend": cfg.QueueBackend})
			}
			fmt.Printf("Queued %s as job %s on %s (%s)\n", args[0], id, cfg.QueueName, cfg.QueueBackend)
			return nil
		},
	}
	correctionFlags(cmd)
	return cmd
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			recorder, err := storage.NewRecorder(cfg.AuditDriver, cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return err
			}
			if recorder == nil {
				return fmt.Errorf("audit trail is disabled (AUDIT_DRIVER=%s)", cfg.AuditDriver)
			}
			defer recorder.Close()

			if len(args) == 1 {
				rec, err := recorder.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(rec)
				}
				printRecord(rec)
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			recs, err := recorder.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(recs)
			}
			if len(recs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for i := range recs {
				printRecord(&recs[i])
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Number of runs to list")
	return cmd
}

func printRecord(rec *storage.RunRecord) {
	outcome := rec.Outcome
	if outcome == "" {
		outcome = rec.ErrorKind
	}
	fmt.Printf("%s  %s  exit=%d  %-14s %6.2f%%  %s\n",
		rec.StartedAt.Format("2006-01-02 15:04:05"),
		rec.RunID, rec.ExitCode, outcome, rec.CompletionPercent, rec.Reason)
}
