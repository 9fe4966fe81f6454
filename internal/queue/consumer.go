/**
 * Asynq consumer for the PNR autofill worker
 *
 * Alternative backend for deployments that already run asynq. Tasks carry
 * a JSON JobPayload; busy rejections are retried with backoff and every
 * other failure is final.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
)

// TaskProcessCapture is the asynq task type for one capture.
const TaskProcessCapture = "pnrfill:process-capture"

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL  string
	QueueName string
	Runner    Runner
	Loader    CaptureLoader
}

// Consumer processes capture tasks from asynq
type Consumer struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *jobHandler
	config  *ConsumerConfig
	logger  *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("Loader is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Runs are single-flight.
			Concurrency: 1,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task processing error",
					"type", task.Type(),
					"error", err.Error())
			}),
		},
	)

	c := &Consumer{
		client:  asynq.NewClient(redisOpt),
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: &jobHandler{runner: cfg.Runner, loader: cfg.Loader},
		config:  cfg,
		logger:  logger,
	}
	c.mux.HandleFunc(TaskProcessCapture, c.handleProcessCapture)
	return c, nil
}

// retryDelay is exponential backoff from 5s, capped at one minute.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > time.Minute || delay <= 0 {
		delay = time.Minute
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Infof("Starting asynq consumer (queue=%s)...", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// Enqueue submits payload as a capture task.
func (c *Consumer) Enqueue(ctx context.Context, payload *JobPayload) (*asynq.TaskInfo, error) {
	task, err := NewCaptureTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(c.config.QueueName), asynq.MaxRetry(3))
}

// NewCaptureTask encodes payload as a task.
func NewCaptureTask(payload *JobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture task: %w", err)
	}
	return asynq.NewTask(TaskProcessCapture, data), nil
}

func (c *Consumer) handleProcessCapture(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal capture task: %v: %w", err, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	c.logger.Infof("[Job %s] Processing capture (%d bytes)", taskID, len(payload.Capture))

	out := c.handler.handle(ctx, taskID, &payload)
	switch {
	case out.err == nil:
		c.logger.Infof("[Job %s] Run %s finished with exit code %d", taskID, out.summary.RunID, out.summary.ExitCode)
		if data, err := json.Marshal(out.summary); err == nil {
			if rw := task.ResultWriter(); rw != nil {
				_, _ = rw.Write(data)
			}
		}
		return nil
	case out.retryable:
		return fmt.Errorf("capture deferred: %w", out.err)
	default:
		return fmt.Errorf("capture failed: %v: %w", out.err, asynq.SkipRetry)
	}
}
