/**
 * Redis list consumer for the PNR autofill worker
 *
 * Pops capture job ids from a Redis LIST, loads the job hash and runs the
 * pipeline. Job state lives in the :processing, :completed and :failed sets
 * with results and errors in hashes, the layout the dashboard reads.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
)

var errNoJobs = errors.New("no jobs available")

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Runner      Runner
	Loader      CaptureLoader
	// PopTimeout bounds each BRPOP (default 5s).
	PopTimeout time.Duration
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client  *redis.Client
	config  *RedisConsumerConfig
	handler *jobHandler
	logger  *logging.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisConsumer connects to Redis and returns a consumer.
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return newRedisConsumer(client, cfg)
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "pnrfill:captures"
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("Loader is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &RedisConsumer{
		client:  client,
		config:  cfg,
		handler: &jobHandler{runner: cfg.Runner, loader: cfg.Loader},
		logger:  logging.NewLogger("RedisConsumer"),
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs until ctx is done or Stop is called.
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Infof("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}
		if err := c.processNextJob(ctx); err != nil {
			if errors.Is(err, errNoJobs) || ctx.Err() != nil {
				continue
			}
			c.logger.Warn("Worker error", "worker", id, "error", err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob(ctx context.Context) error {
	result, err := c.client.BRPop(ctx, c.config.PopTimeout, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	raw, err := c.client.HGet(ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}
	var job CaptureJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(ctx, jobID, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	c.client.SAdd(ctx, c.key(StatusProcessing), jobID)
	c.logger.Infof("[Job %s] Processing capture (attempt %d)", jobID, job.Attempts+1)

	out := c.handler.handle(ctx, jobID, &job.Payload)
	switch {
	case out.err == nil:
		c.markCompleted(ctx, jobID, out.summary)
		c.logger.Infof("[Job %s] Run %s finished with exit code %d", jobID, out.summary.RunID, out.summary.ExitCode)
	case out.retryable && job.Attempts+1 < job.MaxRetries:
		job.Attempts++
		updated, _ := json.Marshal(job)
		c.client.SRem(ctx, c.key(StatusProcessing), jobID)
		c.client.HSet(ctx, c.key("data"), jobID, string(updated))
		c.client.RPush(ctx, c.config.QueueName, jobID)
		c.logger.Infof("[Job %s] Re-queued (attempt %d/%d): %v", jobID, job.Attempts, job.MaxRetries, out.err)
	default:
		c.markFailed(ctx, jobID, map[string]interface{}{
			"error":    out.err.Error(),
			"attempts": job.Attempts + 1,
		})
		c.logger.Warn("Job failed", "jobId", jobID, "error", out.err.Error())
	}
	return nil
}

func (c *RedisConsumer) markCompleted(ctx context.Context, jobID string, result interface{}) {
	data, _ := json.Marshal(result)
	c.client.SRem(ctx, c.key(StatusProcessing), jobID)
	c.client.SAdd(ctx, c.key(StatusCompleted), jobID)
	c.client.HSet(ctx, c.key("results"), jobID, string(data))
}

func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, details map[string]interface{}) {
	data, _ := json.Marshal(details)
	c.client.SRem(ctx, c.key(StatusProcessing), jobID)
	c.client.SAdd(ctx, c.key(StatusFailed), jobID)
	c.client.HSet(ctx, c.key("errors"), jobID, string(data))
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key(StatusProcessing)).Result()
	completed, _ := c.client.SCard(ctx, c.key(StatusCompleted)).Result()
	failed, _ := c.client.SCard(ctx, c.key(StatusFailed)).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// Submit stores job and pushes its id onto queueName. A missing id is
// generated.
func Submit(ctx context.Context, client redis.Cmdable, queueName string, job *CaptureJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Type == "" {
		job.Type = TaskProcessCapture
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = 3
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := client.HSet(ctx, queueName+":data", job.ID, string(data)).Err(); err != nil {
		return "", fmt.Errorf("failed to store job data: %w", err)
	}
	if err := client.LPush(ctx, queueName, job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}
