package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wasteflow/wasteflow/jobs"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state. *asynq.Inspector satisfies it.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	uploadDir string
	closers   []io.Closer
	now       func() time.Time
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
// Imports are copied into uploadDir, which the worker reads from.
func NewJobsCLI(redisAddr, uploadDir string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	c := NewJobsCLIWith(client, inspector, uploadDir)
	c.closers = []io.Closer{inspector, client}
	return c, nil
}

// NewJobsCLIWith builds the helpers on top of existing queue handles.
func NewJobsCLIWith(client Enqueuer, inspector Inspector, uploadDir string) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, uploadDir: uploadDir, now: time.Now}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closer := range c.closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskDeclarationBackfill:
		task, err = jobs.NewDeclarationBackfillTask(c.now())
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// ImportFile copies an LMA export into the upload directory and queues its
// import. The content hash is the idempotency key, so queueing the same export
// twice imports it once.
func (c *JobsCLI) ImportFile(ctx context.Context, path string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" {
		return nil, fmt.Errorf("jobs cli: unsupported import file %s", filepath.Base(path))
	}
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: open import: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(c.uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("jobs cli: upload dir: %w", err)
	}
	name := uuid.NewString() + ext
	dst, err := os.OpenFile(filepath.Join(c.uploadDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: create upload: %w", err)
	}
	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, hash), src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return nil, fmt.Errorf("jobs cli: copy upload: %w", err)
	}

	task, err := jobs.NewImportBatchTask(jobs.ImportBatchPayload{
		File: name,
		Key:  "lma:" + hex.EncodeToString(hash.Sum(nil)),
	})
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(30*time.Minute))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueues reports the metrics of every wasteflow queue.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueDefault, jobs.QueueDeclarations}
	out := make([]QueueStats, 0, len(queues))
	for _, queue := range queues {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil {
			return out, fmt.Errorf("jobs cli: queue %s: %w", queue, err)
		}
		stats := QueueStats{Queue: queue}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
