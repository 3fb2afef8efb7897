package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/wasteflow/wasteflow/internal/jobs"
	"github.com/wasteflow/wasteflow/internal/lmaimport"
	"github.com/wasteflow/wasteflow/internal/shared"
)

const importIdempotencyScope = "lma_import"

// BatchRunner runs an import batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, rows []lmaimport.Row) (*lmaimport.Result, error)
}

// IdempotencyPort records processed upload keys. *shared.IdempotencyStore
// satisfies it.
type IdempotencyPort interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// ImportBatchJob imports an uploaded LMA export from the upload directory.
type ImportBatchJob struct {
	Runner      BatchRunner
	Idempotency IdempotencyPort
	UploadDir   string
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewImportBatchJob initialises the import handler. idempotency may be nil.
func NewImportBatchJob(runner BatchRunner, idempotency IdempotencyPort, uploadDir string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ImportBatchJob {
	return &ImportBatchJob{Runner: runner, Idempotency: idempotency, UploadDir: uploadDir, Logger: logger, Metrics: metrics}
}

// Handle executes a TaskImportBatch task. Unreadable files are not retried.
func (j *ImportBatchJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Runner == nil {
		return errors.New("import batch: handler not configured")
	}
	var payload ImportBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("import batch: payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskImportBatch)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.logger().With(slog.String("file", payload.File))

	path, err := j.resolve(payload.File)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	key := payload.Key
	if key == "" {
		key = payload.File
	}
	if j.Idempotency != nil {
		if err := j.Idempotency.Claim(ctx, importIdempotencyScope, key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				logger.Info("import batch already processed", slog.String("key", key))
				return nil
			}
			return err
		}
	}

	result, err := j.run(ctx, path)
	if result != nil {
		j.Metrics.AddImportRows("imported", result.SuccessfulImports)
		j.Metrics.AddImportRows("skipped", result.SkippedRows)
		j.Metrics.AddImportRows("error", result.ErrorCount)
	}
	if err != nil {
		if errors.Is(err, lmaimport.ErrUnreadableBatch) {
			logger.Warn("import batch unreadable", slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		// A retry imports the remaining rows; committed rows come back as duplicates.
		if j.Idempotency != nil {
			if delErr := j.Idempotency.Release(ctx, importIdempotencyScope, key); delErr != nil {
				logger.Warn("import batch: release idempotency key", slog.Any("error", delErr))
			}
		}
		logger.Error("import batch failed", slog.Any("error", err))
		return err
	}
	logger.Info("import batch completed",
		slog.String("batch_id", result.BatchID.String()),
		slog.Int("imported", result.SuccessfulImports),
		slog.Int("errors", result.ErrorCount),
	)
	return nil
}

func (j *ImportBatchJob) run(ctx context.Context, path string) (*lmaimport.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("import batch: open: %w", err)
	}
	defer f.Close()
	rows, err := lmaimport.ReadFile(path, f)
	if err != nil {
		return nil, err
	}
	return j.Runner.RunBatch(ctx, rows)
}

// resolve keeps the file inside the upload directory.
func (j *ImportBatchJob) resolve(file string) (string, error) {
	base, err := filepath.Abs(j.UploadDir)
	if err != nil {
		return "", fmt.Errorf("import batch: upload dir: %w", err)
	}
	path := filepath.Join(base, filepath.Clean("/"+file))
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("import batch: file %q outside upload dir", file)
	}
	return path, nil
}

func (j *ImportBatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
