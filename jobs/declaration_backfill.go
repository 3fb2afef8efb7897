package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wasteflow/wasteflow/internal/declaration"
	jobmetrics "github.com/wasteflow/wasteflow/internal/jobs"
)

// UndeclaredSource lists lines past the declaration cutoff.
type UndeclaredSource interface {
	Undeclared(ctx context.Context) ([]declaration.UndeclaredLine, error)
}

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DeclarationBackfillJob fans out one TaskDeclareLine per undeclared line.
type DeclarationBackfillJob struct {
	Source   UndeclaredSource
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewDeclarationBackfillJob initialises the backfill handler.
func NewDeclarationBackfillJob(source UndeclaredSource, enqueuer Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeclarationBackfillJob {
	return &DeclarationBackfillJob{Source: source, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// Handle executes the backfill.
func (j *DeclarationBackfillJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Enqueuer == nil {
		return errors.New("declaration backfill: handler not configured")
	}
	tracker := j.Metrics.Track(TaskDeclarationBackfill)
	defer func() {
		err = tracker.End(err)
	}()
	start := time.Now()
	logger := j.logger()

	lines, err := j.Source.Undeclared(ctx)
	if err != nil {
		logger.Error("declaration backfill: select lines", slog.Any("error", err))
		return err
	}

	queued, duplicates := 0, 0
	for _, line := range lines {
		payload := DeclareLinePayload{
			TicketID:  line.TicketID,
			LineIndex: line.LineIndex,
			WeightKg:  line.Weight.String(),
		}
		task, err := NewDeclareLineTask(payload)
		if err != nil {
			return err
		}
		_, err = j.Enqueuer.EnqueueContext(ctx, task,
			asynq.Queue(QueueDeclarations),
			asynq.TaskID(payload.TaskID()),
			asynq.MaxRetry(10),
		)
		switch {
		case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
			duplicates++
		case err != nil:
			logger.Error("declaration backfill: enqueue", slog.Int64("ticket_id", line.TicketID),
				slog.Int("line_index", line.LineIndex), slog.Any("error", err))
			return err
		default:
			queued++
		}
	}
	j.Metrics.ObserveDeclarations("queued", queued)

	logger.Info("declaration backfill completed",
		slog.Int("undeclared", len(lines)),
		slog.Int("queued", queued),
		slog.Int("already_queued", duplicates),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *DeclarationBackfillJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
