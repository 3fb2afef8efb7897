package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/wasteflow/wasteflow/internal/declaration"
	jobmetrics "github.com/wasteflow/wasteflow/internal/jobs"
	"github.com/wasteflow/wasteflow/internal/shared"
)

// DeclarationActor is recorded on declarations made by the worker.
const DeclarationActor = "system:declaration-worker"

// LineDeclarer reads and updates line declaration state.
type LineDeclarer interface {
	Line(ctx context.Context, ticketID int64, lineIndex int) (declaration.UndeclaredLine, error)
	MarkDeclared(ctx context.Context, ticketID int64, lineIndex int, actor string) (declaration.LineDeclarationState, error)
}

// DeclareLineJob submits one line and records the declaration afterwards.
type DeclareLineJob struct {
	Declarer  LineDeclarer
	Submitter declaration.Submitter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDeclareLineJob initialises the per-line handler.
func NewDeclareLineJob(declarer LineDeclarer, submitter declaration.Submitter, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeclareLineJob {
	return &DeclareLineJob{Declarer: declarer, Submitter: submitter, Logger: logger, Metrics: metrics}
}

// Handle executes a TaskDeclareLine task. A line that no longer needs a
// declaration, for example because it was declared manually or its ticket
// vanished or was cancelled, completes without submitting.
func (j *DeclareLineJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Declarer == nil || j.Submitter == nil {
		return errors.New("declare line: handler not configured")
	}
	var payload DeclareLinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("declare line: payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskDeclareLine)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.logger().With(slog.Int64("ticket_id", payload.TicketID), slog.Int("line_index", payload.LineIndex))

	line, err := j.Declarer.Line(ctx, payload.TicketID, payload.LineIndex)
	if errors.Is(err, shared.ErrNotFound) {
		logger.Warn("declare line: line gone")
		j.Metrics.ObserveDeclarations("skipped", 1)
		return nil
	}
	if errors.Is(err, declaration.ErrTicketCancelled) {
		logger.Info("declare line: ticket cancelled")
		j.Metrics.ObserveDeclarations("skipped", 1)
		return nil
	}
	if err != nil {
		return err
	}
	if !declaration.NeedsDeclaration(line.Line(), line.State) {
		j.Metrics.ObserveDeclarations("skipped", 1)
		return nil
	}

	if err := j.Submitter.Submit(ctx, line); err != nil {
		logger.Error("declare line: submit", slog.Any("error", err))
		j.Metrics.ObserveDeclarations("failed", 1)
		return err
	}
	if _, err := j.Declarer.MarkDeclared(ctx, payload.TicketID, payload.LineIndex, DeclarationActor); err != nil {
		logger.Error("declare line: record declaration", slog.Any("error", err))
		return err
	}
	j.Metrics.ObserveDeclarations("declared", 1)
	logger.Info("line declared", slog.String("weight_kg", line.Weight.String()))
	return nil
}

func (j *DeclareLineJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
