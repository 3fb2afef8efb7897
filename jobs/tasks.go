package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueDeclarations carries per-line declaration submissions.
	QueueDeclarations = "declarations"

	// TaskDeclarationBackfill selects undeclared lines and fans out TaskDeclareLine.
	TaskDeclarationBackfill = "declaration:backfill"
	// TaskDeclareLine submits one weight ticket line and records the declaration.
	TaskDeclareLine = "declaration:line"
	// TaskImportBatch runs an LMA import for an uploaded file.
	TaskImportBatch = "lma:import-batch"
)

// DeclarationBackfillPayload carries scheduling metadata.
type DeclarationBackfillPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewDeclarationBackfillTask constructs the cron task.
func NewDeclarationBackfillTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(DeclarationBackfillPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeclarationBackfill, body, asynq.Queue(QueueDefault)), nil
}

// DeclareLinePayload identifies one line at the weight observed when the
// backfill selected it.
type DeclareLinePayload struct {
	TicketID  int64  `json:"weight_ticket_id"`
	LineIndex int    `json:"line_index"`
	WeightKg  string `json:"weight_kg"`
}

// TaskID is stable for a line at a given weight so repeated backfills do not
// queue the same declaration twice.
func (p DeclareLinePayload) TaskID() string {
	return fmt.Sprintf("declare:%d:%d:%s", p.TicketID, p.LineIndex, p.WeightKg)
}

// NewDeclareLineTask constructs a per-line declaration task.
func NewDeclareLineTask(payload DeclareLinePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeclareLine, body), nil
}

// ImportBatchPayload points at an upload stored under the import directory.
type ImportBatchPayload struct {
	// File is relative to the configured upload directory.
	File string `json:"file"`
	// Key deduplicates retried submissions of the same upload.
	Key string `json:"key"`
}

// NewImportBatchTask constructs an LMA import task.
func NewImportBatchTask(payload ImportBatchPayload) (*asynq.Task, error) {
	if payload.File == "" {
		return nil, errors.New("jobs: import batch file required")
	}
	if payload.Key == "" {
		payload.Key = payload.File
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportBatch, body, asynq.Queue(QueueDefault)), nil
}
