package declaration

import (
	"context"
	"log/slog"
)

// Submitter delivers a single line declaration to the reporting authority.
type Submitter interface {
	Submit(ctx context.Context, line UndeclaredLine) error
}

// LogSubmitter only logs declarations. Used until an authority transport is
// configured.
type LogSubmitter struct {
	Logger *slog.Logger
}

// Submit implements Submitter.
func (s LogSubmitter) Submit(_ context.Context, line UndeclaredLine) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("declaration submitted",
		slog.Int64("ticket_id", line.TicketID),
		slog.Int("line_index", line.LineIndex),
		slog.String("waste_stream_number", line.WasteStreamNumber.String()),
		slog.String("weight_kg", line.Weight.String()),
	)
	return nil
}
