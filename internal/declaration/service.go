package declaration

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// RepositoryPort abstracts persistence for declaration state.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// FindLinesWeighedBefore returns lines of non-cancelled tickets weighed
	// strictly before the given instant.
	FindLinesWeighedBefore(ctx context.Context, before time.Time) ([]UndeclaredLine, error)
	LoadLineForUpdate(ctx context.Context, ticketID int64, lineIndex int) (UndeclaredLine, error)
	SaveState(ctx context.Context, ticketID int64, lineIndex int, state LineDeclarationState) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// ServiceConfig groups the regulatory calendar settings.
type ServiceConfig struct {
	Location    *time.Location
	DeadlineDay int
}

// Service selects undeclared lines and records declarations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	loc         *time.Location
	deadlineDay int
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the declaration service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	day := cfg.DeadlineDay
	if day == 0 {
		day = DefaultDeadlineDay
	}
	return &Service{repo: repo, audit: audit, loc: loc, deadlineDay: day, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Cutoff returns the current cutoff month in the regulatory location.
func (s *Service) Cutoff() YearMonth {
	return CutoffYearMonthWithDeadline(s.now(), s.loc, s.deadlineDay)
}

// Undeclared returns lines weighed before the cutoff month that still need a
// declaration. The read runs in a single snapshot transaction.
func (s *Service) Undeclared(ctx context.Context) ([]UndeclaredLine, error) {
	cutoff := s.Cutoff()
	before := cutoff.FirstInstant(s.loc)
	var out []UndeclaredLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := tx.FindLinesWeighedBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("declaration: find lines before %s: %w", cutoff, err)
		}
		for _, l := range lines {
			if !l.WeighedAt.Before(before) {
				continue
			}
			if NeedsDeclaration(l.Line(), l.State) {
				out = append(out, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("undeclared lines selected", slog.String("cutoff", cutoff.String()), slog.Int("count", len(out)))
	return out, nil
}

// MarkDeclared records that a line was declared at its current weight. A line
// already declared at that weight is left untouched.
func (s *Service) MarkDeclared(ctx context.Context, ticketID int64, lineIndex int, actor string) (LineDeclarationState, error) {
	if strings.TrimSpace(actor) == "" {
		return LineDeclarationState{}, ErrActorRequired
	}
	var (
		state   LineDeclarationState
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.LoadLineForUpdate(ctx, ticketID, lineIndex)
		if err != nil {
			return err
		}
		if line.TicketCancelled {
			return ErrTicketCancelled
		}
		if !NeedsDeclaration(line.Line(), line.State) {
			state = line.State
			return nil
		}
		state = RecordDeclaration(line.Line(), s.now())
		changed = true
		return tx.SaveState(ctx, ticketID, lineIndex, state)
	})
	if err != nil {
		return LineDeclarationState{}, err
	}
	if changed && s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditEntry{
			Actor:    actor,
			Action:   "weight_ticket_line.declared",
			Entity:   shared.AuditEntityWeightTicket,
			EntityID: strconv.FormatInt(ticketID, 10),
			Meta:     map[string]any{"line_index": lineIndex, "declared_weight": state.DeclaredWeight.String()},
			At:       *state.LastDeclaredAt,
		})
		if err != nil {
			s.logger.Warn("declaration audit", slog.Int64("ticket_id", ticketID), slog.Any("error", err))
		}
	}
	return state, nil
}

// Line loads a single line with its declaration state.
func (s *Service) Line(ctx context.Context, ticketID int64, lineIndex int) (UndeclaredLine, error) {
	var line UndeclaredLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		line, err = tx.LoadLineForUpdate(ctx, ticketID, lineIndex)
		if err == nil && line.TicketCancelled {
			err = ErrTicketCancelled
		}
		return err
	})
	return line, err
}
