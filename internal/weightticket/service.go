package weightticket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*WeightTicket, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// LockPort guards a critical section keyed by string.
type LockPort interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// TransitionObserver is notified of every transition attempt.
type TransitionObserver interface {
	ObserveTransition(action string, err error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	CancelPolicy CancelPolicy
	Observer     TransitionObserver
}

// Service coordinates weight ticket transitions. Every transition runs as
// load-for-update, transition, versioned save inside one transaction.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	locker   LockPort
	policy   CancelPolicy
	observer TransitionObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. audit and locker may be nil.
func NewService(repo RepositoryPort, audit AuditPort, locker LockPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		locker:   locker,
		policy:   cfg.CancelPolicy,
		observer: cfg.Observer,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a DRAFT ticket and assigns the next ticket number.
func (s *Service) Create(ctx context.Context, in DraftInput, actor string) (*WeightTicket, error) {
	ticket, err := NewDraft(in, actor, s.now())
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, ticket)
		if err != nil {
			return fmt.Errorf("weightticket: insert: %w", err)
		}
		ticket.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, ticket, "weight_ticket.created", actor, nil)
	return ticket, nil
}

// Get loads a ticket by number.
func (s *Service) Get(ctx context.Context, id int64) (*WeightTicket, error) {
	return s.repo.Get(ctx, id)
}

// AddLine attaches a line to a DRAFT ticket.
func (s *Service) AddLine(ctx context.Context, id int64, line Line, actor string) (*WeightTicket, error) {
	return s.transition(ctx, id, "weight_ticket.line_added", actor, nil, func(t *WeightTicket, at time.Time) error {
		return t.AddLine(line, actor, at)
	})
}

// Complete finishes weighing with the supplied lines.
func (s *Service) Complete(ctx context.Context, id int64, lines []Line, actor string) (*WeightTicket, error) {
	return s.transition(ctx, id, "weight_ticket.completed", actor, nil, func(t *WeightTicket, at time.Time) error {
		return t.Complete(lines, actor, at)
	})
}

// Cancel voids a ticket according to the configured policy.
func (s *Service) Cancel(ctx context.Context, id int64, actor string) (*WeightTicket, error) {
	return s.transition(ctx, id, "weight_ticket.cancelled", actor, nil, func(t *WeightTicket, at time.Time) error {
		return t.Cancel(s.policy, actor, at)
	})
}

// Invoice marks a completed ticket as billed. Called by the billing collaborator,
// which may pass the billed amount for the audit trail.
func (s *Service) Invoice(ctx context.Context, id int64, actor string, amount *values.Money) (*WeightTicket, error) {
	var meta map[string]any
	if amount != nil {
		meta = map[string]any{"invoiced_amount": amount.String()}
	}
	return s.transition(ctx, id, "weight_ticket.invoiced", actor, meta, func(t *WeightTicket, at time.Time) error {
		return t.Invoice(actor, at)
	})
}

func (s *Service) transition(ctx context.Context, id int64, action, actor string, meta map[string]any, apply func(*WeightTicket, time.Time) error) (*WeightTicket, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var ticket *WeightTicket
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.LoadForUpdate(ctx, id)
			if err != nil {
				return err
			}
			expected := current.Version
			if err := apply(current, s.now()); err != nil {
				return err
			}
			if err := tx.Update(ctx, current, expected); err != nil {
				return err
			}
			ticket = current
			return nil
		})
	}
	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.WeightTicketLockKey(id), run)
	} else {
		err = run(ctx)
	}
	if s.observer != nil {
		s.observer.ObserveTransition(action, err)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, ticket, action, actor, meta)
	return ticket, nil
}

func (s *Service) record(ctx context.Context, t *WeightTicket, action, actor string, extra map[string]any) {
	if s.audit == nil || t == nil {
		return
	}
	meta := map[string]any{"status": string(t.Status()), "version": t.Version}
	for k, v := range extra {
		meta[k] = v
	}
	err := s.audit.Record(ctx, shared.AuditEntry{
		Actor:    actor,
		Action:   action,
		Entity:   shared.AuditEntityWeightTicket,
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta:     meta,
		At:       t.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("weight ticket audit", slog.Int64("ticket_id", t.ID), slog.Any("error", err))
	}
}
