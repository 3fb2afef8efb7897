package signature

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// RepositoryPort abstracts persistence for signature sets.
type RepositoryPort interface {
	Create(ctx context.Context, set Set) error
	Get(ctx context.Context, transportID uuid.UUID) (*Set, error)
	// RecordSlot fills the slot only while it is still empty and returns
	// ErrAlreadySigned when another writer got there first.
	RecordSlot(ctx context.Context, transportID uuid.UUID, role Role, slot Slot) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// LockPort guards a critical section keyed by string.
type LockPort interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Service records signatures.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	locker   LockPort
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service. audit and locker may be nil.
func NewService(repo RepositoryPort, audit AuditPort, locker LockPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		locker:   locker,
		validate: validator.New(),
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

// Create starts an empty set for a new transport.
func (s *Service) Create(ctx context.Context, transportID uuid.UUID) (*Set, error) {
	if transportID == uuid.Nil {
		return nil, fmt.Errorf("signature: transport id required: %w", shared.ErrValidation)
	}
	set := NewSet(transportID, s.now())
	if err := s.repo.Create(ctx, set); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetStatus reports which parties have signed.
func (s *Service) GetStatus(ctx context.Context, transportID uuid.UUID) (Status, error) {
	set, err := s.repo.Get(ctx, transportID)
	if err != nil {
		return Status{}, err
	}
	return set.Status(), nil
}

// Get returns the full set.
func (s *Service) Get(ctx context.Context, transportID uuid.UUID) (*Set, error) {
	return s.repo.Get(ctx, transportID)
}

// RecordSignature signs one slot. Two concurrent calls for the same role
// cannot both succeed: the loser gets ErrAlreadySigned.
func (s *Service) RecordSignature(ctx context.Context, transportID uuid.UUID, role Role, payload, email string) (*Set, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%q: %w", role, ErrUnknownRole)
	}
	if strings.TrimSpace(payload) == "" {
		return nil, ErrPayloadMissing
	}
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%q: %w", email, ErrInvalidEmail)
	}

	var set *Set
	run := func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, transportID)
		if err != nil {
			return err
		}
		signedAt := s.now()
		slot := Slot{Payload: payload, Email: email, SignedAt: &signedAt}
		if err := current.Sign(role, slot); err != nil {
			return err
		}
		if err := s.repo.RecordSlot(ctx, transportID, role, slot); err != nil {
			return err
		}
		set = current
		return nil
	}
	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.SignatureLockKey(transportID, string(role)), run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditEntry{
			Actor:    email,
			Action:   "signature.recorded",
			Entity:   shared.AuditEntityTransport,
			EntityID: transportID.String(),
			Meta:     map[string]any{"role": string(role), "fully_signed": set.FullySigned()},
			At:       *set.Slot(role).SignedAt,
		})
		if err != nil {
			s.logger.Warn("signature audit", slog.String("transport_id", transportID.String()), slog.Any("error", err))
		}
	}
	return set, nil
}
