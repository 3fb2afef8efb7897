package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict is returned when a key was already claimed in its scope.
var ErrIdempotencyConflict = fmt.Errorf("idempotency key already claimed: %w", ErrConcurrencyConflict)

// IdempotencyStore claims keys per scope so redelivered work runs once.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Claim records key within scope. A second claim fails with ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	if scope == "" || key == "" {
		return errors.New("idempotency scope and key required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (scope, key, created_at) VALUES ($1, $2, $3)`,
		scope, key, s.now())
	if IsPgCode(err, UniqueViolation) {
		return fmt.Errorf("%s/%s: %w", scope, key, ErrIdempotencyConflict)
	}
	return err
}

// Release drops a claim so the work can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key)
	return err
}
