package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// Repository provides PostgreSQL backed persistence for signature sets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an empty set.
func (r *Repository) Create(ctx context.Context, set Set) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO transport_signatures (transport_id, created_at) VALUES ($1, $2)`, set.TransportID, set.CreatedAt)
	if shared.IsPgCode(err, shared.UniqueViolation) {
		return ErrAlreadyExists
	}
	return err
}

// Get loads a set by transport.
func (r *Repository) Get(ctx context.Context, transportID uuid.UUID) (*Set, error) {
	set := Set{TransportID: transportID}
	var payloads, emails [4]*string
	err := r.pool.QueryRow(ctx, `
		SELECT consignor_payload, consignor_email, consignor_signed_at,
		       pickup_payload, pickup_email, pickup_signed_at,
		       carrier_payload, carrier_email, carrier_signed_at,
		       consignee_payload, consignee_email, consignee_signed_at,
		       created_at
		FROM transport_signatures
		WHERE transport_id = $1`, transportID,
	).Scan(
		&payloads[0], &emails[0], &set.Consignor.SignedAt,
		&payloads[1], &emails[1], &set.Pickup.SignedAt,
		&payloads[2], &emails[2], &set.Carrier.SignedAt,
		&payloads[3], &emails[3], &set.Consignee.SignedAt,
		&set.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	slots := []*Slot{&set.Consignor, &set.Pickup, &set.Carrier, &set.Consignee}
	for i, slot := range slots {
		slot.Payload = deref(payloads[i])
		slot.Email = deref(emails[i])
	}
	return &set, nil
}

// slotColumns maps roles to their column prefix. Only these values are ever
// interpolated into SQL.
var slotColumns = map[Role]string{
	RoleConsignor: "consignor",
	RolePickup:    "pickup",
	RoleCarrier:   "carrier",
	RoleConsignee: "consignee",
}

// RecordSlot writes the slot with a conditional update so concurrent writers
// for the same role cannot both succeed.
func (r *Repository) RecordSlot(ctx context.Context, transportID uuid.UUID, role Role, slot Slot) error {
	prefix, ok := slotColumns[role]
	if !ok {
		return ErrUnknownRole
	}
	query := fmt.Sprintf(`
		UPDATE transport_signatures
		SET %[1]s_payload = $2, %[1]s_email = $3, %[1]s_signed_at = $4
		WHERE transport_id = $1 AND %[1]s_signed_at IS NULL`, prefix)
	tag, err := r.pool.Exec(ctx, query, transportID, slot.Payload, slot.Email, slot.SignedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transport_signatures WHERE transport_id = $1)`, transportID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", role, ErrAlreadySigned)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
