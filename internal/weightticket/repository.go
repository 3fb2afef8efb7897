package weightticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wasteflow/wasteflow/internal/platform/db"
	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

// Repository provides PostgreSQL backed persistence for weight tickets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, t *WeightTicket) (int64, error)
	LoadForUpdate(ctx context.Context, id int64) (*WeightTicket, error)
	// Update persists t when the stored version still equals expectedVersion
	// and bumps t.Version on success.
	Update(ctx context.Context, t *WeightTicket, expectedVersion int64) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction. A LoadForUpdate that
// blocks behind another writer then returns the row that writer committed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return mapConflict(err)
}

const selectTicket = `
	SELECT id, consignor_party_id, carrier_party_id, truck_license_plate, status,
	       reclamation, note, created_at, weighted_at, cancelled_at, invoiced_at,
	       updated_by, updated_at, version
	FROM weight_tickets
	WHERE id = $1`

// Get retrieves a ticket with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*WeightTicket, error) {
	return loadTicket(ctx, r.pool, selectTicket, id)
}

func (t *txRepo) LoadForUpdate(ctx context.Context, id int64) (*WeightTicket, error) {
	ticket, err := loadTicket(ctx, t.tx, selectTicket+" FOR UPDATE", id)
	if err != nil {
		return nil, mapConflict(err)
	}
	return ticket, nil
}

func (t *txRepo) Insert(ctx context.Context, ticket *WeightTicket) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO weight_tickets (consignor_party_id, carrier_party_id, truck_license_plate, status,
		                            reclamation, note, created_at, updated_by, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
		RETURNING id`,
		ticket.ConsignorPartyID, ticket.CarrierPartyID, ticket.TruckLicensePlate, string(ticket.status),
		ticket.Reclamation, ticket.Note, ticket.CreatedAt, ticket.UpdatedBy, ticket.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := insertLines(ctx, t.tx, id, ticket.lines); err != nil {
		return 0, err
	}
	ticket.linesChanged = false
	return id, nil
}

func (t *txRepo) Update(ctx context.Context, ticket *WeightTicket, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE weight_tickets
		SET status = $2, weighted_at = $3, cancelled_at = $4, invoiced_at = $5,
		    updated_by = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8`,
		ticket.ID, string(ticket.status), ticket.WeightedAt, ticket.CancelledAt, ticket.InvoicedAt,
		ticket.UpdatedBy, ticket.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return mapConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	if ticket.linesChanged {
		if _, err := t.tx.Exec(ctx, `DELETE FROM weight_ticket_lines WHERE weight_ticket_id = $1`, ticket.ID); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
		if err := insertLines(ctx, t.tx, ticket.ID, ticket.lines); err != nil {
			return err
		}
		ticket.linesChanged = false
	}
	ticket.Version = expectedVersion + 1
	return nil
}

func insertLines(ctx context.Context, q querier, ticketID int64, lines []Line) error {
	for i, line := range lines {
		_, err := q.Exec(ctx, `
			INSERT INTO weight_ticket_lines (weight_ticket_id, line_index, waste_stream_number, weight_kg)
			VALUES ($1, $2, $3, $4::numeric)`,
			ticketID, i, line.WasteStreamNumber.String(), line.Weight.Kilograms().String(),
		)
		if err != nil {
			return fmt.Errorf("insert line %d: %w", i, err)
		}
	}
	return nil
}

func loadTicket(ctx context.Context, q querier, query string, id int64) (*WeightTicket, error) {
	var (
		t         WeightTicket
		status    string
		consignor uuid.UUID
		carrier   *uuid.UUID
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&t.ID, &consignor, &carrier, &t.TruckLicensePlate, &status,
		&t.Reclamation, &t.Note, &t.CreatedAt, &t.WeightedAt, &t.CancelledAt, &t.InvoicedAt,
		&t.UpdatedBy, &t.UpdatedAt, &t.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ConsignorPartyID = consignor
	t.CarrierPartyID = carrier
	t.status = Status(status)
	if !t.status.IsValid() {
		return nil, fmt.Errorf("weight ticket %d: unknown status %q", t.ID, status)
	}

	lines, err := loadLines(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	t.lines = lines
	return &t, nil
}

func loadLines(ctx context.Context, q querier, ticketID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT waste_stream_number, weight_kg::text
		FROM weight_ticket_lines
		WHERE weight_ticket_id = $1
		ORDER BY line_index`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var number, weight string
		if err := rows.Scan(&number, &weight); err != nil {
			return nil, err
		}
		wsn, err := values.NewWasteStreamNumber(number)
		if err != nil {
			return nil, fmt.Errorf("ticket %d line: %w", ticketID, err)
		}
		w, err := values.ParseWeight(weight)
		if err != nil {
			return nil, fmt.Errorf("ticket %d line: %w", ticketID, err)
		}
		lines = append(lines, Line{WasteStreamNumber: wsn, Weight: w})
	}
	return lines, rows.Err()
}

func mapConflict(err error) error {
	if shared.IsPgCode(err, shared.SerializationFailure) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}
