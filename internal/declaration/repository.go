package declaration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wasteflow/wasteflow/internal/platform/db"
	"github.com/wasteflow/wasteflow/internal/values"
)

// Repository provides PostgreSQL backed access to line declaration state.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction so selections see one snapshot.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const lineColumns = `
	l.weight_ticket_id, l.line_index, l.waste_stream_number, l.weight_kg::text,
	t.weighted_at, l.declared_weight_kg::text, l.last_declared_at,
	t.status = 'CANCELLED'`

func (t *txRepo) FindLinesWeighedBefore(ctx context.Context, before time.Time) ([]UndeclaredLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+lineColumns+`
		FROM weight_ticket_lines l
		JOIN weight_tickets t ON t.id = l.weight_ticket_id
		WHERE t.weighted_at IS NOT NULL
		  AND t.weighted_at < $1
		  AND t.status <> 'CANCELLED'
		ORDER BY t.weighted_at, l.weight_ticket_id, l.line_index`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UndeclaredLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (t *txRepo) LoadLineForUpdate(ctx context.Context, ticketID int64, lineIndex int) (UndeclaredLine, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+lineColumns+`
		FROM weight_ticket_lines l
		JOIN weight_tickets t ON t.id = l.weight_ticket_id
		WHERE l.weight_ticket_id = $1 AND l.line_index = $2
		FOR UPDATE OF l`, ticketID, lineIndex)
	line, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UndeclaredLine{}, ErrLineNotFound
	}
	return line, err
}

func (t *txRepo) SaveState(ctx context.Context, ticketID int64, lineIndex int, state LineDeclarationState) error {
	var declared *string
	if state.DeclaredWeight != nil {
		s := state.DeclaredWeight.String()
		declared = &s
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE weight_ticket_lines
		SET declared_weight_kg = $3::numeric, last_declared_at = $4
		WHERE weight_ticket_id = $1 AND line_index = $2`,
		ticketID, lineIndex, declared, state.LastDeclaredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func scanLine(row pgx.Row) (UndeclaredLine, error) {
	var (
		line       UndeclaredLine
		number     string
		weight     string
		weighedAt  *time.Time
		declared   *string
		declaredAt *time.Time
	)
	if err := row.Scan(&line.TicketID, &line.LineIndex, &number, &weight, &weighedAt, &declared, &declaredAt, &line.TicketCancelled); err != nil {
		return UndeclaredLine{}, err
	}
	wsn, err := values.NewWasteStreamNumber(number)
	if err != nil {
		return UndeclaredLine{}, fmt.Errorf("ticket %d line %d: %w", line.TicketID, line.LineIndex, err)
	}
	w, err := values.ParseWeight(weight)
	if err != nil {
		return UndeclaredLine{}, fmt.Errorf("ticket %d line %d: %w", line.TicketID, line.LineIndex, err)
	}
	line.WasteStreamNumber = wsn
	line.Weight = w
	if weighedAt != nil {
		line.WeighedAt = *weighedAt
	}
	if declared != nil {
		d, err := decimal.NewFromString(*declared)
		if err != nil {
			return UndeclaredLine{}, fmt.Errorf("ticket %d line %d declared weight: %w", line.TicketID, line.LineIndex, err)
		}
		line.State = LineDeclarationState{DeclaredWeight: &d, LastDeclaredAt: declaredAt}
	}
	return line, nil
}
