package lmaimport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wasteflow/wasteflow/internal/platform/db"
	"github.com/wasteflow/wasteflow/internal/shared"
)

// Repository provides PostgreSQL backed persistence for imports.
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

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// WasteStreamExists checks the registry for a number.
func (r *Repository) WasteStreamExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM waste_streams WHERE number = $1)`, number).Scan(&exists)
	return exists, err
}

// InsertWasteStream registers an accepted row. The primary key on number
// catches batches racing on the same waste stream.
func (r *Repository) InsertWasteStream(ctx context.Context, ws WasteStream) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waste_streams (number, eural_code, processing_method, waste_name,
		                           consignor_company_id, processor_company_id, import_batch_id, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ws.Number.String(), ws.EuralCode.String(), ws.ProcessingMethod.String(), ws.WasteName,
		ws.ConsignorCompanyID, ws.ProcessorCompanyID, ws.BatchID, ws.ImportedAt,
	)
	if shared.IsPgCode(err, shared.UniqueViolation) {
		return ErrDuplicateWasteStream
	}
	return err
}

// InsertError appends a ledger entry.
func (r *Repository) InsertError(ctx context.Context, e ImportError) error {
	raw, err := json.Marshal(e.RawRow)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lma_import_errors (id, batch_id, row_number, waste_stream_number, error_code,
		                               message, raw_row, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.BatchID, e.RowNumber, e.WasteStreamNumber, string(e.Code), e.Message, raw, e.CreatedAt,
	)
	return err
}

const selectErrors = `
	SELECT id, batch_id, row_number, waste_stream_number, error_code, message, raw_row,
	       created_at, resolved_at, resolved_by
	FROM lma_import_errors`

// ListErrors returns entries of one batch ordered by row.
func (r *Repository) ListErrors(ctx context.Context, batchID uuid.UUID) ([]ImportError, error) {
	return r.query(ctx, selectErrors+` WHERE batch_id = $1 ORDER BY row_number`, batchID)
}

// ListUnresolved returns the oldest unresolved entries.
func (r *Repository) ListUnresolved(ctx context.Context, limit int) ([]ImportError, error) {
	return r.query(ctx, selectErrors+` WHERE resolved_at IS NULL ORDER BY created_at, row_number LIMIT $1`, limit)
}

// DeleteAllErrors empties the ledger.
func (r *Repository) DeleteAllErrors(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM lma_import_errors`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) LoadErrorForUpdate(ctx context.Context, id uuid.UUID) (*ImportError, error) {
	e, err := scanError(t.tx.QueryRow(ctx, selectErrors+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrErrorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *txRepo) SaveResolution(ctx context.Context, e ImportError) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE lma_import_errors SET resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL`, e.ID, e.ResolvedAt, e.ResolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrErrorNotFound
	}
	return nil
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]ImportError, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ImportError{}
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanError(row pgx.Row) (ImportError, error) {
	var (
		e    ImportError
		code string
		raw  []byte
	)
	err := row.Scan(&e.ID, &e.BatchID, &e.RowNumber, &e.WasteStreamNumber, &code, &e.Message, &raw,
		&e.CreatedAt, &e.ResolvedAt, &e.ResolvedBy)
	if err != nil {
		return ImportError{}, err
	}
	e.Code = ErrorCode(code)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.RawRow); err != nil {
			return ImportError{}, err
		}
	}
	return e, nil
}
