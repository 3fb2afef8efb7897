package lmaimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wasteflow/wasteflow/internal/companies"
)

// RepositoryPort abstracts persistence for waste streams and the error ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	WasteStreamExists(ctx context.Context, number string) (bool, error)
	// InsertWasteStream returns ErrDuplicateWasteStream when the number is
	// already registered, including by a concurrent batch.
	InsertWasteStream(ctx context.Context, ws WasteStream) error
	InsertError(ctx context.Context, e ImportError) error
	ListErrors(ctx context.Context, batchID uuid.UUID) ([]ImportError, error)
	ListUnresolved(ctx context.Context, limit int) ([]ImportError, error)
	DeleteAllErrors(ctx context.Context) (int64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LoadErrorForUpdate(ctx context.Context, id uuid.UUID) (*ImportError, error)
	SaveResolution(ctx context.Context, e ImportError) error
}

// ServiceConfig tunes batch processing.
type ServiceConfig struct {
	// Workers bounds concurrent lookups per batch.
	Workers int
}

// Service runs import batches and manages the error ledger.
type Service struct {
	repo    RepositoryPort
	lookup  companies.Lookup
	workers int
	logger  *slog.Logger
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewService constructs the import service.
func NewService(repo RepositoryPort, lookup companies.Lookup, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		repo:    repo,
		lookup:  lookup,
		workers: workers,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RunBatch imports rows under a new batch id. Row problems land in the error
// ledger and never fail the batch. A returned error means a storage or lookup
// outage or cancellation; the partial Result then reflects the rows already
// committed, which are not rolled back.
func (s *Service) RunBatch(ctx context.Context, rows []Row) (*Result, error) {
	result := &Result{BatchID: s.newID(), TotalRows: len(rows), Errors: []ImportError{}}
	logger := s.logger.With(slog.String("batch_id", result.BatchID.String()))
	logger.Info("lma import started", slog.Int("rows", len(rows)))

	seen := make(map[string]int, len(rows))
	chunk := s.workers * 8
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		checked, err := s.checkChunk(ctx, rows[start:end], start)
		if err != nil {
			return s.finish(logger, result, err)
		}
		for _, c := range checked {
			if err := ctx.Err(); err != nil {
				return s.finish(logger, result, err)
			}
			if err := s.commitRow(ctx, result, seen, c); err != nil {
				return s.finish(logger, result, err)
			}
		}
	}
	return s.finish(logger, result, nil)
}

func (s *Service) finish(logger *slog.Logger, result *Result, err error) (*Result, error) {
	sort.SliceStable(result.Errors, func(i, j int) bool { return result.Errors[i].RowNumber < result.Errors[j].RowNumber })
	attrs := []any{
		slog.Int("total", result.TotalRows),
		slog.Int("imported", result.SuccessfulImports),
		slog.Int("skipped", result.SkippedRows),
		slog.Int("errors", result.ErrorCount),
	}
	if err != nil {
		logger.Error("lma import aborted", append(attrs, slog.Any("error", err))...)
		return result, fmt.Errorf("lma import: batch %s: %w", result.BatchID, err)
	}
	logger.Info("lma import finished", attrs...)
	return result, nil
}

// checkChunk runs the row-independent checks concurrently and returns them in
// input order.
func (s *Service) checkChunk(ctx context.Context, rows []Row, offset int) ([]checkedRow, error) {
	out := make([]checkedRow, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range rows {
		row := rows[i]
		if row.Number == 0 {
			row.Number = offset + i + 1
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := checkIndependent(gctx, s.lookup, row)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// commitRow runs the order-dependent rules and persists the outcome.
func (s *Service) commitRow(ctx context.Context, result *Result, seen map[string]int, c checkedRow) error {
	if c.skip {
		result.SkippedRows++
		return nil
	}
	if c.failure != nil {
		return s.recordFailure(ctx, result, c, c.failure)
	}

	if first, dup := seen[c.number]; dup {
		return s.recordFailure(ctx, result, c, fail(CodeDuplicateWasteStream,
			"row %d: waste stream number %s already appears in row %d", c.row.Number, c.number, first))
	}
	exists, err := s.repo.WasteStreamExists(ctx, c.number)
	if err != nil {
		return fmt.Errorf("check waste stream %s: %w", c.number, err)
	}
	if exists {
		return s.recordFailure(ctx, result, c, fail(CodeDuplicateWasteStream,
			"row %d: waste stream number %s is already registered", c.row.Number, c.number))
	}

	number, failure := checkBusinessRules(c)
	if failure != nil {
		return s.recordFailure(ctx, result, c, failure)
	}

	ws := WasteStream{
		Number:             number,
		EuralCode:          c.eural,
		ProcessingMethod:   c.method,
		WasteName:          c.row.Get(ColWasteName),
		ConsignorCompanyID: c.consignor.ID,
		ProcessorCompanyID: c.processor.ID,
		BatchID:            result.BatchID,
		ImportedAt:         s.now(),
	}
	if err := s.repo.InsertWasteStream(ctx, ws); err != nil {
		if errors.Is(err, ErrDuplicateWasteStream) {
			return s.recordFailure(ctx, result, c, fail(CodeDuplicateWasteStream,
				"row %d: waste stream number %s was registered concurrently", c.row.Number, c.number))
		}
		return fmt.Errorf("insert waste stream %s: %w", c.number, err)
	}
	seen[c.number] = c.row.Number
	result.SuccessfulImports++
	return nil
}

func (s *Service) recordFailure(ctx context.Context, result *Result, c checkedRow, f *rowFailure) error {
	e := ImportError{
		ID:        s.newID(),
		BatchID:   result.BatchID,
		RowNumber: c.row.Number,
		Code:      f.code,
		Message:   f.message,
		RawRow:    c.row.Fields,
		CreatedAt: s.now(),
	}
	if c.number != "" {
		number := c.number
		e.WasteStreamNumber = &number
	}
	if err := s.repo.InsertError(ctx, e); err != nil {
		return fmt.Errorf("record import error row %d: %w", c.row.Number, err)
	}
	result.ErrorCount++
	result.Errors = append(result.Errors, e)
	return nil
}

// ResolveError marks a ledger entry resolved. Resolving twice returns the
// first resolution unchanged.
func (s *Service) ResolveError(ctx context.Context, id uuid.UUID, resolvedBy string) (*ImportError, error) {
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return nil, ErrResolverRequired
	}
	var out *ImportError
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.LoadErrorForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = e
		if !e.Resolve(resolvedBy, s.now()) {
			return nil
		}
		return tx.SaveResolution(ctx, *e)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListErrors returns the ledger entries of one batch ordered by row.
func (s *Service) ListErrors(ctx context.Context, batchID uuid.UUID) ([]ImportError, error) {
	return s.repo.ListErrors(ctx, batchID)
}

// ListUnresolved returns the oldest unresolved entries across batches.
func (s *Service) ListUnresolved(ctx context.Context, limit int) ([]ImportError, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListUnresolved(ctx, limit)
}

// ClearAll deletes every ledger entry. Administrative use only.
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAllErrors(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("lma import error ledger cleared", slog.Int64("deleted", n))
	return n, nil
}
