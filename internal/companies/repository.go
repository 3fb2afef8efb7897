package companies

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed company lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectCompany = `
	SELECT id, name, kvk_number, COALESCE(processor_number, ''), COALESCE(vihb_number, ''),
	       street, building_number, postal_code, city, country
	FROM companies`

// FindByRegistrationID looks a company up by its chamber of commerce number.
func (r *Repository) FindByRegistrationID(ctx context.Context, kvk string) (*Company, error) {
	c, err := r.scanOne(ctx, selectCompany+` WHERE kvk_number = $1 AND deleted_at IS NULL`, kvk)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("kvk %s: %w", kvk, ErrCompanyNotFound)
	}
	return c, err
}

// FindProcessorParty looks a company up by its processor number.
func (r *Repository) FindProcessorParty(ctx context.Context, processorNumber string) (*Company, error) {
	c, err := r.scanOne(ctx, selectCompany+` WHERE processor_number = $1 AND deleted_at IS NULL`, processorNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("processor %s: %w", processorNumber, ErrProcessorNotFound)
	}
	return c, err
}

// Upsert stores a company keyed by KvK number and returns its id.
func (r *Repository) Upsert(ctx context.Context, c Company) (uuid.UUID, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var processor, vihb *string
	if c.ProcessorNumber != "" {
		processor = &c.ProcessorNumber
	}
	if !c.VIHB.IsZero() {
		v := c.VIHB.String()
		vihb = &v
	}
	var street, building, postal, city, country *string
	if a := c.Address; a != nil {
		pc := a.PostalCode.String()
		street, building, postal, city, country = &a.Street, &a.BuildingNumber, &pc, &a.City, &a.Country
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO companies (id, name, kvk_number, processor_number, vihb_number,
		                       street, building_number, postal_code, city, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (kvk_number) DO UPDATE
		SET name = EXCLUDED.name, processor_number = EXCLUDED.processor_number,
		    vihb_number = EXCLUDED.vihb_number, street = EXCLUDED.street,
		    building_number = EXCLUDED.building_number, postal_code = EXCLUDED.postal_code,
		    city = EXCLUDED.city, country = EXCLUDED.country, deleted_at = NULL
		RETURNING id`,
		c.ID, c.Name, c.KvK.String(), processor, vihb, street, building, postal, city, country,
	).Scan(&id)
	return id, err
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*Company, error) {
	var (
		rec                                   companyRecord
		street, building, postal, city, cntry *string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.Name, &rec.KvK, &rec.ProcessorNumber, &rec.VIHB,
		&street, &building, &postal, &city, &cntry,
	)
	if err != nil {
		return nil, err
	}
	if street != nil && building != nil && postal != nil && city != nil {
		rec.Address = &addressRecord{Street: *street, BuildingNumber: *building, PostalCode: *postal, City: *city}
		if cntry != nil {
			rec.Address.Country = *cntry
		}
	}
	c, err := build(rec)
	if err != nil {
		return nil, fmt.Errorf("company %s: %w", rec.ID, err)
	}
	return &c, nil
}
