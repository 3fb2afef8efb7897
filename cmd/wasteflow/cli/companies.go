package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/companies"
)

// CompanyStore persists companies. *companies.Repository satisfies it.
type CompanyStore interface {
	Upsert(ctx context.Context, c companies.Company) (uuid.UUID, error)
}

// CacheBumper invalidates cached lookups. *companies.CachedLookup satisfies it.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// CompaniesCLI loads the company register used by imports and tickets.
type CompaniesCLI struct {
	store CompanyStore
	cache CacheBumper
}

// NewCompaniesCLI constructs the helper. cache may be nil.
func NewCompaniesCLI(store CompanyStore, cache CacheBumper) *CompaniesCLI {
	return &CompaniesCLI{store: store, cache: cache}
}

// Load reads a JSON array of companies and upserts every entry by KvK number.
// Decoding validates the value objects, so a bad entry aborts before any write.
func (c *CompaniesCLI) Load(ctx context.Context, r io.Reader) (int, error) {
	if c == nil || c.store == nil {
		return 0, errors.New("companies cli: store not configured")
	}
	var list []companies.Company
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return 0, fmt.Errorf("companies cli: decode: %w", err)
	}
	for i, company := range list {
		if company.Name == "" {
			return 0, fmt.Errorf("companies cli: entry %d: name required", i+1)
		}
	}
	loaded := 0
	for _, company := range list {
		if _, err := c.store.Upsert(ctx, company); err != nil {
			return loaded, fmt.Errorf("companies cli: upsert %s: %w", company.KvK, err)
		}
		loaded++
	}
	if c.cache != nil && loaded > 0 {
		if err := c.cache.Bump(ctx); err != nil {
			return loaded, fmt.Errorf("companies cli: invalidate cache: %w", err)
		}
	}
	return loaded, nil
}
