package companies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "companies:version"

// CachedLookup fronts a Lookup with a versioned redis cache. Only hits are
// cached; a missing company is looked up again on the next call.
type CachedLookup struct {
	next   Lookup
	client *redis.Client
	ttl    time.Duration
}

// NewCachedLookup wraps next. A nil client disables caching.
func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{next: next, client: client, ttl: ttl}
}

// FindByRegistrationID implements Lookup.
func (c *CachedLookup) FindByRegistrationID(ctx context.Context, kvk string) (*Company, error) {
	return c.fetch(ctx, "kvk", kvk, func(ctx context.Context) (*Company, error) {
		return c.next.FindByRegistrationID(ctx, kvk)
	})
}

// FindProcessorParty implements Lookup.
func (c *CachedLookup) FindProcessorParty(ctx context.Context, number string) (*Company, error) {
	return c.fetch(ctx, "processor", number, func(ctx context.Context) (*Company, error) {
		return c.next.FindProcessorParty(ctx, number)
	})
}

// Bump invalidates every cached entry by moving to a new key version.
func (c *CachedLookup) Bump(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *CachedLookup) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

func (c *CachedLookup) fetch(ctx context.Context, kind, id string, loader func(context.Context) (*Company, error)) (*Company, error) {
	if c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return nil, fmt.Errorf("companies cache: version: %w", err)
	}
	key := strings.Join([]string{"companies", kind, id, fmt.Sprint(ver)}, ":")

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var company Company
		if err := json.Unmarshal(payload, &company); err == nil {
			return &company, nil
		}
		// unreadable entry: fall through and overwrite it
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("companies cache: get: %w", err)
	}

	company, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(company)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("companies cache: set: %w", err)
	}
	return company, nil
}
