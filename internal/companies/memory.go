package companies

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLookup is an in-process Lookup, used by tests and local tooling.
type MemoryLookup struct {
	mu          sync.RWMutex
	byKvK       map[string]Company
	byProcessor map[string]Company
}

// NewMemoryLookup returns a lookup seeded with companies.
func NewMemoryLookup(companies ...Company) *MemoryLookup {
	m := &MemoryLookup{byKvK: map[string]Company{}, byProcessor: map[string]Company{}}
	for _, c := range companies {
		m.Add(c)
	}
	return m
}

// Add registers or replaces a company.
func (m *MemoryLookup) Add(c Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKvK[c.KvK.String()] = c
	if c.IsProcessor() {
		m.byProcessor[c.ProcessorNumber] = c
	}
}

// FindByRegistrationID implements Lookup.
func (m *MemoryLookup) FindByRegistrationID(_ context.Context, kvk string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byKvK[kvk]
	if !ok {
		return nil, fmt.Errorf("kvk %s: %w", kvk, ErrCompanyNotFound)
	}
	return &c, nil
}

// FindProcessorParty implements Lookup.
func (m *MemoryLookup) FindProcessorParty(_ context.Context, number string) (*Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byProcessor[number]
	if !ok {
		return nil, fmt.Errorf("processor %s: %w", number, ErrProcessorNotFound)
	}
	return &c, nil
}
