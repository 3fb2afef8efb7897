package weightticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

type memoryRepo struct {
	mu           sync.Mutex
	nextID       int64
	tickets      map[int64]*WeightTicket
	beforeUpdate func(id int64)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tickets: make(map[int64]*WeightTicket)}
}

func cloneTicket(t *WeightTicket) *WeightTicket {
	c := *t
	c.lines = append([]Line(nil), t.lines...)
	c.linesChanged = false
	return &c
}

// WithTx serialises callers, mimicking row locks taken by SELECT FOR UPDATE.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{repo: m, staged: make(map[int64]*WeightTicket)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, t := range tx.staged {
		m.tickets[id] = t
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*WeightTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

type memoryTx struct {
	repo   *memoryRepo
	staged map[int64]*WeightTicket
}

func (tx *memoryTx) Insert(_ context.Context, t *WeightTicket) (int64, error) {
	tx.repo.nextID++
	id := tx.repo.nextID
	stored := cloneTicket(t)
	stored.ID = id
	tx.staged[id] = stored
	return id, nil
}

func (tx *memoryTx) LoadForUpdate(_ context.Context, id int64) (*WeightTicket, error) {
	t, ok := tx.repo.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

func (tx *memoryTx) Update(_ context.Context, t *WeightTicket, expected int64) error {
	if tx.repo.beforeUpdate != nil {
		tx.repo.beforeUpdate(t.ID)
	}
	stored, ok := tx.repo.tickets[t.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expected {
		return ErrVersionConflict
	}
	t.Version = expected + 1
	tx.staged[t.ID] = cloneTicket(t)
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditEntry
}

func (a *memoryAudit) Record(_ context.Context, entry shared.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *memoryRepo, *memoryAudit) {
	t.Helper()
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil, cfg, nil)
	svc.WithNow(func() time.Time { return testAt })
	return svc, repo, audit
}

func completedTicket(t *testing.T, svc *Service) *WeightTicket {
	t.Helper()
	ctx := context.Background()
	ticket, err := svc.Create(ctx, DraftInput{ConsignorPartyID: uuid.New()}, "operator")
	require.NoError(t, err)
	ticket, err = svc.Complete(ctx, ticket.ID, []Line{testLine("087970000001", "1500")}, "operator")
	require.NoError(t, err)
	return ticket
}

func TestServiceLifecycle(t *testing.T) {
	svc, _, audit := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	ticket, err := svc.Create(ctx, DraftInput{ConsignorPartyID: uuid.New()}, "operator")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.ID)
	assert.Equal(t, int64(0), ticket.Version)

	ticket, err = svc.AddLine(ctx, ticket.ID, testLine("087970000001", "900"), "operator")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.Version)

	ticket, err = svc.Complete(ctx, ticket.ID, nil, "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ticket.Status())
	require.NotNil(t, ticket.WeightedAt)

	ticket, err = svc.Invoice(ctx, ticket.ID, "billing", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, ticket.Status())
	assert.Equal(t, int64(3), ticket.Version)

	stored, err := svc.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, stored.Status())
	assert.Len(t, stored.Lines(), 1)

	assert.Equal(t, []string{
		"weight_ticket.created",
		"weight_ticket.line_added",
		"weight_ticket.completed",
		"weight_ticket.invoiced",
	}, audit.actions())
}

func TestServiceInvoiceRecordsAmount(t *testing.T) {
	svc, _, audit := newTestService(t, ServiceConfig{})
	ticket := completedTicket(t, svc)

	amount, err := values.EUR(decimal.RequireFromString("312.5"))
	require.NoError(t, err)
	_, err = svc.Invoice(context.Background(), ticket.ID, "billing", &amount)
	require.NoError(t, err)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	last := audit.entries[len(audit.entries)-1]
	assert.Equal(t, "weight_ticket.invoiced", last.Action)
	assert.Equal(t, "312.50 EUR", last.Meta["invoiced_amount"])
	assert.Equal(t, string(StatusInvoiced), last.Meta["status"])
}

func TestServiceRejectedTransitionLeavesStateUntouched(t *testing.T) {
	svc, _, audit := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	ticket, err := svc.Create(ctx, DraftInput{ConsignorPartyID: uuid.New()}, "operator")
	require.NoError(t, err)

	_, err = svc.Invoice(ctx, ticket.ID, "billing", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	stored, err := svc.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status())
	assert.Equal(t, int64(0), stored.Version)
	assert.Equal(t, []string{"weight_ticket.created"}, audit.actions())
}

func TestServiceNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	_, err := svc.Cancel(context.Background(), 99, "operator")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceCancelPolicy(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ticket := completedTicket(t, svc)
	_, err := svc.Cancel(context.Background(), ticket.ID, "operator")
	require.ErrorIs(t, err, ErrCompletedNoCancel)

	lenient, _, _ := newTestService(t, ServiceConfig{CancelPolicy: CancelPolicy{AllowCancelCompleted: true}})
	ticket = completedTicket(t, lenient)
	ticket, err = lenient.Cancel(context.Background(), ticket.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, ticket.Status())
}

func TestServiceVersionConflict(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{})
	ticket := completedTicket(t, svc)

	repo.beforeUpdate = func(id int64) {
		// another writer committed in between
		repo.tickets[id].Version++
	}
	_, err := svc.Invoice(context.Background(), ticket.ID, "billing", nil)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	repo.beforeUpdate = nil
	stored, err := svc.Get(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status())
}

func TestServiceConcurrentCancelAndInvoice(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{CancelPolicy: CancelPolicy{AllowCancelCompleted: true}})
	ticket := completedTicket(t, svc)
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		cancelErr  error
		invoiceErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = svc.Cancel(ctx, ticket.ID, "operator")
	}()
	go func() {
		defer wg.Done()
		_, invoiceErr = svc.Invoice(ctx, ticket.ID, "billing", nil)
	}()
	wg.Wait()

	// Exactly one caller wins; the loser sees the terminal state.
	require.True(t, (cancelErr == nil) != (invoiceErr == nil), "cancel=%v invoice=%v", cancelErr, invoiceErr)
	stored, err := svc.Get(ctx, ticket.ID)
	require.NoError(t, err)
	if cancelErr == nil {
		assert.Equal(t, StatusCancelled, stored.Status())
		require.ErrorIs(t, invoiceErr, shared.ErrInvalidState)
	} else {
		assert.Equal(t, StatusInvoiced, stored.Status())
		require.ErrorIs(t, cancelErr, ErrAlreadyInvoiced)
	}
	assert.True(t, stored.Status().IsTerminal())
}

func TestServiceRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	locker := shared.NewLocker(client, time.Second).WithWait(50 * time.Millisecond)
	svc := NewService(repo, nil, locker, ServiceConfig{}, nil)
	ctx := context.Background()

	ticket, err := svc.Create(ctx, DraftInput{ConsignorPartyID: uuid.New()}, "operator")
	require.NoError(t, err)

	key := shared.WeightTicketLockKey(ticket.ID)
	require.NoError(t, mr.Set(key, "someone-else"))
	_, err = svc.Cancel(ctx, ticket.ID, "operator")
	require.ErrorIs(t, err, shared.ErrLockHeld)
	require.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

	mr.Del(key)
	ticket, err = svc.Cancel(ctx, ticket.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, ticket.Status())
	assert.False(t, mr.Exists(key), "lock must be released after the transition")
}

func TestServiceCancelInvoiceRaceWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(repo, nil, shared.NewLocker(client, 2*time.Second),
		ServiceConfig{CancelPolicy: CancelPolicy{AllowCancelCompleted: true}}, nil)
	svc.WithNow(func() time.Time { return testAt })
	ticket := completedTicket(t, svc)
	repo.beforeUpdate = func(int64) { time.Sleep(20 * time.Millisecond) }
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		cancelErr  error
		invoiceErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = svc.Cancel(ctx, ticket.ID, "operator")
	}()
	go func() {
		defer wg.Done()
		_, invoiceErr = svc.Invoice(ctx, ticket.ID, "billing", nil)
	}()
	wg.Wait()

	require.True(t, (cancelErr == nil) != (invoiceErr == nil), "cancel=%v invoice=%v", cancelErr, invoiceErr)
	loser := cancelErr
	if loser == nil {
		loser = invoiceErr
	}
	require.ErrorIs(t, loser, shared.ErrInvalidState)
	assert.NotErrorIs(t, loser, shared.ErrConcurrencyConflict)

	stored, err := svc.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status().IsTerminal())
	assert.False(t, mr.Exists(shared.WeightTicketLockKey(ticket.ID)))
}
