package declaration

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
	"github.com/wasteflow/wasteflow/internal/weightticket"
)

type lineKey struct {
	ticket int64
	index  int
}

type memoryRepo struct {
	mu    sync.Mutex
	lines map[lineKey]UndeclaredLine
}

func newMemoryRepo(lines ...UndeclaredLine) *memoryRepo {
	m := &memoryRepo{lines: make(map[lineKey]UndeclaredLine)}
	for _, l := range lines {
		m.lines[lineKey{l.TicketID, l.LineIndex}] = l
	}
	return m
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, memoryTx{m})
}

type memoryTx struct{ repo *memoryRepo }

func (tx memoryTx) FindLinesWeighedBefore(_ context.Context, before time.Time) ([]UndeclaredLine, error) {
	var out []UndeclaredLine
	for _, l := range tx.repo.lines {
		if l.WeighedAt.Before(before) && !l.TicketCancelled {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TicketID != out[j].TicketID {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].LineIndex < out[j].LineIndex
	})
	return out, nil
}

func (tx memoryTx) LoadLineForUpdate(_ context.Context, ticketID int64, idx int) (UndeclaredLine, error) {
	l, ok := tx.repo.lines[lineKey{ticketID, idx}]
	if !ok {
		return UndeclaredLine{}, ErrLineNotFound
	}
	return l, nil
}

func (tx memoryTx) SaveState(_ context.Context, ticketID int64, idx int, state LineDeclarationState) error {
	k := lineKey{ticketID, idx}
	l, ok := tx.repo.lines[k]
	if !ok {
		return ErrLineNotFound
	}
	l.State = state
	tx.repo.lines[k] = l
	return nil
}

func line(kg string) weightticket.Line {
	return weightticket.Line{
		WasteStreamNumber: values.MustWasteStreamNumber("087970000001"),
		Weight:            values.MustWeight(kg),
	}
}

func undeclared(ticket int64, idx int, kg string, weighedAt time.Time) UndeclaredLine {
	l := line(kg)
	return UndeclaredLine{
		TicketID:          ticket,
		LineIndex:         idx,
		WasteStreamNumber: l.WasteStreamNumber,
		Weight:            l.Weight,
		WeighedAt:         weighedAt,
	}
}

func TestNeedsDeclaration(t *testing.T) {
	at := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	assert.True(t, NeedsDeclaration(line("100"), LineDeclarationState{}))

	state := RecordDeclaration(line("100"), at)
	require.NotNil(t, state.DeclaredWeight)
	require.NotNil(t, state.LastDeclaredAt)
	assert.Equal(t, at, *state.LastDeclaredAt)
	assert.True(t, state.Declared())

	assert.False(t, NeedsDeclaration(line("100"), state))
	assert.False(t, NeedsDeclaration(line("100.000"), state), "numeric equality, not textual")
	assert.True(t, NeedsDeclaration(line("100.5"), state))

	zero := decimal.Zero
	assert.True(t, NeedsDeclaration(line("1"), LineDeclarationState{DeclaredWeight: &zero}))
}

func TestUndeclaredSelection(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 12, 4, 9, 0, 0, 0, loc) // cutoff 2025-11
	declaredState := RecordDeclaration(line("50"), now)

	changed := undeclared(3, 0, "75", time.Date(2025, 9, 2, 0, 0, 0, 0, loc))
	changed.State = declaredState

	settled := undeclared(4, 0, "50", time.Date(2025, 9, 3, 0, 0, 0, 0, loc))
	settled.State = declaredState

	repo := newMemoryRepo(
		undeclared(1, 0, "100", time.Date(2025, 10, 31, 23, 59, 0, 0, loc)),
		undeclared(1, 1, "20", time.Date(2025, 10, 31, 23, 59, 0, 0, loc)),
		undeclared(2, 0, "30", time.Date(2025, 11, 1, 0, 0, 0, 0, loc)), // in cutoff month
		changed,
		settled,
	)
	svc := NewService(repo, nil, ServiceConfig{Location: loc}, nil)
	svc.WithNow(func() time.Time { return now })

	assert.Equal(t, YearMonth{2025, time.November}, svc.Cutoff())
	lines, err := svc.Undeclared(context.Background())
	require.NoError(t, err)

	got := make([]lineKey, len(lines))
	for i, l := range lines {
		got[i] = lineKey{l.TicketID, l.LineIndex}
	}
	assert.Equal(t, []lineKey{{1, 0}, {1, 1}, {3, 0}}, got)
}

func TestMarkDeclared(t *testing.T) {
	now := time.Date(2025, 12, 4, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(undeclared(1, 0, "100", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	svc.WithNow(func() time.Time { return now })
	ctx := context.Background()

	_, err := svc.MarkDeclared(ctx, 1, 0, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	state, err := svc.MarkDeclared(ctx, 1, 0, "declaration-job")
	require.NoError(t, err)
	assert.True(t, state.DeclaredWeight.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, now, *state.LastDeclaredAt)

	// already declared at the same weight: state is kept
	svc.WithNow(func() time.Time { return now.Add(time.Hour) })
	again, err := svc.MarkDeclared(ctx, 1, 0, "declaration-job")
	require.NoError(t, err)
	assert.Equal(t, now, *again.LastDeclaredAt)

	lines, err := svc.Undeclared(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = svc.MarkDeclared(ctx, 9, 0, "declaration-job")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelledTicketLinesAreNotDeclared(t *testing.T) {
	now := time.Date(2025, 12, 4, 9, 0, 0, 0, time.UTC)
	cancelled := undeclared(5, 0, "100", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	cancelled.TicketCancelled = true
	repo := newMemoryRepo(cancelled)
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	svc.WithNow(func() time.Time { return now })
	ctx := context.Background()

	lines, err := svc.Undeclared(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = svc.Line(ctx, 5, 0)
	require.ErrorIs(t, err, ErrTicketCancelled)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.MarkDeclared(ctx, 5, 0, "declaration-job")
	require.ErrorIs(t, err, ErrTicketCancelled)
	assert.False(t, repo.lines[lineKey{5, 0}].State.Declared())
}
