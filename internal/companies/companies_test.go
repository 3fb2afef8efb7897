package companies

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

func testCompany(t *testing.T) Company {
	t.Helper()
	kvk, err := values.NewKvKNumber("12345678")
	require.NoError(t, err)
	vihb, err := values.NewVIHBNumber("123456VIHB")
	require.NoError(t, err)
	addr, err := values.NewAddress("Havenweg", "12", "3011 AB", "Rotterdam", "")
	require.NoError(t, err)
	return Company{
		ID:              uuid.New(),
		Name:            "Afvalverwerking Rijnmond B.V.",
		KvK:             kvk,
		ProcessorNumber: "08797",
		VIHB:            vihb,
		Address:         &addr,
	}
}

type countingLookup struct {
	next  Lookup
	calls atomic.Int32
}

func (c *countingLookup) FindByRegistrationID(ctx context.Context, kvk string) (*Company, error) {
	c.calls.Add(1)
	return c.next.FindByRegistrationID(ctx, kvk)
}

func (c *countingLookup) FindProcessorParty(ctx context.Context, number string) (*Company, error) {
	c.calls.Add(1)
	return c.next.FindProcessorParty(ctx, number)
}

func TestMemoryLookup(t *testing.T) {
	company := testCompany(t)
	lookup := NewMemoryLookup(company)
	ctx := context.Background()

	got, err := lookup.FindByRegistrationID(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, company.ID, got.ID)

	got, err = lookup.FindProcessorParty(ctx, "08797")
	require.NoError(t, err)
	assert.Equal(t, company.ID, got.ID)

	_, err = lookup.FindByRegistrationID(ctx, "87654321")
	require.ErrorIs(t, err, ErrCompanyNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = lookup.FindProcessorParty(ctx, "11111")
	require.ErrorIs(t, err, ErrProcessorNotFound)
}

func TestCompanyJSONRoundTripKeepsValueObjects(t *testing.T) {
	company := testCompany(t)
	raw, err := json.Marshal(company)
	require.NoError(t, err)

	var decoded Company
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, company, decoded)

	require.Error(t, json.Unmarshal([]byte(`{"kvk":"123"}`), &decoded))
}

func TestCachedLookup(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	company := testCompany(t)
	backend := &countingLookup{next: NewMemoryLookup(company)}
	cached := NewCachedLookup(backend, client, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cached.FindByRegistrationID(ctx, "12345678")
		require.NoError(t, err)
		assert.Equal(t, company.Name, got.Name)
		assert.Equal(t, "3011AB", got.Address.PostalCode.String())
	}
	assert.Equal(t, int32(1), backend.calls.Load())

	// misses are not cached
	for i := 0; i < 2; i++ {
		_, err := cached.FindProcessorParty(ctx, "99999")
		require.ErrorIs(t, err, shared.ErrNotFound)
	}
	assert.Equal(t, int32(3), backend.calls.Load())

	require.NoError(t, cached.Bump(ctx))
	_, err := cached.FindByRegistrationID(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, int32(4), backend.calls.Load())
}

func TestValidateProcessorNumber(t *testing.T) {
	n, err := ValidateProcessorNumber(" 08797 ")
	require.NoError(t, err)
	assert.Equal(t, "08797", n)
	_, err = ValidateProcessorNumber("8797")
	require.ErrorIs(t, err, shared.ErrValidation)
}
