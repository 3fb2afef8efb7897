package declaration

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

func TestCutoffYearMonth(t *testing.T) {
	loc := amsterdam(t)
	cases := []struct {
		name string
		now  time.Time
		want YearMonth
	}{
		{"before deadline", time.Date(2025, 12, 4, 12, 0, 0, 0, loc), YearMonth{2025, time.November}},
		{"after deadline", time.Date(2025, 12, 21, 12, 0, 0, 0, loc), YearMonth{2025, time.December}},
		{"on deadline", time.Date(2025, 12, 20, 0, 0, 0, 0, loc), YearMonth{2025, time.December}},
		{"day before deadline", time.Date(2025, 12, 19, 23, 59, 59, 0, loc), YearMonth{2025, time.November}},
		{"january rollover", time.Date(2025, 1, 4, 8, 0, 0, 0, loc), YearMonth{2024, time.December}},
		{"march", time.Date(2024, 3, 1, 0, 0, 0, 0, loc), YearMonth{2024, time.February}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CutoffYearMonth(tc.now, loc))
		})
	}
}

func TestCutoffUsesRegulatoryZone(t *testing.T) {
	loc := amsterdam(t)
	// 23:30 UTC on the 19th is already the 20th in Amsterdam.
	now := time.Date(2025, 3, 19, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, YearMonth{2025, time.March}, CutoffYearMonth(now, loc))
	assert.Equal(t, YearMonth{2025, time.February}, CutoffYearMonth(now, time.UTC))

	// Across the year boundary: the deadline has passed in Amsterdam only.
	now = time.Date(2025, 1, 19, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, YearMonth{2025, time.January}, CutoffYearMonth(now, loc))
	assert.Equal(t, YearMonth{2024, time.December}, CutoffYearMonth(now, time.UTC))
}

func TestCutoffIsDeterministic(t *testing.T) {
	loc := amsterdam(t)
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, loc)
	first := CutoffYearMonth(now, loc)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, CutoffYearMonth(now, loc))
	}
}

func TestCutoffWithDeadline(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, YearMonth{2025, time.May}, CutoffYearMonthWithDeadline(now, time.UTC, 5))
	assert.Equal(t, YearMonth{2025, time.April}, CutoffYearMonthWithDeadline(now, time.UTC, 15))
	// out of range falls back to the default
	assert.Equal(t, YearMonth{2025, time.April}, CutoffYearMonthWithDeadline(now, time.UTC, 40))
}

func TestYearMonthArithmetic(t *testing.T) {
	jan := YearMonth{2025, time.January}
	assert.Equal(t, YearMonth{2024, time.December}, jan.AddMonths(-1))
	assert.Equal(t, YearMonth{2023, time.December}, jan.AddMonths(-13))
	assert.Equal(t, YearMonth{2026, time.February}, jan.AddMonths(13))
	assert.Equal(t, jan, jan.AddMonths(0))

	assert.True(t, YearMonth{2024, time.December}.Before(jan))
	assert.False(t, jan.Before(jan))
	assert.False(t, YearMonth{2025, time.February}.Before(jan))

	assert.Equal(t, "2025-01", jan.String())
	raw, err := json.Marshal(jan)
	require.NoError(t, err)
	assert.JSONEq(t, `"2025-01"`, string(raw))

	parsed, err := ParseYearMonth("2024-11")
	require.NoError(t, err)
	assert.Equal(t, YearMonth{2024, time.November}, parsed)
	_, err = ParseYearMonth("2024-13")
	require.Error(t, err)
}

func TestFirstInstant(t *testing.T) {
	loc := amsterdam(t)
	first := YearMonth{2025, time.November}.FirstInstant(loc)
	assert.Equal(t, time.Date(2025, 10, 31, 23, 0, 0, 0, time.UTC), first.UTC())
}
