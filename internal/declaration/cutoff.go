package declaration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// DefaultDeadlineDay is the day of month on which the previous month's
// declarations fall due.
const DefaultDeadlineDay = 20

// YearMonth is a calendar month without a day or zone.
type YearMonth struct {
	Year  int
	Month time.Month
}

// YearMonthOf returns the month t falls in when viewed from loc.
func YearMonthOf(t time.Time, loc *time.Location) YearMonth {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return YearMonth{Year: local.Year(), Month: local.Month()}
}

// ParseYearMonth parses "2006-01".
func ParseYearMonth(raw string) (YearMonth, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return YearMonth{}, fmt.Errorf("year-month %q: %w", raw, shared.ErrValidation)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// AddMonths shifts by n months, carrying into the year explicitly.
func (ym YearMonth) AddMonths(n int) YearMonth {
	index := ym.Year*12 + int(ym.Month) - 1 + n
	year := index / 12
	month := index % 12
	if month < 0 {
		month += 12
		year--
	}
	return YearMonth{Year: year, Month: time.Month(month + 1)}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// FirstInstant returns midnight on the first day of the month in loc.
func (ym YearMonth) FirstInstant(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, loc)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// MarshalJSON renders the month as "2006-01".
func (ym YearMonth) MarshalJSON() ([]byte, error) { return json.Marshal(ym.String()) }

// CutoffYearMonth returns the first month whose lines are not yet due, using
// the default deadline day. Lines weighed in a month before the cutoff must
// be declared.
func CutoffYearMonth(now time.Time, loc *time.Location) YearMonth {
	return CutoffYearMonthWithDeadline(now, loc, DefaultDeadlineDay)
}

// CutoffYearMonthWithDeadline is CutoffYearMonth with a configurable deadline day.
// Before the deadline the previous month is still in progress toward its own
// deadline, so the cutoff is that previous month.
func CutoffYearMonthWithDeadline(now time.Time, loc *time.Location, deadlineDay int) YearMonth {
	if loc == nil {
		loc = time.UTC
	}
	if deadlineDay < 1 || deadlineDay > 28 {
		deadlineDay = DefaultDeadlineDay
	}
	local := now.In(loc)
	current := YearMonth{Year: local.Year(), Month: local.Month()}
	if local.Day() < deadlineDay {
		return current.AddMonths(-1)
	}
	return current
}
