package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestCount(t *testing.T) {
	cases := []struct {
		name  string
		unit  Unit
		start time.Time
		end   time.Time
		want  int
	}{
		{"monthly full year", Month, d(2025, 1, 1), d(2025, 12, 31), 12},
		{"quarterly full year", Quarter, d(2025, 1, 1), d(2025, 12, 31), 4},
		{"annual full year", Year, d(2025, 1, 1), d(2025, 12, 31), 1},
		{"annual two years inclusive", Year, d(2025, 1, 1), d(2026, 1, 1), 2},
		{"same day", Month, d(2025, 3, 10), d(2025, 3, 10), 1},
		{"partial month ignored", Month, d(2025, 1, 15), d(2025, 2, 14), 1},
		{"month boundary reached", Month, d(2025, 1, 15), d(2025, 2, 15), 2},
		{"end before start", Month, d(2025, 5, 1), d(2025, 4, 1), 0},
		{"zero start", Month, time.Time{}, d(2025, 4, 1), 0},
		{"month end clamp counts", Month, d(2025, 1, 31), d(2025, 2, 28), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Count(tc.unit, tc.start, tc.end))
		})
	}
}

func TestAddMonthsClampedDoesNotDrift(t *testing.T) {
	jan31 := d(2025, 1, 31)

	feb := AddMonthsClamped(jan31, 1, 31)
	assert.Equal(t, d(2025, 2, 28), feb)

	mar := AddMonthsClamped(feb, 1, 31)
	assert.Equal(t, d(2025, 3, 31), mar)

	leap := AddMonthsClamped(d(2024, 1, 30), 1, 30)
	assert.Equal(t, d(2024, 2, 29), leap)

	assert.Equal(t, d(2026, 1, 15), AddMonthsClamped(d(2025, 10, 15), 3, 15))
	assert.Equal(t, d(2024, 11, 30), AddMonthsClamped(d(2025, 2, 28), -3, 30))
}

func TestStepUsesAnchorDay(t *testing.T) {
	assert.Equal(t, d(2025, 4, 28), Step(d(2025, 1, 28), Quarter, 28))
	assert.Equal(t, d(2026, 2, 28), Step(d(2025, 2, 28), Year, 31))
	assert.Equal(t, d(2025, 2, 10), Step(d(2025, 1, 10), Month, 0))
}

func TestAdjustToDay(t *testing.T) {
	assert.Equal(t, d(2025, 1, 1), AdjustToDay(d(2025, 1, 17), 1))
	assert.Equal(t, d(2025, 2, 28), AdjustToDay(d(2025, 2, 3), 31))
	assert.Equal(t, d(2025, 2, 3), AdjustToDay(d(2025, 2, 3), 0))
}

func TestSequence(t *testing.T) {
	t.Run("monthly", func(t *testing.T) {
		dates := Sequence(d(2025, 1, 1), d(2025, 12, 31), Month, 1)
		assert.Len(t, dates, 12)
		for i, date := range dates {
			assert.Equal(t, d(2025, time.Month(i+1), 1), date)
		}
	})

	t.Run("anchor earlier in month keeps stepping to end", func(t *testing.T) {
		dates := Sequence(d(2025, 1, 20), d(2026, 1, 10), Month, 1)
		assert.Len(t, dates, 13)
		assert.Equal(t, d(2025, 1, 1), dates[0])
		assert.Equal(t, d(2026, 1, 1), dates[12])
	})

	t.Run("count from adjusted start matches sequence", func(t *testing.T) {
		start := AdjustToDay(d(2025, 1, 1), 28)
		dates := Sequence(start, d(2025, 12, 15), Month, 28)
		assert.Len(t, dates, 11)
		assert.Equal(t, len(dates), Count(Month, start, d(2025, 12, 15)))
	})

	t.Run("anchor later in month", func(t *testing.T) {
		dates := Sequence(d(2025, 1, 15), d(2025, 3, 19), Month, 20)
		assert.Equal(t, []time.Time{d(2025, 1, 20), d(2025, 2, 20)}, dates)
	})

	t.Run("empty when end before adjusted start", func(t *testing.T) {
		assert.Empty(t, Sequence(d(2025, 1, 15), d(2025, 1, 16), Month, 20))
	})
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 30, DaysBetween(d(2025, 1, 1), d(2025, 1, 31)))
	assert.Equal(t, -5, DaysBetween(d(2025, 1, 6), d(2025, 1, 1)))
	assert.Equal(t, d(2025, 1, 31), AddDays(d(2025, 1, 1), 30))
}
