package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTodayTruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)
	c := NewFakeClock(time.Date(2025, time.March, 1, 1, 30, 0, 0, loc))

	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), Today(c))
}

func TestFakeClockAdvanceDays(t *testing.T) {
	c := NewFakeClock(time.Date(2025, time.January, 31, 12, 0, 0, 0, time.UTC))
	c.AdvanceDays(1)

	assert.Equal(t, time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC), c.Now())
}
