package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyLossGuard(t *testing.T) {
	g := NewDailyLossGuard(0.05, 1000)
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, g.Breached(day1))
	require.NoError(t, g.Record(-30, day1))
	assert.False(t, g.Breached(day1))
	require.NoError(t, g.Record(-20, day1.Add(time.Hour)))
	assert.True(t, g.Breached(day1.Add(2*time.Hour)))

	assert.False(t, g.Breached(day1.Add(24*time.Hour)))
	_, pnl, limit := g.Status()
	assert.Equal(t, 0.0, pnl)
	assert.Equal(t, 50.0, limit)

	var nilGuard *DailyLossGuard
	assert.False(t, nilGuard.Breached(day1))
}

func TestDailyLossGuardRefusesClosedDay(t *testing.T) {
	g := NewDailyLossGuard(0.05, 1000)
	today := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)

	require.NoError(t, g.Record(-60, today))
	require.True(t, g.Breached(today))

	err := g.Record(5, yesterday)
	assert.ErrorIs(t, err, ErrClosedDay)

	day, pnl, _ := g.Status()
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, -60.0, pnl)
	assert.True(t, g.Breached(today))

	// reading an earlier day does not move the guard back either
	assert.True(t, g.Breached(yesterday))
	assert.True(t, g.Breached(today.Add(time.Hour)))
}

func TestDailyLossGuardUsesUTCDays(t *testing.T) {
	g := NewDailyLossGuard(0.05, 1000)
	ict := time.FixedZone("ICT", 7*3600)

	// 01:00 ICT on the 2nd is still the 1st in UTC
	require.NoError(t, g.Record(-60, time.Date(2024, 3, 2, 1, 0, 0, 0, ict)))
	assert.True(t, g.Breached(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, g.Breached(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}
