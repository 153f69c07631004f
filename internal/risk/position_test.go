package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionOpenLong(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPosition()
	assert.False(t, pos.Open())

	pos.OpenLong(0.5, 30000, at)

	assert.True(t, pos.Open())
	assert.Equal(t, SideLong, pos.Side)
	assert.Equal(t, 0.5, pos.Size)
	assert.Equal(t, 30000.0, pos.EntryPrice)
	assert.Equal(t, 30000.0, pos.HighSinceEntry)
	assert.Equal(t, at, pos.EntryTime)
}

func TestPositionAddLongWeightedAverage(t *testing.T) {
	pos := NewPosition()
	pos.OpenLong(1, 100, time.Now())

	pos.AddLong(1, 110)

	assert.Equal(t, 2.0, pos.Size)
	assert.Equal(t, 105.0, pos.EntryPrice)
	assert.Equal(t, 110.0, pos.HighSinceEntry, "a higher buy price raises the high-water mark")

	// Uneven sizes weight accordingly.
	pos.AddLong(2, 90)
	assert.Equal(t, 4.0, pos.Size)
	assert.InDelta(t, 97.5, pos.EntryPrice, 1e-9)
}

func TestPositionAddLongIgnoredWhenNotLong(t *testing.T) {
	pos := NewPosition()
	pos.AddLong(1, 100)
	assert.False(t, pos.Open())

	pos.OpenShort(1, 100, time.Now())
	pos.AddLong(1, 90)
	assert.Equal(t, 1.0, pos.Size)
	assert.Equal(t, 100.0, pos.EntryPrice)
}

func TestPositionReduceLong(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPosition()
	pos.OpenLong(2, 100, at)
	pos.MarkPrice(110)

	pos.ReduceLong(0.5)
	assert.Equal(t, 1.5, pos.Size)
	assert.Equal(t, 100.0, pos.EntryPrice, "partial close keeps the entry price")
	assert.Equal(t, at, pos.EntryTime)
	assert.Equal(t, 110.0, pos.HighSinceEntry)

	// Removing the rest flattens the position entirely.
	pos.ReduceLong(5)
	assert.False(t, pos.Open())
	assert.Zero(t, pos.Size)

	short := NewPosition()
	short.OpenShort(1, 100, at)
	short.ReduceLong(1)
	assert.True(t, short.Open(), "shorts are unaffected")
}

func TestPositionMarkPrice(t *testing.T) {
	pos := NewPosition()
	pos.OpenLong(1, 30000, time.Now())

	pos.MarkPrice(31500)
	assert.Equal(t, 31500.0, pos.HighSinceEntry)

	// Lower prices never lower the mark.
	pos.MarkPrice(30900)
	assert.Equal(t, 31500.0, pos.HighSinceEntry)

	// Shorts track no high.
	short := NewPosition()
	short.OpenShort(1, 100, time.Now())
	short.MarkPrice(120)
	assert.Equal(t, 100.0, short.HighSinceEntry)
}

func TestPositionCloseRestoresFlatInvariant(t *testing.T) {
	pos := NewPosition()
	pos.OpenLong(2, 100, time.Now())
	pos.MarkPrice(120)

	pos.Close()

	assert.Equal(t, SideNone, pos.Side)
	assert.Zero(t, pos.Size)
	assert.Zero(t, pos.EntryPrice)
	assert.Zero(t, pos.HighSinceEntry)
	assert.True(t, pos.EntryTime.IsZero())
}

func TestPositionPnL(t *testing.T) {
	long := NewPosition()
	long.OpenLong(2, 100, time.Now())
	assert.InDelta(t, 3.0, long.PnLPct(103), 1e-9)
	assert.InDelta(t, -2.0, long.PnLPct(98), 1e-9)
	assert.InDelta(t, 6.0, long.PnLAbs(103), 1e-9)

	short := NewPosition()
	short.OpenShort(2, 100, time.Now())
	assert.InDelta(t, 3.0, short.PnLPct(97), 1e-9)
	assert.InDelta(t, -2.0, short.PnLPct(102), 1e-9)
	assert.InDelta(t, 6.0, short.PnLAbs(97), 1e-9)

	flat := NewPosition()
	assert.Zero(t, flat.PnLPct(12345))
	assert.Zero(t, flat.PnLAbs(12345))
}

func TestPositionTrailingStop(t *testing.T) {
	pos := NewPosition()
	pos.OpenLong(1, 30000, time.Now())
	pos.MarkPrice(31500)

	assert.InDelta(t, 30555.0, pos.TrailingStop(3.0), 1e-9)
}

func TestPositionHeldFor(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPosition()
	pos.OpenLong(1, 100, at)

	assert.Equal(t, 20*time.Minute, pos.HeldFor(at.Add(20*time.Minute)))
	pos.Close()
	assert.Zero(t, pos.HeldFor(at.Add(time.Hour)))
}

func TestNetSpentClampsAtZero(t *testing.T) {
	// A profitable round trip restores the full budget rather than banking
	// the surplus: buy 50, sell 52 leaves net spent 0, not -2.
	assert.Equal(t, 0.0, NetSpent(50, 52))
	assert.Equal(t, 30.0, NetSpent(50, 20))
	assert.Equal(t, 50.0, NetSpent(50, 0))
}

func TestRemainingBudget(t *testing.T) {
	assert.Equal(t, 50.0, RemainingBudget(50, 0))
	assert.Equal(t, 20.0, RemainingBudget(50, 30))
	assert.Equal(t, 0.0, RemainingBudget(50, 60))
}
