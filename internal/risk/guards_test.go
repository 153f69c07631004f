package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

func engineAt(t *testing.T, now time.Time) *Engine {
	t.Helper()
	e := NewEngine(DefaultLimits())
	e.now = func() time.Time { return now }
	return e
}

func TestEvaluateCloseStopLossOverridesMinHold(t *testing.T) {
	// Buy at 100, two minutes later the price sits at 97: the -3% breach
	// forces the close even though the 15 minute hold is not met.
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(2*time.Minute))

	pos := NewPosition()
	pos.OpenLong(1, 100, entry)

	d := e.EvaluateClose(pos, 97)
	assert.Equal(t, ActionForce, d.Action)
	assert.Equal(t, metrics.GuardStopLoss, d.Guard)
	assert.Equal(t, ExitStopLoss, d.ExitReason)
}

func TestEvaluateCloseGuardOrder(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		heldFor    time.Duration
		price      float64
		wantAction GuardAction
		wantGuard  string
	}{
		{
			name:       "min hold blocks before min profit",
			heldFor:    2 * time.Minute,
			price:      103, // +3% would pass min-profit
			wantAction: ActionBlock,
			wantGuard:  metrics.GuardMinHold,
		},
		{
			name:       "min profit blocks small gains",
			heldFor:    20 * time.Minute,
			price:      101, // +1% < +2%
			wantAction: ActionBlock,
			wantGuard:  metrics.GuardMinProfit,
		},
		{
			name:       "min profit blocks small losses above stop",
			heldFor:    20 * time.Minute,
			price:      99, // -1%, above the -2% stop
			wantAction: ActionBlock,
			wantGuard:  metrics.GuardMinProfit,
		},
		{
			name:       "profit past the floor is allowed",
			heldFor:    20 * time.Minute,
			price:      103,
			wantAction: ActionAllow,
		},
		{
			name:       "stop loss forces regardless of hold",
			heldFor:    time.Minute,
			price:      98, // exactly -2%
			wantAction: ActionForce,
			wantGuard:  metrics.GuardStopLoss,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := engineAt(t, entry.Add(tt.heldFor))
			pos := NewPosition()
			pos.OpenLong(1, 100, entry)

			d := e.EvaluateClose(pos, tt.price)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantGuard, d.Guard)
		})
	}
}

func TestEvaluateCloseLossPreventionWithLoweredFloor(t *testing.T) {
	// With the stock +2% floor, min-profit shadows loss-prevention. A config
	// that lowers the floor exposes it: the price below entry still blocks.
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limits := DefaultLimits()
	limits.TakeProfitMinPct = -1.0

	e := NewEngine(limits)
	e.now = func() time.Time { return entry.Add(20 * time.Minute) }

	pos := NewPosition()
	pos.OpenLong(1, 100, entry)

	d := e.EvaluateClose(pos, 99.5)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, metrics.GuardLossPrevention, d.Guard)
}

func TestEvaluateCloseShortSide(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(20*time.Minute))

	pos := NewPosition()
	pos.OpenShort(1, 100, entry)

	// Price up 3% is a -3% pnl for the short: stop loss forces.
	d := e.EvaluateClose(pos, 103)
	assert.Equal(t, ActionForce, d.Action)
	assert.Equal(t, ExitStopLoss, d.ExitReason)

	// Price down 3% is +3% for the short: allowed, loss-prevention is
	// long-only.
	d = e.EvaluateClose(pos, 97)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestEvaluateCloseFlatPosition(t *testing.T) {
	e := engineAt(t, time.Now())
	d := e.EvaluateClose(NewPosition(), 100)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Empty(t, d.Guard)
}

func TestEvaluateTickTrailingSequence(t *testing.T) {
	// A long entered at 30000 rides to 31500 and decays. The trailing
	// take-profit must fire only when the drawdown from the high is >= 3%
	// AND the pnl clears the +2% floor, never on either alone.
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(30*time.Minute))

	pos := NewPosition()
	pos.OpenLong(1, 30000, entry)

	steps := []struct {
		price      float64
		wantAction GuardAction
		wantGuard  string
		note       string
	}{
		{31000, ActionBlock, "", "rising, far above the trailing stop"},
		{31500, ActionBlock, "", "new high"},
		{31200, ActionBlock, "", "drop 0.95% from high, inside the band"},
		{30550, ActionBlock, metrics.GuardMinProfit, "drop 3.02% but pnl +1.83% below floor"},
		{30900, ActionBlock, "", "pnl +3% but drop only 1.9%"},
		{30550, ActionBlock, metrics.GuardMinProfit, "same block again, no sell"},
	}

	for _, s := range steps {
		pos.MarkPrice(s.price)
		d := e.EvaluateTick(pos, s.price)
		assert.Equal(t, s.wantAction, d.Action, s.note)
		assert.Equal(t, s.wantGuard, d.Guard, s.note)
		require.Equal(t, 31500.0, pos.HighSinceEntry, "high-water mark must not decay")
	}

	// Ride to a newer high, then a fall that satisfies both conditions.
	pos.MarkPrice(32200)
	d := e.EvaluateTick(pos, 31200) // drop 3.1%, pnl +4.0%
	assert.Equal(t, ActionAllow, d.Action)
	assert.Equal(t, metrics.GuardTrailing, d.Guard)
	assert.Equal(t, ExitTakeProfit, d.ExitReason)
}

func TestEvaluateTickStopLossFirst(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(2*time.Minute))

	pos := NewPosition()
	pos.OpenLong(1, 100, entry)
	pos.MarkPrice(110)

	// -3% breaches the stop; the trailing logic never runs.
	d := e.EvaluateTick(pos, 97)
	assert.Equal(t, ActionForce, d.Action)
	assert.Equal(t, metrics.GuardStopLoss, d.Guard)
	assert.Equal(t, ExitStopLoss, d.ExitReason)
}

func TestEvaluateTickMinHoldBlocksTrailing(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(5*time.Minute))

	pos := NewPosition()
	pos.OpenLong(1, 30000, entry)
	pos.MarkPrice(32200)

	d := e.EvaluateTick(pos, 31200)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, metrics.GuardMinHold, d.Guard)
}

func TestEvaluateTickShortsIgnored(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := engineAt(t, entry.Add(time.Hour))

	pos := NewPosition()
	pos.OpenShort(1, 100, entry)

	d := e.EvaluateTick(pos, 95) // +5% for the short
	assert.Equal(t, ActionBlock, d.Action)
	assert.Empty(t, d.Guard)
}

func TestConfirmTrailing(t *testing.T) {
	pos := NewPosition()
	pos.OpenLong(1, 30000, time.Now())
	e := NewEngine(DefaultLimits())

	// Profit evaporated between tick and execution: abort.
	d := e.ConfirmTrailing(pos, 29900)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, metrics.GuardTrailing, d.Guard)

	d = e.ConfirmTrailing(pos, 30600)
	assert.Equal(t, ActionAllow, d.Action)
	assert.Equal(t, ExitTakeProfit, d.ExitReason)
}

func TestEvaluateOpen(t *testing.T) {
	e := NewEngine(DefaultLimits())

	tests := []struct {
		name       string
		confidence float64
		netSpent   float64
		amount     float64
		wantAction GuardAction
		wantGuard  string
	}{
		{"confidence below threshold", 0.55, 0, 100, ActionBlock, metrics.GuardConfidence},
		{"budget exhausted", 0.8, 100, 100, ActionBlock, metrics.GuardBudget},
		{"budget overrun", 0.8, 120, 100, ActionBlock, metrics.GuardBudget},
		{"allowed", 0.7, 50, 100, ActionAllow, ""},
		{"threshold confidence allowed", 0.6, 0, 100, ActionAllow, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.EvaluateOpen(tt.confidence, tt.netSpent, tt.amount)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantGuard, d.Guard)
		})
	}
}

func TestRederiveExitReason(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name     string
		original ExitReason
		pnlPct   float64
		want     ExitReason
	}{
		{"signal with stop-sized loss becomes stop loss", ExitSignal, -2.5, ExitStopLoss},
		{"signal at exactly the stop", ExitSignal, -2.0, ExitStopLoss},
		{"signal past the profit floor becomes take profit", ExitSignal, 2.5, ExitTakeProfit},
		{"signal in between stays signal", ExitSignal, 1.0, ExitSignal},
		{"manual sticks even on a loss", ExitManual, -5.0, ExitManual},
		{"manual sticks even on a win", ExitManual, 5.0, ExitManual},
		{"forced stop loss is never rewritten", ExitStopLoss, 5.0, ExitStopLoss},
		{"take profit is never rewritten", ExitTakeProfit, -5.0, ExitTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RederiveExitReason(tt.original, tt.pnlPct, limits))
		})
	}
}

func TestAfterFeesPct(t *testing.T) {
	e := NewEngine(DefaultLimits())

	// Two taker legs at 0.1% each cost 0.2 percentage points.
	assert.InDelta(t, 2.8, e.AfterFeesPct(3.0), 1e-9)
	assert.True(t, e.ProfitableAfterFees(0.6))
	assert.False(t, e.ProfitableAfterFees(0.4), "0.4% gross is 0.2% net, below the 0.3% minimum")
}

func TestTradeStampSlippage(t *testing.T) {
	decided := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := &Trade{
		DecisionPrice:  30000,
		DecisionTS:     decided,
		ExecutionPrice: 30015,
		ExecutionTS:    decided.Add(1500 * time.Millisecond),
	}
	tr.StampSlippage()

	assert.InDelta(t, 15.0, tr.SlippageAbs, 1e-9)
	assert.InDelta(t, 0.05, tr.SlippagePct, 1e-9)
	assert.InDelta(t, 1.5, tr.DelaySeconds, 1e-9)
}
