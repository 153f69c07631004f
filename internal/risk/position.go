package risk

import (
	"time"
)

// Side is the direction of an open position. NONE means flat.
type Side string

const (
	SideNone  Side = "NONE"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is the in-memory position record owned exclusively by one bot.
// It is the state of the bot's trading state machine: NONE means flat,
// LONG/SHORT mean an entry is held. All mutation happens on the bot's own
// goroutine, so Position carries no lock.
//
// Invariants:
//   - Side == NONE ⇔ Size == 0 ∧ EntryPrice == 0 ∧ HighSinceEntry == 0
//   - Side == LONG ⇒ HighSinceEntry >= EntryPrice
type Position struct {
	Side           Side      `json:"side"`
	Size           float64   `json:"size"`
	EntryPrice     float64   `json:"entry_price"`
	EntryTime      time.Time `json:"entry_time"`
	HighSinceEntry float64   `json:"high_since_entry"`
}

// NewPosition returns a flat position.
func NewPosition() *Position {
	return &Position{Side: SideNone}
}

// Open reports whether the position holds any exposure.
func (p Position) Open() bool {
	return p.Side == SideLong || p.Side == SideShort
}

// OpenLong records a fresh long entry at the executed price.
func (p *Position) OpenLong(qty, price float64, at time.Time) {
	p.Side = SideLong
	p.Size = qty
	p.EntryPrice = price
	p.EntryTime = at
	p.HighSinceEntry = price
}

// OpenShort records a fresh short entry at the executed price. Shorts only
// exist in margin and futures modes; the bot enforces that before calling.
func (p *Position) OpenShort(qty, price float64, at time.Time) {
	p.Side = SideShort
	p.Size = qty
	p.EntryPrice = price
	p.EntryTime = at
	p.HighSinceEntry = price
}

// AddLong folds an additional buy into an existing long. The entry price
// becomes the quantity-weighted average of all buys; the entry time keeps
// the first buy's timestamp so hold-time guards measure the oldest exposure.
func (p *Position) AddLong(qty, price float64) {
	if p.Side != SideLong || qty <= 0 {
		return
	}
	total := p.Size + qty
	p.EntryPrice = (p.EntryPrice*p.Size + price*qty) / total
	p.Size = total
	if price > p.HighSinceEntry {
		p.HighSinceEntry = price
	}
}

// ReduceLong removes qty from a long after a partial close. The entry price
// and time stay as they are; removing the full size (or more) flattens the
// position.
func (p *Position) ReduceLong(qty float64) {
	if p.Side != SideLong || qty <= 0 {
		return
	}
	if qty >= p.Size {
		p.Close()
		return
	}
	p.Size -= qty
}

// MarkPrice updates the high-water mark for a long position. Shorts track
// no high since trailing take-profit only applies to longs.
func (p *Position) MarkPrice(price float64) {
	if p.Side == SideLong && price > p.HighSinceEntry {
		p.HighSinceEntry = price
	}
}

// Close flattens the position back to NONE, clearing every field so the
// flat-state invariant holds.
func (p *Position) Close() {
	*p = Position{Side: SideNone}
}

// PnLPct returns the unrealized PnL of the position at price, as a percent
// of the entry price. Positive is profit for both sides. A flat position
// returns 0.
func (p *Position) PnLPct(price float64) float64 {
	if !p.Open() || p.EntryPrice <= 0 {
		return 0
	}
	switch p.Side {
	case SideShort:
		return (p.EntryPrice - price) / p.EntryPrice * 100
	default:
		return (price - p.EntryPrice) / p.EntryPrice * 100
	}
}

// PnLAbs returns the unrealized PnL at price in quote currency units.
func (p *Position) PnLAbs(price float64) float64 {
	if !p.Open() {
		return 0
	}
	switch p.Side {
	case SideShort:
		return (p.EntryPrice - price) * p.Size
	default:
		return (price - p.EntryPrice) * p.Size
	}
}

// TrailingStop returns the price level at which the trailing take-profit
// arms, given the drawdown percentage from the high-water mark.
func (p *Position) TrailingStop(drawdownPct float64) float64 {
	return p.HighSinceEntry * (1 - drawdownPct/100)
}

// HeldFor returns how long the position has been open as of now.
func (p *Position) HeldFor(now time.Time) time.Duration {
	if !p.Open() {
		return 0
	}
	return now.Sub(p.EntryTime)
}
