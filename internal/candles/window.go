package candles

import (
	"slices"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// Phase tells which part of a trade's life a window captures.
type Phase string

const (
	PhasePreTrade    Phase = "pre_trade"
	PhaseDuringTrade Phase = "during_trade"
	PhasePostTrade   Phase = "post_trade"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreTrade, PhaseDuringTrade, PhasePostTrade:
		return true
	}
	return false
}

// PositionStatus tracks the during_trade window lifecycle.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Window is one captured candle series. Pre-trade windows snapshot the
// market before a decision; during-trade windows accumulate candles while a
// position is open and are keyed by the opening buy; post-trade windows
// follow a closed trade until they hold PostTradeTarget candles.
//
// Invariants: Candles is strictly increasing by Ts with no duplicates,
// Count == len(Candles), and UpdatedTs never decreases.
type Window struct {
	ID             int64             `json:"id,omitempty"`
	BotID          string            `json:"bot_id"`
	Symbol         string            `json:"symbol"`
	Timeframe      string            `json:"timeframe"`
	Phase          Phase             `json:"phase"`
	Candles        []exchange.Candle `json:"candles"`
	Count          int               `json:"count"`
	TradeID        int64             `json:"trade_id,omitempty"`
	BuyTradeID     int64             `json:"buy_trade_id,omitempty"`
	SellTradeID    int64             `json:"sell_trade_id,omitempty"`
	PositionStatus PositionStatus    `json:"position_status,omitempty"`
	StartTs        int64             `json:"start_ts"`
	EndTs          int64             `json:"end_ts,omitempty"`
	UpdatedTs      int64             `json:"updated_ts"`
}

// setCandles replaces the window series with a deduplicated ascending copy
// and refreshes the count.
func (w *Window) setCandles(candles []exchange.Candle) {
	w.Candles = dedupeAscending(candles)
	w.Count = len(w.Candles)
}

// appendAfter merges candles with Ts strictly greater than afterTs into the
// window, skipping timestamps already present. When max > 0 the series stops
// growing at max entries. Returns how many candles were added.
func (w *Window) appendAfter(incoming []exchange.Candle, afterTs int64, max int) int {
	seen := make(map[int64]struct{}, len(w.Candles))
	for _, c := range w.Candles {
		seen[c.Ts] = struct{}{}
	}

	added := 0
	for _, c := range dedupeAscending(incoming) {
		if c.Ts <= afterTs {
			continue
		}
		if _, dup := seen[c.Ts]; dup {
			continue
		}
		if max > 0 && len(w.Candles) >= max {
			break
		}
		w.Candles = append(w.Candles, c)
		seen[c.Ts] = struct{}{}
		added++
	}
	if added > 0 {
		slices.SortFunc(w.Candles, func(a, b exchange.Candle) int {
			switch {
			case a.Ts < b.Ts:
				return -1
			case a.Ts > b.Ts:
				return 1
			}
			return 0
		})
	}
	w.Count = len(w.Candles)
	return added
}

// lastTs returns the newest candle timestamp, or the window start when the
// series is still empty.
func (w *Window) lastTs() int64 {
	if len(w.Candles) == 0 {
		return w.StartTs
	}
	return w.Candles[len(w.Candles)-1].Ts
}

// dedupeAscending sorts candles by Ts and drops duplicate timestamps,
// keeping the first occurrence.
func dedupeAscending(candles []exchange.Candle) []exchange.Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]exchange.Candle, len(candles))
	copy(out, candles)
	slices.SortStableFunc(out, func(a, b exchange.Candle) int {
		switch {
		case a.Ts < b.Ts:
			return -1
		case a.Ts > b.Ts:
			return 1
		}
		return 0
	})
	deduped := out[:1]
	for _, c := range out[1:] {
		if c.Ts != deduped[len(deduped)-1].Ts {
			deduped = append(deduped, c)
		}
	}
	return deduped
}
