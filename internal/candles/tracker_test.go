package candles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// fakeWindowStore is an in-memory WindowStore for tracker tests.
type fakeWindowStore struct {
	mu      sync.Mutex
	windows []*Window
	nextID  int64
}

func (s *fakeWindowStore) UpsertPreTrade(ctx context.Context, w *Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.windows {
		if existing.Phase == PhasePreTrade &&
			existing.BotID == w.BotID && existing.Symbol == w.Symbol && existing.Timeframe == w.Timeframe {
			w.ID = existing.ID
			s.windows[i] = cloneWindow(w)
			return nil
		}
	}
	s.nextID++
	w.ID = s.nextID
	s.windows = append(s.windows, cloneWindow(w))
	return nil
}

func (s *fakeWindowStore) InsertWindow(ctx context.Context, w *Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	w.ID = s.nextID
	s.windows = append(s.windows, cloneWindow(w))
	return nil
}

func (s *fakeWindowStore) FindPreTrade(ctx context.Context, botID, symbol, timeframe string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase == PhasePreTrade && w.BotID == botID && w.Symbol == symbol && w.Timeframe == timeframe {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) FindOpenDuring(ctx context.Context, botID string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase == PhaseDuringTrade && w.BotID == botID && w.PositionStatus == StatusOpen {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) FindByTrade(ctx context.Context, tradeID int64, phase Phase) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase != phase {
			continue
		}
		if (phase == PhaseDuringTrade && w.BuyTradeID == tradeID) ||
			(phase == PhasePostTrade && w.TradeID == tradeID) {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) UpdateCandles(ctx context.Context, w *Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.windows {
		if existing.ID == w.ID {
			s.windows[i] = cloneWindow(w)
			return nil
		}
	}
	return nil
}

func (s *fakeWindowStore) CloseDuring(ctx context.Context, botID string, sellTradeID, endTs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase == PhaseDuringTrade && w.BotID == botID && w.PositionStatus == StatusOpen {
			w.PositionStatus = StatusClosed
			w.SellTradeID = sellTradeID
			w.EndTs = endTs
			w.UpdatedTs = endTs
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeWindowStore) FindByBot(ctx context.Context, botID string, phase Phase, symbol, timeframe string) ([]*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Window
	for _, w := range s.windows {
		if w.Phase != phase || w.BotID != botID {
			continue
		}
		if symbol != "" && w.Symbol != symbol {
			continue
		}
		if timeframe != "" && w.Timeframe != timeframe {
			continue
		}
		out = append(out, cloneWindow(w))
	}
	return out, nil
}

func (s *fakeWindowStore) FindPostTradeBelow(ctx context.Context, botID string, count int) ([]*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Window
	for _, w := range s.windows {
		if w.Phase == PhasePostTrade && w.BotID == botID && w.Count < count {
			out = append(out, cloneWindow(w))
		}
	}
	return out, nil
}

func (s *fakeWindowStore) DeleteWindowsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*Window
	var deleted int64
	for _, w := range s.windows {
		if w.UpdatedTs < cutoffTs {
			deleted++
			continue
		}
		kept = append(kept, w)
	}
	s.windows = kept
	return deleted, nil
}

func cloneWindow(w *Window) *Window {
	cp := *w
	cp.Candles = append([]exchange.Candle(nil), w.Candles...)
	return &cp
}

func newTestTracker(t *testing.T) (*Tracker, *exchange.Paper, *fakeWindowStore) {
	t.Helper()
	paper := exchange.NewPaper(nil, nil)
	store := &fakeWindowStore{}
	tracker := NewTracker(paper, store, zerolog.Nop())
	return tracker, paper, store
}

// candleSeries builds n ascending candles starting at startTs, one per
// stepMs, all priced at 100.
func candleSeries(startTs int64, n int, stepMs int64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	for i := range out {
		out[i] = exchange.Candle{
			Ts: startTs + int64(i)*stepMs, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}
	return out
}

func TestTrackPreTrade(t *testing.T) {
	tracker, paper, store := newTestTracker(t)
	candles := candleSeries(1_700_000_000_000, 50, 300_000)
	// A duplicate and an out-of-order candle must be absorbed.
	scrambled := append([]exchange.Candle{candles[5], candles[3]}, candles...)
	paper.SetKlines("BTCUSDT", "5m", scrambled)

	require.NoError(t, tracker.TrackPreTrade(context.Background(), "bot-1", "BTCUSDT", "5m"))

	w, err := store.FindPreTrade(context.Background(), "bot-1", "BTCUSDT", "5m")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 50, w.Count)
	assert.Len(t, w.Candles, w.Count)
	for i := 1; i < len(w.Candles); i++ {
		assert.Less(t, w.Candles[i-1].Ts, w.Candles[i].Ts, "candles must be strictly ascending")
	}
	assert.Equal(t, w.Candles[0].Ts, w.StartTs)
	assert.Equal(t, w.Candles[len(w.Candles)-1].Ts, w.EndTs)
}

func TestTrackPreTradeUpsertsSameKey(t *testing.T) {
	tracker, paper, store := newTestTracker(t)
	paper.SetKlines("BTCUSDT", "5m", candleSeries(1_700_000_000_000, 20, 300_000))
	require.NoError(t, tracker.TrackPreTrade(context.Background(), "bot-1", "BTCUSDT", "5m"))

	paper.SetKlines("BTCUSDT", "5m", candleSeries(1_700_000_000_000, 30, 300_000))
	require.NoError(t, tracker.TrackPreTrade(context.Background(), "bot-1", "BTCUSDT", "5m"))

	windows, err := store.FindByBot(context.Background(), "bot-1", PhasePreTrade, "", "")
	require.NoError(t, err)
	require.Len(t, windows, 1, "same key must replace, not accumulate")
	assert.Equal(t, 30, windows[0].Count)
}

func TestTrackPreTradeRejectsThinFetch(t *testing.T) {
	tracker, paper, _ := newTestTracker(t)
	paper.SetKlines("BTCUSDT", "5m", candleSeries(1_700_000_000_000, 9, 300_000))

	err := tracker.TrackPreTrade(context.Background(), "bot-1", "BTCUSDT", "5m")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "too thin")
}

func TestPositionTrackingLifecycle(t *testing.T) {
	// Buy order 777 opens a during-trade window; candles accumulate while
	// the position is open; sell order 778 flips it to closed exactly once.
	tracker, paper, store := newTestTracker(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return start }

	require.NoError(t, tracker.StartPositionTracking(ctx, "bot-1", "BTCUSDT", "5m", 777))

	// A second open for the same bot is refused.
	err := tracker.StartPositionTracking(ctx, "bot-1", "BTCUSDT", "5m", 900)
	assert.Error(t, err)

	w, err := store.FindOpenDuring(ctx, "bot-1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, int64(777), w.BuyTradeID)
	assert.Equal(t, StatusOpen, w.PositionStatus)
	assert.Zero(t, w.Count)

	// Feed klines straddling the window start: only newer ones attach.
	windowStart := start.UnixMilli()
	paper.SetKlines("BTCUSDT", "5m", candleSeries(windowStart-600_000, 6, 300_000))
	tracker.now = func() time.Time { return start.Add(10 * time.Minute) }
	require.NoError(t, tracker.UpdatePositionTracking(ctx, "bot-1"))

	w, err = store.FindOpenDuring(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, 3, w.Count, "only candles strictly after start_ts attach")
	for _, c := range w.Candles {
		assert.Greater(t, c.Ts, windowStart)
	}

	// Re-feeding the same klines adds nothing.
	require.NoError(t, tracker.UpdatePositionTracking(ctx, "bot-1"))
	w, _ = store.FindOpenDuring(ctx, "bot-1")
	assert.Equal(t, 3, w.Count)

	// Close stamps the sell and flips the status exactly once.
	require.NoError(t, tracker.StopPositionTracking(ctx, "bot-1", 778))
	closed, err := store.FindByTrade(ctx, 777, PhaseDuringTrade)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.PositionStatus)
	assert.Equal(t, int64(778), closed.SellTradeID)
	assert.NotZero(t, closed.EndTs)

	err = tracker.StopPositionTracking(ctx, "bot-1", 779)
	assert.Error(t, err, "no open window remains to close")
}

func TestUpdatePositionTrackingWithoutWindow(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	assert.NoError(t, tracker.UpdatePositionTracking(context.Background(), "bot-1"),
		"nothing tracked is a no-op, not an error")
}

func TestPostTradeWindowLifecycle(t *testing.T) {
	tracker, paper, store := newTestTracker(t)
	ctx := context.Background()

	execution := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	execTs := execution.UnixMilli()

	require.NoError(t, tracker.StartPostTrade(ctx, "bot-1", "BTCUSDT", "5m", 778, execution))
	assert.Error(t, tracker.StartPostTrade(ctx, "bot-1", "BTCUSDT", "5m", 778, execution),
		"one post-trade window per trade")

	// First batch: 100 candles, half before the execution ts.
	paper.SetKlines("BTCUSDT", "5m", candleSeries(execTs-50*300_000, 100, 300_000))
	done, err := tracker.UpdatePostTrade(ctx, 778)
	require.NoError(t, err)
	assert.False(t, done)

	w, err := store.FindByTrade(ctx, 778, PhasePostTrade)
	require.NoError(t, err)
	assert.Equal(t, 49, w.Count, "only candles strictly after execution_ts count")
	for _, c := range w.Candles {
		assert.Greater(t, c.Ts, execTs)
	}

	// Second batch reaches the target; the window must stop at exactly the
	// target and report done.
	paper.SetKlines("BTCUSDT", "5m", candleSeries(execTs+300_000, PostTradeTarget+40, 300_000))
	done, err = tracker.UpdatePostTrade(ctx, 778)
	require.NoError(t, err)
	assert.True(t, done)

	w, _ = store.FindByTrade(ctx, 778, PhasePostTrade)
	assert.Equal(t, PostTradeTarget, w.Count)
	assert.Equal(t, w.Candles[len(w.Candles)-1].Ts, w.EndTs)

	// Further updates are cheap no-ops.
	done, err = tracker.UpdatePostTrade(ctx, 778)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestUpdatePostTradeUnknownTrade(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	_, err := tracker.UpdatePostTrade(context.Background(), 999)
	assert.Error(t, err)
}

func TestActivePostTrades(t *testing.T) {
	tracker, paper, _ := newTestTracker(t)
	ctx := context.Background()
	execution := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.StartPostTrade(ctx, "bot-1", "BTCUSDT", "5m", 101, execution))
	require.NoError(t, tracker.StartPostTrade(ctx, "bot-1", "ETHUSDT", "5m", 102, execution))

	// Fill 101 to the target so only 102 stays active.
	paper.SetKlines("BTCUSDT", "5m", candleSeries(execution.UnixMilli()+1, PostTradeTarget, 300_000))
	done, err := tracker.UpdatePostTrade(ctx, 101)
	require.NoError(t, err)
	require.True(t, done)

	ids, err := tracker.ActivePostTrades(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{102}, ids)
}

func TestCleanup(t *testing.T) {
	tracker, _, store := newTestTracker(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	old := &Window{BotID: "bot-1", Symbol: "BTCUSDT", Timeframe: "5m", Phase: PhasePostTrade, TradeID: 1,
		UpdatedTs: now.AddDate(0, 0, -40).UnixMilli()}
	fresh := &Window{BotID: "bot-1", Symbol: "BTCUSDT", Timeframe: "5m", Phase: PhasePostTrade, TradeID: 2,
		UpdatedTs: now.AddDate(0, 0, -2).UnixMilli()}
	require.NoError(t, store.InsertWindow(ctx, old))
	require.NoError(t, store.InsertWindow(ctx, fresh))

	deleted, err := tracker.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := store.FindByBot(ctx, "bot-1", PhasePostTrade, "", "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(2), remaining[0].TradeID)

	_, err = tracker.Cleanup(ctx, 0)
	assert.Error(t, err)
}

func TestWindowAppendAfterInvariants(t *testing.T) {
	w := &Window{StartTs: 1000}
	added := w.appendAfter([]exchange.Candle{
		{Ts: 900}, {Ts: 1000}, {Ts: 1100}, {Ts: 1300}, {Ts: 1200}, {Ts: 1200},
	}, w.StartTs, 0)

	assert.Equal(t, 3, added)
	assert.Equal(t, w.Count, len(w.Candles))
	require.Len(t, w.Candles, 3)
	assert.Equal(t, int64(1100), w.Candles[0].Ts)
	assert.Equal(t, int64(1200), w.Candles[1].Ts)
	assert.Equal(t, int64(1300), w.Candles[2].Ts)
}
