package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/risk"
	"github.com/ajitpratap0/tradefleet/internal/strategy"
)

// stubStrategy returns a fixed result so tests control the signal exactly.
type stubStrategy struct {
	res strategy.Result
}

func (s stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Evaluate([]exchange.Candle) strategy.Result { return s.res }

func buySignal(confidence float64) strategy.Result {
	return strategy.Result{Signal: strategy.SignalBuy, Confidence: confidence, Indicators: map[string]float64{"stub": 1}}
}

func sellSignal(confidence float64) strategy.Result {
	return strategy.Result{Signal: strategy.SignalSell, Confidence: confidence, Indicators: map[string]float64{"stub": 1}}
}

func holdSignal() strategy.Result {
	return strategy.Result{Signal: strategy.SignalHold, Indicators: map[string]float64{"stub": 1}}
}

// fakeConfigStore is an in-memory Store.
type fakeConfigStore struct {
	mu       sync.Mutex
	saved    map[string]*Config
	stopped  map[string]time.Time
	failSave error
}

func (f *fakeConfigStore) Save(ctx context.Context, cfg *Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	if f.saved == nil {
		f.saved = make(map[string]*Config)
	}
	cp := *cfg
	f.saved[cfg.BotID] = &cp
	return nil
}

func (f *fakeConfigStore) MarkStopped(ctx context.Context, botID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped == nil {
		f.stopped = make(map[string]time.Time)
	}
	f.stopped[botID] = at
	if cfg, ok := f.saved[botID]; ok {
		stamp := at
		cfg.StoppedAt = &stamp
	}
	return nil
}

func (f *fakeConfigStore) Find(ctx context.Context, botID string) (*Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.saved[botID]; ok {
		cp := *cfg
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeConfigStore) find(botID string) *Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[botID]
}

func (f *fakeConfigStore) stoppedAt(botID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.stopped[botID]
	return at, ok
}

// fakeTradeLog is an in-memory TradeLog. netSpent seeds what NetSpent
// reports; failInsert fails exactly one Insert.
type fakeTradeLog struct {
	mu         sync.Mutex
	trades     []*risk.Trade
	netSpent   float64
	failInsert error
}

func (f *fakeTradeLog) Insert(ctx context.Context, trade *risk.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert != nil {
		err := f.failInsert
		f.failInsert = nil
		return err
	}
	cp := *trade
	f.trades = append(f.trades, &cp)
	return nil
}

func (f *fakeTradeLog) NetSpent(ctx context.Context, botID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.netSpent, nil
}

func (f *fakeTradeLog) all() []*risk.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*risk.Trade(nil), f.trades...)
}

func (f *fakeTradeLog) last() *risk.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trades) == 0 {
		return nil
	}
	return f.trades[len(f.trades)-1]
}

// fakeAnalysisSink records archived analyses.
type fakeAnalysisSink struct {
	mu      sync.Mutex
	records []recordedAnalysis
}

type recordedAnalysis struct {
	symbol  string
	kind    string
	summary string
}

func (f *fakeAnalysisSink) Record(ctx context.Context, symbol, kind, summary string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedAnalysis{symbol: symbol, kind: kind, summary: summary})
	return nil
}

func (f *fakeAnalysisSink) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.kind)
	}
	return out
}

// fakeBackend is an in-memory memory.Backend.
type fakeBackend struct {
	mu         sync.Mutex
	entries    []*memory.Entry
	collective []*memory.CollectiveEntry
}

func (f *fakeBackend) InsertMemory(ctx context.Context, e *memory.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeBackend) FindMemory(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]*memory.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memory.Entry
	for _, e := range f.entries {
		if agent != "" && e.Agent != agent {
			continue
		}
		if entryType != "" && e.Type != entryType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) InsertCollective(ctx context.Context, e *memory.CollectiveEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.collective) + 1)
	f.collective = append(f.collective, e)
	return nil
}

func (f *fakeBackend) FindCollective(ctx context.Context, entryType string, since time.Time, limit int) ([]*memory.CollectiveEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memory.CollectiveEntry
	for _, e := range f.collective {
		if entryType != "" && e.Type != entryType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) byType(entryType string) []*memory.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memory.Entry
	for _, e := range f.entries {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

// fakeWindowStore is an in-memory candles.WindowStore.
type fakeWindowStore struct {
	mu      sync.Mutex
	windows []*candles.Window
	nextID  int64
}

func (s *fakeWindowStore) UpsertPreTrade(ctx context.Context, w *candles.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.windows {
		if existing.Phase == candles.PhasePreTrade &&
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

func (s *fakeWindowStore) InsertWindow(ctx context.Context, w *candles.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	w.ID = s.nextID
	s.windows = append(s.windows, cloneWindow(w))
	return nil
}

func (s *fakeWindowStore) FindPreTrade(ctx context.Context, botID, symbol, timeframe string) (*candles.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase == candles.PhasePreTrade && w.BotID == botID && w.Symbol == symbol && w.Timeframe == timeframe {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) FindOpenDuring(ctx context.Context, botID string) (*candles.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase == candles.PhaseDuringTrade && w.BotID == botID && w.PositionStatus == candles.StatusOpen {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) FindByTrade(ctx context.Context, tradeID int64, phase candles.Phase) (*candles.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.Phase != phase {
			continue
		}
		if (phase == candles.PhaseDuringTrade && w.BuyTradeID == tradeID) ||
			(phase == candles.PhasePostTrade && w.TradeID == tradeID) {
			return cloneWindow(w), nil
		}
	}
	return nil, nil
}

func (s *fakeWindowStore) UpdateCandles(ctx context.Context, w *candles.Window) error {
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
		if w.Phase == candles.PhaseDuringTrade && w.BotID == botID && w.PositionStatus == candles.StatusOpen {
			w.PositionStatus = candles.StatusClosed
			w.SellTradeID = sellTradeID
			w.EndTs = endTs
			w.UpdatedTs = endTs
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeWindowStore) FindByBot(ctx context.Context, botID string, phase candles.Phase, symbol, timeframe string) ([]*candles.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*candles.Window
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

func (s *fakeWindowStore) FindPostTradeBelow(ctx context.Context, botID string, count int) ([]*candles.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*candles.Window
	for _, w := range s.windows {
		if w.Phase == candles.PhasePostTrade && w.BotID == botID && w.Count < count {
			out = append(out, cloneWindow(w))
		}
	}
	return out, nil
}

func (s *fakeWindowStore) DeleteWindowsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*candles.Window
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

func cloneWindow(w *candles.Window) *candles.Window {
	cp := *w
	cp.Candles = append([]exchange.Candle(nil), w.Candles...)
	return &cp
}

// rig wires a paper exchange and in-memory fakes into bot Deps.
type rig struct {
	paper    *exchange.Paper
	windows  *fakeWindowStore
	backend  *fakeBackend
	configs  *fakeConfigStore
	trades   *fakeTradeLog
	analyses *fakeAnalysisSink
	bus      *events.Bus
	deps     Deps
}

func newRig(limits risk.Limits) *rig {
	paper := exchange.NewPaper(nil, map[string]float64{"USDT": 1000})
	paper.SetFilters(exchange.SymbolFilters{
		Symbol:      "BTCUSDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		Status:      "TRADING",
		MinQty:      0.0001,
		MaxQty:      10_000,
		StepSize:    0.0001,
		MinNotional: 5,
	})
	paper.SetPrice("BTCUSDT", 100)

	r := &rig{
		paper:    paper,
		windows:  &fakeWindowStore{},
		backend:  &fakeBackend{},
		configs:  &fakeConfigStore{},
		trades:   &fakeTradeLog{},
		analyses: &fakeAnalysisSink{},
		bus:      events.NewBus(),
	}
	memStore := memory.NewStore(r.backend, zerolog.Nop())
	r.deps = Deps{
		Client: paper,
		// A nanosecond TTL keeps every read fresh from the paper venue.
		Prices:   market.NewPriceCache(paper, nil, time.Nanosecond, zerolog.Nop()),
		Guards:   risk.NewEngine(limits),
		Tracker:  candles.NewTracker(paper, r.windows, zerolog.Nop()),
		Memory:   memStore,
		Learner:  memory.NewLearner(memStore, "decision_agent", zerolog.Nop()),
		Bus:      r.bus,
		Configs:  r.configs,
		Trades:   r.trades,
		Analyses: r.analyses,
	}
	return r
}

// seedKlines gives the rig enough flat candles for strategy evaluation and
// pre-trade snapshots on the bot's timeframe.
func (r *rig) seedKlines(timeframe string, n int) {
	r.paper.SetKlines("BTCUSDT", timeframe, candleSeries(1_700_000_000_000, n, 300_000))
}

// testLimits are the default guard thresholds with min-hold disabled so
// tests close positions without clock control.
func testLimits() risk.Limits {
	l := risk.DefaultLimits()
	l.MinHolding = 0
	return l
}

func testConfig() Config {
	return Config{
		Strategy:    "sma_crossover",
		Symbol:      "BTCUSDT",
		Amount:      100,
		Timeframe:   "5m",
		TradingMode: exchange.ModeSpot,
	}
}

// newTickBot builds a bot in running state without launching the loop, so
// tests drive ticks and manual trades directly.
func newTickBot(t *testing.T, r *rig, cfg Config, res strategy.Result) *Bot {
	t.Helper()
	b, err := New(cfg, r.deps, Options{Tick: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	b.strat = stubStrategy{res: res}
	b.filters, err = r.paper.SymbolFilters(context.Background(), cfg.Symbol)
	require.NoError(t, err)
	b.state = stateRunning
	return b
}

func candleSeries(startTs int64, n int, stepMs int64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	for i := range out {
		out[i] = exchange.Candle{
			Ts: startTs + int64(i)*stepMs, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}
	return out
}

// awaitEvent drains sub until an event of the wanted kind arrives.
func awaitEvent(t *testing.T, sub *events.Subscription, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "bus closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}
