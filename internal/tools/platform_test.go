package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/knowledge"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

type nopConfigs struct{}

func (nopConfigs) Save(context.Context, *bot.Config) error              { return nil }
func (nopConfigs) MarkStopped(context.Context, string, time.Time) error { return nil }
func (nopConfigs) Find(context.Context, string) (*bot.Config, error)    { return nil, nil }

type nopTrades struct{}

func (nopTrades) Insert(context.Context, *risk.Trade) error         { return nil }
func (nopTrades) NetSpent(context.Context, string) (float64, error) { return 0, nil }

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, string, map[string]any) error { return nil }

type nopWindows struct{}

func (nopWindows) UpsertPreTrade(context.Context, *candles.Window) error { return nil }
func (nopWindows) InsertWindow(context.Context, *candles.Window) error   { return nil }
func (nopWindows) FindPreTrade(context.Context, string, string, string) (*candles.Window, error) {
	return nil, nil
}
func (nopWindows) FindOpenDuring(context.Context, string) (*candles.Window, error) {
	return nil, nil
}
func (nopWindows) FindByTrade(context.Context, int64, candles.Phase) (*candles.Window, error) {
	return nil, nil
}
func (nopWindows) UpdateCandles(context.Context, *candles.Window) error { return nil }
func (nopWindows) CloseDuring(context.Context, string, int64, int64) (bool, error) {
	return false, nil
}
func (nopWindows) FindByBot(context.Context, string, candles.Phase, string, string) ([]*candles.Window, error) {
	return nil, nil
}
func (nopWindows) FindPostTradeBelow(context.Context, string, int) ([]*candles.Window, error) {
	return nil, nil
}
func (nopWindows) DeleteWindowsBefore(context.Context, int64) (int64, error) { return 0, nil }

// memBackend is a working in-memory memory.Backend so the memory tools can
// round-trip entries.
type memBackend struct {
	mu         sync.Mutex
	entries    []*memory.Entry
	collective []*memory.CollectiveEntry
}

func (b *memBackend) InsertMemory(_ context.Context, e *memory.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.ID = int64(len(b.entries) + 1)
	c := *e
	b.entries = append(b.entries, &c)
	return nil
}

func (b *memBackend) FindMemory(_ context.Context, agent, entryType string, since time.Time, limit int) ([]*memory.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*memory.Entry
	for i := len(b.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := b.entries[i]
		if e.Agent != agent {
			continue
		}
		if entryType != "" && e.Type != entryType {
			continue
		}
		if e.Ts.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *memBackend) InsertCollective(_ context.Context, e *memory.CollectiveEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.ID = int64(len(b.collective) + 1)
	c := *e
	b.collective = append(b.collective, &c)
	return nil
}

func (b *memBackend) FindCollective(_ context.Context, entryType string, since time.Time, limit int) ([]*memory.CollectiveEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*memory.CollectiveEntry
	for i := len(b.collective) - 1; i >= 0 && len(out) < limit; i-- {
		e := b.collective[i]
		if entryType != "" && e.Type != entryType {
			continue
		}
		if e.Ts.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memTemplates struct {
	mu        sync.Mutex
	templates map[string]*knowledge.Template
}

func newMemTemplates() *memTemplates {
	return &memTemplates{templates: make(map[string]*knowledge.Template)}
}

func (s *memTemplates) UpsertTemplate(_ context.Context, t *knowledge.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.templates[t.Strategy] = &c
	return nil
}

func (s *memTemplates) FindTemplate(_ context.Context, strategy string) (*knowledge.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[strategy]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (s *memTemplates) ListTemplates(_ context.Context) ([]*knowledge.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*knowledge.Template, 0, len(s.templates))
	for _, t := range s.templates {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out, nil
}

type memTradeLog struct {
	trades []*risk.Trade
}

func (l *memTradeLog) Find(_ context.Context, symbol string, limit int) ([]*risk.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*risk.Trade
	for i := len(l.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol != "" && l.trades[i].Symbol != symbol {
			continue
		}
		out = append(out, l.trades[i])
	}
	return out, nil
}

func (l *memTradeLog) FindByBot(_ context.Context, botID string, limit int) ([]*risk.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*risk.Trade
	for i := len(l.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if l.trades[i].BotID != botID {
			continue
		}
		out = append(out, l.trades[i])
	}
	return out, nil
}

type spawnCall struct {
	symbol    string
	strategy  string
	timeframe string
	mode      exchange.TradingMode
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	cfg   *bot.Config
	err   error
}

func (s *fakeSpawner) StartAutonomousBot(_ context.Context, symbol, strategy, timeframe string, mode exchange.TradingMode) (*bot.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{symbol: symbol, strategy: strategy, timeframe: timeframe, mode: mode})
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

func (s *fakeSpawner) recorded() []spawnCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]spawnCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// platformRig wires the tool set to a real bot manager over the paper
// exchange. Klines stay unseeded unless a test seeds them, so started bots
// tick without trading.
type platformRig struct {
	paper     *exchange.Paper
	manager   *bot.Manager
	spawner   *fakeSpawner
	trades    *memTradeLog
	templates *memTemplates
	backend   *memBackend
	registry  *Registry
}

func newPlatformRig(t *testing.T) *platformRig {
	t.Helper()

	paper := exchange.NewPaper(nil, map[string]float64{"USDT": 1000})
	paper.SetFilters(exchange.SymbolFilters{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING",
		MinQty: 0.0001, MaxQty: 10_000, StepSize: 0.0001, MinNotional: 5,
	})
	paper.SetPrice("BTCUSDT", 100)

	memStore := memory.NewStore(&memBackend{}, zerolog.Nop())
	deps := bot.Deps{
		Client:   paper,
		Prices:   market.NewPriceCache(paper, nil, time.Nanosecond, zerolog.Nop()),
		Guards:   risk.NewEngine(risk.DefaultLimits()),
		Tracker:  candles.NewTracker(paper, nopWindows{}, zerolog.Nop()),
		Memory:   memStore,
		Learner:  memory.NewLearner(memStore, "platform", zerolog.Nop()),
		Bus:      events.NewBus(),
		Configs:  nopConfigs{},
		Trades:   nopTrades{},
		Analyses: nopSink{},
	}
	manager := bot.NewManager(deps, bot.Options{Tick: time.Hour}, zerolog.Nop())
	t.Cleanup(func() {
		_ = manager.StopAll(context.Background())
	})

	rig := &platformRig{
		paper:     paper,
		manager:   manager,
		spawner:   &fakeSpawner{},
		trades:    &memTradeLog{},
		templates: newMemTemplates(),
		backend:   &memBackend{},
	}

	registry, err := NewPlatform(PlatformDeps{
		Manager:    manager,
		Supervisor: rig.spawner,
		Client:     paper,
		Prices:     market.NewPriceCache(paper, nil, time.Nanosecond, zerolog.Nop()),
		Trades:     rig.trades,
		Knowledge:  knowledge.NewLibrary(rig.templates, zerolog.Nop()),
		Memory:     memory.NewStore(rig.backend, zerolog.Nop()),
	}, zerolog.Nop())
	require.NoError(t, err)
	rig.registry = registry
	return rig
}

func (r *platformRig) dispatch(t *testing.T, agent, tool string, args any) (json.RawMessage, error) {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		require.NoError(t, err)
		raw = data
	}
	return r.registry.Dispatch(context.Background(), agent, tool, raw)
}

func mustDecode(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestPlatformToolList(t *testing.T) {
	rig := newPlatformRig(t)

	var names []string
	for _, desc := range rig.registry.List() {
		names = append(names, desc.Name)
	}
	assert.Equal(t, []string{
		"start_autonomous_bot",
		"stop_bot",
		"get_bot_status",
		"list_bots",
		"get_trade_history",
		"get_market_snapshot",
		"get_trading_knowledge",
		"record_memory",
		"get_recent_memory",
	}, names)
}

func TestStartAutonomousBotForwardsToSupervisor(t *testing.T) {
	rig := newPlatformRig(t)
	rig.spawner.cfg = &bot.Config{BotID: "bot-1", Symbol: "BTCUSDT", Strategy: "rsi", Amount: 100}

	out, err := rig.dispatch(t, agentbus.AgentDecision, "start_autonomous_bot",
		map[string]any{"symbol": "BTCUSDT", "strategy": "rsi", "timeframe": "4h", "mode": "MARGIN"})
	require.NoError(t, err)

	var cfg bot.Config
	mustDecode(t, out, &cfg)
	assert.Equal(t, "bot-1", cfg.BotID)

	calls := rig.spawner.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, spawnCall{symbol: "BTCUSDT", strategy: "rsi", timeframe: "4h", mode: exchange.ModeMargin}, calls[0])
}

func TestStartAutonomousBotIsDecisionAgentOnly(t *testing.T) {
	rig := newPlatformRig(t)

	_, err := rig.dispatch(t, "sentiment_agent", "start_autonomous_bot",
		map[string]any{"symbol": "BTCUSDT", "strategy": "rsi"})
	require.ErrorContains(t, err, "restricted to decision_agent")
	assert.Empty(t, rig.spawner.recorded())
}

func TestStartAutonomousBotWhenDisabled(t *testing.T) {
	rig := newPlatformRig(t)
	registry, err := NewPlatform(PlatformDeps{
		Manager:   rig.manager,
		Client:    rig.paper,
		Prices:    market.NewPriceCache(rig.paper, nil, time.Nanosecond, zerolog.Nop()),
		Trades:    rig.trades,
		Knowledge: knowledge.NewLibrary(rig.templates, zerolog.Nop()),
		Memory:    memory.NewStore(rig.backend, zerolog.Nop()),
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = registry.Dispatch(context.Background(), agentbus.AgentDecision, "start_autonomous_bot",
		json.RawMessage(`{"symbol":"BTCUSDT","strategy":"rsi"}`))
	require.ErrorContains(t, err, "autonomous trading is disabled")
}

func TestSpawnerErrorsSurfaceToCaller(t *testing.T) {
	rig := newPlatformRig(t)
	rig.spawner.err = errors.New("autonomy cap reached: 2 of 2 bots running")

	_, err := rig.dispatch(t, agentbus.AgentDecision, "start_autonomous_bot",
		map[string]any{"symbol": "BTCUSDT", "strategy": "rsi"})
	require.ErrorContains(t, err, "autonomy cap reached")
}

func TestBotLifecycleTools(t *testing.T) {
	rig := newPlatformRig(t)

	started, err := rig.manager.StartBot(context.Background(), bot.Config{
		Strategy: "rsi", Symbol: "BTCUSDT", Amount: 50, Timeframe: "1h", TradingMode: exchange.ModeSpot,
	})
	require.NoError(t, err)
	id := started.Config().BotID

	out, err := rig.dispatch(t, "decision_agent", "get_bot_status", map[string]any{"bot_id": id})
	require.NoError(t, err)
	var status bot.Status
	mustDecode(t, out, &status)
	assert.True(t, status.Running)
	assert.Equal(t, "BTCUSDT", status.Config.Symbol)

	out, err = rig.dispatch(t, "decision_agent", "list_bots", nil)
	require.NoError(t, err)
	var listed struct {
		Count int          `json:"count"`
		Bots  []bot.Status `json:"bots"`
	}
	mustDecode(t, out, &listed)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, id, listed.Bots[0].Config.BotID)

	out, err = rig.dispatch(t, "decision_agent", "stop_bot", map[string]any{"bot_id": id})
	require.NoError(t, err)
	var stopped struct {
		BotID   string `json:"bot_id"`
		Stopped bool   `json:"stopped"`
	}
	mustDecode(t, out, &stopped)
	assert.True(t, stopped.Stopped)

	out, err = rig.dispatch(t, "decision_agent", "get_bot_status", map[string]any{"bot_id": id})
	require.NoError(t, err)
	mustDecode(t, out, &status)
	assert.False(t, status.Running)
}

func TestBotToolsRequireKnownBot(t *testing.T) {
	rig := newPlatformRig(t)

	_, err := rig.dispatch(t, "decision_agent", "get_bot_status", map[string]any{"bot_id": "ghost"})
	require.ErrorContains(t, err, "bot ghost not found")

	_, err = rig.dispatch(t, "decision_agent", "stop_bot", map[string]any{"bot_id": "ghost"})
	require.ErrorContains(t, err, "bot ghost not found")

	_, err = rig.dispatch(t, "decision_agent", "stop_bot", nil)
	require.ErrorContains(t, err, "bot_id is required")
}

func TestTradeHistoryFilters(t *testing.T) {
	rig := newPlatformRig(t)
	rig.trades.trades = []*risk.Trade{
		{TradeID: 1, BotID: "a", Symbol: "BTCUSDT", Side: exchange.SideBuy, QuoteQty: 50},
		{TradeID: 2, BotID: "b", Symbol: "ETHUSDT", Side: exchange.SideBuy, QuoteQty: 40},
		{TradeID: 3, BotID: "a", Symbol: "BTCUSDT", Side: exchange.SideSell, QuoteQty: 55},
	}

	var history struct {
		Count  int           `json:"count"`
		Trades []*risk.Trade `json:"trades"`
	}

	out, err := rig.dispatch(t, "decision_agent", "get_trade_history", nil)
	require.NoError(t, err)
	mustDecode(t, out, &history)
	assert.Equal(t, 3, history.Count)
	// Newest first.
	assert.Equal(t, int64(3), history.Trades[0].TradeID)

	out, err = rig.dispatch(t, "decision_agent", "get_trade_history", map[string]any{"symbol": "ETHUSDT"})
	require.NoError(t, err)
	mustDecode(t, out, &history)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, int64(2), history.Trades[0].TradeID)

	out, err = rig.dispatch(t, "decision_agent", "get_trade_history", map[string]any{"bot_id": "a", "limit": 1})
	require.NoError(t, err)
	mustDecode(t, out, &history)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, int64(3), history.Trades[0].TradeID)
}

func TestMarketSnapshot(t *testing.T) {
	rig := newPlatformRig(t)

	base := time.Now().Add(-20 * time.Hour).UnixMilli()
	candlesUp := make([]exchange.Candle, 20)
	for i := range candlesUp {
		price := 100 + float64(i)
		candlesUp[i] = exchange.Candle{
			Ts:     base + int64(i)*time.Hour.Milliseconds(),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + 0.5,
			Volume: 10,
		}
	}
	rig.paper.SetKlines("BTCUSDT", "1h", candlesUp)
	rig.paper.SetPrice("BTCUSDT", 120)

	out, err := rig.dispatch(t, "decision_agent", "get_market_snapshot", map[string]any{"symbol": "BTCUSDT"})
	require.NoError(t, err)

	var snap marketSnapshot
	mustDecode(t, out, &snap)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 120.0, snap.Price)
	assert.Equal(t, "1h", snap.Timeframe)
	assert.Equal(t, 20, snap.Candles)
	assert.Equal(t, market.PhaseBullish, snap.Phase.Phase)
	assert.False(t, snap.AsOf.IsZero())
}

func TestMarketSnapshotValidation(t *testing.T) {
	rig := newPlatformRig(t)

	_, err := rig.dispatch(t, "decision_agent", "get_market_snapshot", nil)
	require.ErrorContains(t, err, "symbol is required")

	_, err = rig.dispatch(t, "decision_agent", "get_market_snapshot",
		map[string]any{"symbol": "BTCUSDT", "timeframe": "7m"})
	require.ErrorContains(t, err, `unsupported timeframe "7m"`)

	_, err = rig.dispatch(t, "decision_agent", "get_market_snapshot", map[string]any{"symbol": "DOGEUSDT"})
	require.ErrorContains(t, err, "failed to fetch price for DOGEUSDT")
}

func TestTradingKnowledgeTool(t *testing.T) {
	rig := newPlatformRig(t)
	require.NoError(t, rig.templates.UpsertTemplate(context.Background(), &knowledge.Template{
		Strategy: "rsi", SchemaVersion: "1.0.0", Title: "RSI basics",
		Guidance: []string{"Buy oversold bounces, not falling knives"},
	}))
	require.NoError(t, rig.templates.UpsertTemplate(context.Background(), &knowledge.Template{
		Strategy: "macd", SchemaVersion: "1.0.0", Title: "MACD basics",
		Guidance: []string{"Respect the signal-line cross direction"},
	}))

	out, err := rig.dispatch(t, "decision_agent", "get_trading_knowledge", map[string]any{"strategy": "rsi"})
	require.NoError(t, err)
	var tpl knowledge.Template
	mustDecode(t, out, &tpl)
	assert.Equal(t, "RSI basics", tpl.Title)

	out, err = rig.dispatch(t, "decision_agent", "get_trading_knowledge", nil)
	require.NoError(t, err)
	var all struct {
		Count     int                   `json:"count"`
		Templates []*knowledge.Template `json:"templates"`
	}
	mustDecode(t, out, &all)
	assert.Equal(t, 2, all.Count)

	_, err = rig.dispatch(t, "decision_agent", "get_trading_knowledge", map[string]any{"strategy": "astrology"})
	require.ErrorContains(t, err, "no trading knowledge for strategy astrology")
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	rig := newPlatformRig(t)

	out, err := rig.dispatch(t, "sentiment_agent", "record_memory", map[string]any{
		"type":     "observation",
		"content":  "BTC funding rates turned positive",
		"metadata": map[string]any{"symbol": "BTCUSDT"},
	})
	require.NoError(t, err)
	var entry memory.Entry
	mustDecode(t, out, &entry)
	assert.Equal(t, "sentiment_agent", entry.Agent)
	assert.NotZero(t, entry.ID)

	var recent struct {
		Count   int             `json:"count"`
		Entries []*memory.Entry `json:"entries"`
	}

	out, err = rig.dispatch(t, "sentiment_agent", "get_recent_memory", map[string]any{"type": "observation"})
	require.NoError(t, err)
	mustDecode(t, out, &recent)
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, "BTC funding rates turned positive", recent.Entries[0].Content)

	// Memory is scoped to the calling agent.
	out, err = rig.dispatch(t, "decision_agent", "get_recent_memory", nil)
	require.NoError(t, err)
	mustDecode(t, out, &recent)
	assert.Equal(t, 0, recent.Count)
}

func TestSharedMemoryTools(t *testing.T) {
	rig := newPlatformRig(t)

	_, err := rig.dispatch(t, "sentiment_agent", "record_memory", map[string]any{
		"type": "news", "content": "ETF approval confirmed", "shared": true,
	})
	require.NoError(t, err)

	var recent struct {
		Count   int                       `json:"count"`
		Entries []*memory.CollectiveEntry `json:"entries"`
	}
	out, err := rig.dispatch(t, "decision_agent", "get_recent_memory", map[string]any{"shared": true})
	require.NoError(t, err)
	mustDecode(t, out, &recent)
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, "ETF approval confirmed", recent.Entries[0].Content)
}

func TestRecordMemoryRequiresType(t *testing.T) {
	rig := newPlatformRig(t)

	_, err := rig.dispatch(t, "sentiment_agent", "record_memory", map[string]any{"content": "untyped"})
	require.ErrorContains(t, err, "requires a type")
}
