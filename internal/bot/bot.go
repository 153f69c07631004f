// Package bot runs the per-symbol trading loops. Each Bot owns one strategy
// on one symbol: it evaluates candles on a fixed tick, walks every order
// through the risk guards, and records what happened for the learning layer.
// The Manager owns the fleet.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/metrics"
	"github.com/ajitpratap0/tradefleet/internal/risk"
	"github.com/ajitpratap0/tradefleet/internal/strategy"
)

const (
	defaultTick        = 300 * time.Second
	defaultErrorRetry  = 60 * time.Second
	defaultKlineLimit  = 100
	defaultMemoryAgent = "decision_agent"
)

// Options are the runtime knobs shared by every bot in the fleet.
type Options struct {
	// Tick is the loop period; ErrorRetry replaces it after a failed tick.
	Tick       time.Duration
	ErrorRetry time.Duration

	// KlineLimit is how many candles each strategy evaluation fetches.
	KlineLimit int

	// Testnet restricts trading to SPOT.
	Testnet bool

	// MemoryAgent names the agent whose memory receives historical context.
	MemoryAgent string
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = defaultTick
	}
	if o.ErrorRetry <= 0 {
		o.ErrorRetry = defaultErrorRetry
	}
	if o.KlineLimit <= 0 {
		o.KlineLimit = defaultKlineLimit
	}
	if o.MemoryAgent == "" {
		o.MemoryAgent = defaultMemoryAgent
	}
	return o
}

// Deps bundles the collaborators every bot shares. Analyses may be nil to
// skip archiving historical context; everything else is required.
type Deps struct {
	Client  exchange.Client
	Prices  *market.PriceCache
	Guards  *risk.Engine
	Tracker *candles.Tracker
	Memory  *memory.Store
	Learner *memory.Learner
	Bus     *events.Bus
	Configs Store
	Trades  TradeLog

	Analyses AnalysisSink
}

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

// Bot is one autonomous trading loop bound to a single symbol and strategy.
// The loop goroutine owns the tick cadence; manual trades arriving from the
// API serialize against it through tradeMu.
type Bot struct {
	cfg    Config
	deps   Deps
	opts   Options
	strat  strategy.Strategy
	logger zerolog.Logger

	// Symbol trading rules, loaded once at start and immutable afterwards.
	filters exchange.SymbolFilters

	// tradeMu serializes the trading sections end to end: the tick's
	// decision-to-order path and manual trades. stateMu guards the snapshot
	// fields Status reads; position and budget writers hold both, tradeMu
	// outermost, so Status never waits on an in-flight order.
	tradeMu sync.Mutex
	stateMu sync.RWMutex

	state         lifecycle
	position      *risk.Position
	entryTradeID  int64
	netSpent      float64
	needReconcile bool
	lastSignal    strategy.Result
	lastPhase     market.PhaseResult
	lastTick      time.Time
	lastErr       string
	tickCount     uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time snapshot of one bot.
type Status struct {
	Config          Config             `json:"config"`
	Running         bool               `json:"running"`
	Position        risk.Position      `json:"position"`
	NetSpent        float64            `json:"net_spent"`
	RemainingBudget float64            `json:"remaining_budget"`
	LastSignal      strategy.Result    `json:"last_signal"`
	MarketPhase     market.PhaseResult `json:"market_phase"`
	LastTick        time.Time          `json:"last_tick"`
	LastError       string             `json:"last_error,omitempty"`
	Ticks           uint64             `json:"ticks"`
}

// New creates a bot for cfg. Missing identity fields are stamped here: a
// fresh UUID, the start time, and USER as the default starter. Start
// launches the loop.
func New(cfg Config, deps Deps, opts Options, logger zerolog.Logger) (*Bot, error) {
	if cfg.BotID == "" {
		cfg.BotID = uuid.New().String()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if cfg.StartedBy == "" {
		cfg.StartedBy = StartedByUser
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strat, err := strategy.ForName(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	return &Bot{
		cfg:      cfg,
		deps:     deps,
		opts:     opts.withDefaults(),
		strat:    strat,
		logger:   logger.With().Str("bot_id", cfg.BotID).Str("symbol", cfg.Symbol).Logger(),
		position: risk.NewPosition(),
	}, nil
}

// Start validates the trading environment, adopts any position already held
// on the venue, seeds the budget from the trade history and launches the
// loop. ctx bounds the startup work only; the loop runs until Stop.
func (b *Bot) Start(ctx context.Context) error {
	b.stateMu.Lock()
	if b.state == stateRunning {
		b.stateMu.Unlock()
		return fmt.Errorf("bot %s is already running", b.cfg.BotID)
	}
	b.stateMu.Unlock()

	if b.opts.Testnet && b.cfg.TradingMode != exchange.ModeSpot {
		return fmt.Errorf("trading mode %s is not available on testnet", b.cfg.TradingMode)
	}

	tradable, reason, err := b.deps.Client.IsTradable(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to check tradability of %s: %w", b.cfg.Symbol, err)
	}
	if !tradable {
		return fmt.Errorf("symbol %s is not tradable: %s", b.cfg.Symbol, reason)
	}

	filters, err := b.deps.Client.SymbolFilters(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load symbol filters for %s: %w", b.cfg.Symbol, err)
	}
	b.filters = filters

	if err := b.snapshotPosition(ctx); err != nil {
		return fmt.Errorf("failed to snapshot position: %w", err)
	}

	netSpent, err := b.deps.Trades.NetSpent(ctx, b.cfg.BotID)
	if err != nil {
		return fmt.Errorf("failed to load net spent for bot %s: %w", b.cfg.BotID, err)
	}
	b.stateMu.Lock()
	b.netSpent = netSpent
	b.stateMu.Unlock()

	if err := b.deps.Configs.Save(ctx, &b.cfg); err != nil {
		return fmt.Errorf("failed to persist bot config: %w", err)
	}

	// One-shot market context across the standard timeframes, recorded
	// before the first tick. The bot trades the same without it.
	b.historicalContext(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	b.stateMu.Lock()
	b.state = stateRunning
	b.cfg.StoppedAt = nil
	b.cancel = cancel
	b.done = make(chan struct{})
	b.stateMu.Unlock()

	metrics.RunningBots.Inc()
	if b.cfg.Autonomous {
		metrics.AutonomousBots.Inc()
	}

	go b.run(runCtx)

	b.deps.Bus.Publish(events.Event{
		Kind:    events.KindBotStarted,
		BotID:   b.cfg.BotID,
		Symbol:  b.cfg.Symbol,
		Message: fmt.Sprintf("bot started: %s on %s %s", b.cfg.Strategy, b.cfg.Symbol, b.cfg.Timeframe),
		Payload: map[string]interface{}{
			"strategy":     b.cfg.Strategy,
			"amount":       b.cfg.Amount,
			"timeframe":    b.cfg.Timeframe,
			"trading_mode": string(b.cfg.TradingMode),
			"started_by":   b.cfg.StartedBy,
			"autonomous":   b.cfg.Autonomous,
		},
	})
	b.logger.Info().
		Str("strategy", b.cfg.Strategy).
		Str("timeframe", b.cfg.Timeframe).
		Str("mode", string(b.cfg.TradingMode)).
		Float64("amount", b.cfg.Amount).
		Float64("net_spent", netSpent).
		Msg("Bot started")
	return nil
}

// Stop cancels the loop, waits for it to exit and stamps the stop time.
// ctx bounds only the wait and the persistence call.
func (b *Bot) Stop(ctx context.Context) error {
	b.stateMu.Lock()
	if b.state != stateRunning {
		b.stateMu.Unlock()
		return fmt.Errorf("bot %s is not running", b.cfg.BotID)
	}
	cancel, done := b.cancel, b.done
	b.stateMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop bot %s: %w", b.cfg.BotID, ctx.Err())
	}

	now := time.Now().UTC()
	b.stateMu.Lock()
	if b.state != stateRunning {
		// A concurrent Stop already finished the bookkeeping.
		b.stateMu.Unlock()
		return nil
	}
	b.state = stateStopped
	b.cfg.StoppedAt = &now
	positionOpen := b.position.Open()
	b.stateMu.Unlock()

	metrics.RunningBots.Dec()
	if b.cfg.Autonomous {
		metrics.AutonomousBots.Dec()
	}
	if positionOpen {
		metrics.OpenPositions.Dec()
	}

	b.deps.Bus.Publish(events.Event{
		Kind:    events.KindBotStopped,
		BotID:   b.cfg.BotID,
		Symbol:  b.cfg.Symbol,
		Message: "bot stopped",
	})
	b.logger.Info().Msg("Bot stopped")

	if err := b.deps.Configs.MarkStopped(ctx, b.cfg.BotID, now); err != nil {
		b.logger.Error().Err(err).Msg("Failed to persist stop time")
		return fmt.Errorf("bot %s stopped but stop time not persisted: %w", b.cfg.BotID, err)
	}
	return nil
}

// Running reports whether the loop is live.
func (b *Bot) Running() bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state == stateRunning
}

// Stopped reports whether the bot ran and has since stopped.
func (b *Bot) Stopped() bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state == stateStopped
}

// Config returns a copy of the bot's configuration.
func (b *Bot) Config() Config {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.cfg
}

// Status snapshots the bot without touching the trading lock, so it stays
// responsive while an order is in flight.
func (b *Bot) Status() Status {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return Status{
		Config:          b.cfg,
		Running:         b.state == stateRunning,
		Position:        *b.position,
		NetSpent:        b.netSpent,
		RemainingBudget: risk.RemainingBudget(b.cfg.Amount, b.netSpent),
		LastSignal:      b.lastSignal,
		MarketPhase:     b.lastPhase,
		LastTick:        b.lastTick,
		LastError:       b.lastErr,
		Ticks:           b.tickCount,
	}
}

// snapshotPosition aligns the in-memory position with the venue's balances.
// A free base balance that still clears the symbol's lot and notional
// filters is real exposure: if the bot already knows the entry it keeps it
// and trusts the venue for size, otherwise it adopts a long at the current
// price, which is the best entry approximation a spot venue offers. Dust
// below the filters is not a position.
func (b *Bot) snapshotPosition(ctx context.Context) error {
	price, err := b.deps.Client.Price(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch price for %s: %w", b.cfg.Symbol, err)
	}
	free, err := b.deps.Client.Balance(ctx, b.filters.BaseAsset, b.cfg.TradingMode)
	if err != nil {
		return fmt.Errorf("failed to fetch %s balance: %w", b.filters.BaseAsset, err)
	}

	qty, held := exchange.SellableQuantity(b.filters, free, price)

	b.stateMu.Lock()
	wasOpen := b.position.Open()
	switch {
	case b.position.Side == risk.SideShort:
		// Base balances say nothing about a short; keep what we know.
	case held && wasOpen:
		b.position.Size = qty
	case held:
		b.position.OpenLong(qty, price, time.Now().UTC())
	default:
		b.position.Close()
	}
	isOpen := b.position.Open()
	b.stateMu.Unlock()

	switch {
	case isOpen && !wasOpen:
		metrics.OpenPositions.Inc()
	case !isOpen && wasOpen:
		metrics.OpenPositions.Dec()
	}

	if held {
		b.logger.Info().
			Float64("qty", qty).
			Float64("price", price).
			Msg("Adopted open position from balances")
	}
	return nil
}

// currentNetSpent reads the committed budget under the state lock.
func (b *Bot) currentNetSpent() float64 {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.netSpent
}

func (b *Bot) noteError(err error) {
	b.stateMu.Lock()
	if err != nil {
		b.lastErr = err.Error()
	} else {
		b.lastErr = ""
	}
	b.stateMu.Unlock()
}

// flagReconcile schedules a balance re-read at the top of the next tick.
// Set when trade persistence fails: the in-memory position stays
// authoritative, the venue confirms or denies it next round.
func (b *Bot) flagReconcile() {
	b.stateMu.Lock()
	b.needReconcile = true
	b.stateMu.Unlock()
}

func (b *Bot) needsReconcile() bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.needReconcile
}

func (b *Bot) clearReconcile() {
	b.stateMu.Lock()
	b.needReconcile = false
	b.stateMu.Unlock()
}
