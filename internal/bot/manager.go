package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// Manager owns every bot in the process. All methods are safe for
// concurrent use from the API, the supervisor, and the tool dispatcher.
type Manager struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewManager creates an empty fleet sharing deps across bots.
func NewManager(deps Deps, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger,
		bots:   make(map[string]*Bot),
	}
}

// StartBot creates a bot for cfg and launches it. An empty BotID gets a
// fresh UUID; reusing the id of a stopped bot replaces it. The map entry is
// reserved before the slow startup work so two concurrent starts of the
// same id cannot both win, and it is released again when startup fails.
func (m *Manager) StartBot(ctx context.Context, cfg Config) (*Bot, error) {
	b, err := New(cfg, m.deps, m.opts, m.logger)
	if err != nil {
		m.publishStartFailure(cfg, err)
		return nil, err
	}
	id := b.Config().BotID

	m.mu.Lock()
	if existing, ok := m.bots[id]; ok && !existing.Stopped() {
		m.mu.Unlock()
		err := fmt.Errorf("bot %s already exists", id)
		m.publishStartFailure(b.Config(), err)
		return nil, err
	}
	m.bots[id] = b
	m.mu.Unlock()

	if err := b.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.bots, id)
		m.mu.Unlock()
		m.publishStartFailure(b.Config(), err)
		return nil, fmt.Errorf("failed to start bot %s: %w", id, err)
	}
	return b, nil
}

// GetBot returns the bot with the given id.
func (m *Manager) GetBot(id string) (*Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	return b, ok
}

// AllBots returns every bot in the fleet, oldest start first.
func (m *Manager) AllBots() []*Bot {
	m.mu.RLock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.RUnlock()

	sort.Slice(bots, func(i, j int) bool {
		ci, cj := bots[i].Config(), bots[j].Config()
		if !ci.StartedAt.Equal(cj.StartedAt) {
			return ci.StartedAt.Before(cj.StartedAt)
		}
		return ci.BotID < cj.BotID
	})
	return bots
}

// StatusAll snapshots every bot.
func (m *Manager) StatusAll() []Status {
	bots := m.AllBots()
	out := make([]Status, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Status())
	}
	return out
}

// StopBot stops a running bot. The bot stays in the fleet so its status
// remains queryable until RemoveBot.
func (m *Manager) StopBot(ctx context.Context, id string) error {
	b, ok := m.GetBot(id)
	if !ok {
		return fmt.Errorf("bot %s not found", id)
	}
	return b.Stop(ctx)
}

// RemoveBot drops a stopped bot from the fleet.
func (m *Manager) RemoveBot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return fmt.Errorf("bot %s not found", id)
	}
	if !b.Stopped() {
		return fmt.Errorf("bot %s must be stopped before removal", id)
	}
	delete(m.bots, id)
	return nil
}

// ManualTrade forwards an operator order to a bot.
func (m *Manager) ManualTrade(ctx context.Context, id string, side exchange.OrderSide, quantity, amountQuote float64) (*risk.Trade, error) {
	b, ok := m.GetBot(id)
	if !ok {
		return nil, fmt.Errorf("bot %s not found", id)
	}
	return b.ManualTrade(ctx, side, quantity, amountQuote)
}

// AutonomousCount counts running bots spawned by the decision agent.
func (m *Manager) AutonomousCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bots {
		if b.Config().Autonomous && b.Running() {
			n++
		}
	}
	return n
}

// RunningBudgets lists the configured amounts of the running bots.
func (m *Manager) RunningBudgets() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, 0, len(m.bots))
	for _, b := range m.bots {
		if b.Running() {
			out = append(out, b.Config().Amount)
		}
	}
	return out
}

// StopAll stops every running bot in parallel and collects the first error.
// Used at shutdown; bots that fail to stop in time are reported, not
// retried.
func (m *Manager) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, b := range m.AllBots() {
		if !b.Running() {
			continue
		}
		g.Go(func() error {
			if err := b.Stop(ctx); err != nil {
				return fmt.Errorf("failed to stop bot %s: %w", b.Config().BotID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) publishStartFailure(cfg Config, err error) {
	m.deps.Bus.Publish(events.Event{
		Kind:    events.KindBotStartFailed,
		BotID:   cfg.BotID,
		Symbol:  cfg.Symbol,
		Message: err.Error(),
	})
	m.logger.Error().
		Err(err).
		Str("bot_id", cfg.BotID).
		Str("symbol", cfg.Symbol).
		Msg("Failed to start bot")
}
