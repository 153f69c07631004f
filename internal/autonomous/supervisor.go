// Package autonomous runs the supervisor that feeds external agents with
// market news and standing analysis directives, and serves the spawn
// contract the decision agent uses to start bots on its own.
package autonomous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

const (
	defaultNewsInterval     = 30 * time.Minute
	defaultAnalysisInterval = time.Hour
	defaultMaxAutonomous    = 2
	defaultMinImportance    = 0.6
	defaultBudget           = 100.0
	defaultBalanceFraction  = 0.4
	defaultMinBudget        = 10.0

	// Spawns arriving without a timeframe trade on the hourly chart.
	defaultSpawnTimeframe = "1h"

	// minSpawnScore is the opportunity score the decision agent must see
	// before it is expected to spawn a bot.
	minSpawnScore = 0.4

	triggerNews     = "news"
	triggerAnalysis = "analysis"

	analysisKindNews = "news"
)

const analysisDirective = "Review market conditions across tracked symbols and call start_autonomous_bot for any opportunity scoring at least 0.4."

// ErrAutonomyCap rejects spawns once the autonomous fleet is full.
var ErrAutonomyCap = errors.New("autonomy cap reached")

// Fleet is the slice of the bot manager the supervisor drives.
// *bot.Manager satisfies it.
type Fleet interface {
	StartBot(ctx context.Context, cfg bot.Config) (*bot.Bot, error)
	AutonomousCount() int
	RunningBudgets() []float64
}

// ConfigStore re-reads persisted bot configs for post-start verification.
// *store.BotConfigs satisfies it.
type ConfigStore interface {
	Find(ctx context.Context, botID string) (*bot.Config, error)
}

// AnalysisSink archives shared news for later retrieval. *store.Analyses
// satisfies it; a nil sink disables archiving.
type AnalysisSink interface {
	Record(ctx context.Context, symbol, kind, summary string, payload map[string]any) error
}

// AgentLink carries supervisor traffic to external agents. *agentbus.Bus
// satisfies it; a nil link disables activations and broadcasts.
type AgentLink interface {
	Send(ctx context.Context, msg *agentbus.Message) error
	Broadcast(ctx context.Context, msg *agentbus.Message) error
}

// NewsActivation is the payload sent with news-triggered activations and
// broadcasts.
type NewsActivation struct {
	Trigger string     `json:"trigger"`
	Items   []NewsItem `json:"items"`
}

// AnalysisActivation is the standing market-review directive sent to the
// decision agent while the autonomous fleet has room.
type AnalysisActivation struct {
	Trigger           string  `json:"trigger"`
	Directive         string  `json:"directive"`
	MinSpawnScore     float64 `json:"min_spawn_score"`
	AutonomousBots    int     `json:"autonomous_bots"`
	MaxAutonomousBots int     `json:"max_autonomous_bots"`
}

// Options tune the supervisor. Zero values fall back to production
// defaults.
type Options struct {
	// NewsInterval is the news loop period; AnalysisInterval the
	// analysis loop period.
	NewsInterval     time.Duration
	AnalysisInterval time.Duration

	// MaxAutonomousBots caps how many bots the decision agent may run.
	MaxAutonomousBots int

	// MinNewsImportance filters fetched news before sharing.
	MinNewsImportance float64

	// DefaultBudget seeds spawn sizing when no bots are running;
	// BalanceFraction caps it against the free quote balance; MinBudget
	// floors the result.
	DefaultBudget   float64
	BalanceFraction float64
	MinBudget       float64
}

func (o Options) withDefaults() Options {
	if o.NewsInterval <= 0 {
		o.NewsInterval = defaultNewsInterval
	}
	if o.AnalysisInterval <= 0 {
		o.AnalysisInterval = defaultAnalysisInterval
	}
	if o.MaxAutonomousBots <= 0 {
		o.MaxAutonomousBots = defaultMaxAutonomous
	}
	if o.MinNewsImportance <= 0 {
		o.MinNewsImportance = defaultMinImportance
	}
	if o.DefaultBudget <= 0 {
		o.DefaultBudget = defaultBudget
	}
	if o.BalanceFraction <= 0 {
		o.BalanceFraction = defaultBalanceFraction
	}
	if o.MinBudget <= 0 {
		o.MinBudget = defaultMinBudget
	}
	return o
}

// Deps are the supervisor's collaborators. Client and News gate their
// loops: a nil client disables the analysis loop and spawning, a nil
// provider disables the news loop.
type Deps struct {
	Fleet    Fleet
	Client   exchange.Client
	News     NewsProvider
	Agents   AgentLink
	Bus      *events.Bus
	Configs  ConfigStore
	Analyses AnalysisSink
}

// Supervisor owns the two autonomy loops and the spawn contract.
type Supervisor struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu           sync.Mutex
	lastNews     time.Time
	lastAnalysis time.Time
	newsShared   uint64
	activations  uint64
}

// New creates a supervisor. Run starts the loops.
func New(deps Deps, opts Options, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "autonomous").Logger(),
	}
}

// Run starts the news and analysis loops and blocks until ctx is
// cancelled or a loop fails. Loops whose dependencies are missing do not
// start at all.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.deps.News != nil {
		g.Go(func() error {
			return s.loop(ctx, "news", s.opts.NewsInterval, s.shareNews)
		})
	} else {
		s.logger.Info().Msg("No news provider configured, news loop disabled")
	}

	if s.deps.Client != nil {
		g.Go(func() error {
			return s.loop(ctx, "analysis", s.opts.AnalysisInterval, s.runAnalysis)
		})
	} else {
		s.logger.Info().Msg("No exchange client configured, analysis loop disabled")
	}

	return g.Wait()
}

// loop runs cycle immediately and then every period. Cycle failures are
// logged and contained so one bad iteration never stops the loop.
func (s *Supervisor) loop(ctx context.Context, name string, period time.Duration, cycle func(context.Context) error) error {
	s.logger.Info().Str("loop", name).Dur("period", period).Msg("Supervisor loop running")

	for {
		if err := cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Str("loop", name).Msg("Supervisor cycle failed")
		}

		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// shareNews fetches headlines, keeps the important ones, and pushes them
// to the event bus, the analyses archive, and the agents.
func (s *Supervisor) shareNews(ctx context.Context) error {
	items, err := s.deps.News.Fetch(ctx)
	if err != nil {
		s.noteNewsCycle(0)
		return fmt.Errorf("failed to fetch news: %w", err)
	}

	kept := make([]NewsItem, 0, len(items))
	for _, item := range items {
		if item.Importance >= s.opts.MinNewsImportance {
			kept = append(kept, item)
		}
	}
	s.noteNewsCycle(len(kept))

	if len(kept) == 0 {
		s.logger.Debug().Int("fetched", len(items)).Msg("No news above the importance floor")
		return nil
	}

	for _, item := range kept {
		payload := newsPayload(item)
		s.deps.Bus.Publish(events.Event{
			Kind:    events.KindNewsShared,
			Message: item.Title,
			Payload: payload,
		})
		if s.deps.Analyses != nil {
			if err := s.deps.Analyses.Record(ctx, "", analysisKindNews, item.Title+": "+item.Summary, payload); err != nil {
				s.logger.Warn().Err(err).Str("title", item.Title).Msg("Failed to archive news item")
			}
		}
	}
	s.logger.Info().Int("shared", len(kept)).Int("fetched", len(items)).Msg("News shared")

	if s.deps.Agents != nil {
		broadcast, err := agentbus.NewMessage(agentbus.AgentPlatform, "", agentbus.TopicNews, NewsActivation{Trigger: triggerNews, Items: kept})
		if err == nil {
			err = s.deps.Agents.Broadcast(ctx, broadcast)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to broadcast news to agents")
		}
	}

	s.activate(ctx, triggerNews, NewsActivation{Trigger: triggerNews, Items: kept})
	return nil
}

// runAnalysis nudges the decision agent to look for opportunities while
// the autonomous fleet has room.
func (s *Supervisor) runAnalysis(ctx context.Context) error {
	count := s.deps.Fleet.AutonomousCount()
	s.noteAnalysisCycle()

	if count >= s.opts.MaxAutonomousBots {
		s.logger.Debug().Int("autonomous", count).Msg("Autonomous fleet is full, skipping activation")
		return nil
	}

	s.activate(ctx, triggerAnalysis, AnalysisActivation{
		Trigger:           triggerAnalysis,
		Directive:         analysisDirective,
		MinSpawnScore:     minSpawnScore,
		AutonomousBots:    count,
		MaxAutonomousBots: s.opts.MaxAutonomousBots,
	})
	return nil
}

// activate sends the decision agent an activation message. Failures are
// logged, never propagated: agent trouble must not stall the loops.
func (s *Supervisor) activate(ctx context.Context, trigger string, payload any) {
	if s.deps.Agents == nil {
		return
	}

	msg, err := agentbus.NewMessage(agentbus.AgentPlatform, agentbus.AgentDecision, agentbus.TopicActivation, payload)
	if err == nil {
		err = s.deps.Agents.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("trigger", trigger).Msg("Failed to activate decision agent")
		return
	}

	metrics.AgentActivations.WithLabelValues(agentbus.AgentDecision, trigger).Inc()
	s.noteActivation()
	s.logger.Info().Str("trigger", trigger).Msg("Decision agent activated")
}

// StartAutonomousBot is the spawn contract served to the decision agent
// through the tool registry. The budget is computed here, never passed
// in. The started config is re-read after the fact: an agent-driven
// spawn is verified, not trusted.
func (s *Supervisor) StartAutonomousBot(ctx context.Context, symbol, strategyName, timeframe string, mode exchange.TradingMode) (*bot.Config, error) {
	if s.deps.Client == nil {
		return nil, fmt.Errorf("no exchange client configured")
	}
	if count := s.deps.Fleet.AutonomousCount(); count >= s.opts.MaxAutonomousBots {
		return nil, fmt.Errorf("%w: %d of %d bots running", ErrAutonomyCap, count, s.opts.MaxAutonomousBots)
	}

	if timeframe == "" {
		timeframe = defaultSpawnTimeframe
	}
	if mode == "" {
		mode = exchange.ModeSpot
	}

	// Validate with the budget floor before touching the exchange; the
	// computed budget replaces it below and is never smaller.
	cfg := bot.Config{
		Strategy:    strategyName,
		Symbol:      symbol,
		Amount:      s.opts.MinBudget,
		Timeframe:   timeframe,
		TradingMode: mode,
		StartedBy:   bot.StartedByDecisionAgent,
		Autonomous:  true,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	budget, quote, err := s.spawnBudget(ctx, symbol, mode)
	if err != nil {
		return nil, err
	}
	cfg.Amount = budget

	bt, err := s.deps.Fleet.StartBot(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.verifyStarted(ctx, bt); err != nil {
		return nil, err
	}

	started := bt.Config()
	s.logger.Info().
		Str("bot_id", started.BotID).
		Str("symbol", symbol).
		Str("strategy", strategyName).
		Str("timeframe", timeframe).
		Float64("budget", budget).
		Msg("Autonomous bot started")
	s.deps.Bus.Log(started.BotID, symbol, fmt.Sprintf("decision agent started %s bot with %.2f %s", strategyName, budget, quote))
	return &started, nil
}

// spawnBudget sizes a new autonomous bot: the average running budget
// (the default when the fleet is idle), capped by a fraction of the free
// quote balance, floored at the minimum.
func (s *Supervisor) spawnBudget(ctx context.Context, symbol string, mode exchange.TradingMode) (float64, string, error) {
	budget := s.opts.DefaultBudget
	if budgets := s.deps.Fleet.RunningBudgets(); len(budgets) > 0 {
		var sum float64
		for _, b := range budgets {
			sum += b
		}
		budget = sum / float64(len(budgets))
	}

	filters, err := s.deps.Client.SymbolFilters(ctx, symbol)
	if err != nil {
		return 0, "", fmt.Errorf("failed to fetch filters for %s: %w", symbol, err)
	}
	balance, err := s.deps.Client.Balance(ctx, filters.QuoteAsset, mode)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read %s balance: %w", filters.QuoteAsset, err)
	}

	if ceiling := s.opts.BalanceFraction * balance; ceiling < budget {
		budget = ceiling
	}
	if budget < s.opts.MinBudget {
		budget = s.opts.MinBudget
	}
	return budget, filters.QuoteAsset, nil
}

func (s *Supervisor) verifyStarted(ctx context.Context, bt *bot.Bot) error {
	cfg := bt.Config()
	if !bt.Running() {
		return fmt.Errorf("autonomous bot %s is not running after start", cfg.BotID)
	}
	saved, err := s.deps.Configs.Find(ctx, cfg.BotID)
	if err != nil {
		return fmt.Errorf("failed to verify autonomous bot %s: %w", cfg.BotID, err)
	}
	if saved == nil || !saved.Running() {
		return fmt.Errorf("autonomous bot %s started but its config was not persisted", cfg.BotID)
	}
	return nil
}

// Report is a point-in-time summary of supervisor activity.
type Report struct {
	AutonomousBots    int        `json:"autonomous_bots"`
	MaxAutonomousBots int        `json:"max_autonomous_bots"`
	NewsShared        uint64     `json:"news_shared_total"`
	Activations       uint64     `json:"activations_total"`
	LastNewsCycle     *time.Time `json:"last_news_cycle,omitempty"`
	LastAnalysisCycle *time.Time `json:"last_analysis_cycle,omitempty"`
}

// Status snapshots the supervisor for the API.
func (s *Supervisor) Status() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		AutonomousBots:    s.deps.Fleet.AutonomousCount(),
		MaxAutonomousBots: s.opts.MaxAutonomousBots,
		NewsShared:        s.newsShared,
		Activations:       s.activations,
	}
	if !s.lastNews.IsZero() {
		t := s.lastNews
		r.LastNewsCycle = &t
	}
	if !s.lastAnalysis.IsZero() {
		t := s.lastAnalysis
		r.LastAnalysisCycle = &t
	}
	return r
}

func (s *Supervisor) noteNewsCycle(shared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNews = time.Now().UTC()
	s.newsShared += uint64(shared)
}

func (s *Supervisor) noteAnalysisCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalysis = time.Now().UTC()
}

func (s *Supervisor) noteActivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations++
}

func newsPayload(item NewsItem) map[string]interface{} {
	return map[string]interface{}{
		"title":        item.Title,
		"summary":      item.Summary,
		"source":       item.Source,
		"url":          item.URL,
		"importance":   item.Importance,
		"published_at": item.PublishedAt,
	}
}
