package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/knowledge"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// snapshotCandles is how many candles the market snapshot feeds the phase
// analyzer; the analyzer itself only weighs the most recent twenty.
const snapshotCandles = 20

const defaultSnapshotTimeframe = "1h"

// Spawner starts autonomous bots under the platform's budget and cap
// rules. *autonomous.Supervisor implements it.
type Spawner interface {
	StartAutonomousBot(ctx context.Context, symbol, strategy, timeframe string, mode exchange.TradingMode) (*bot.Config, error)
}

// TradeHistory is the slice of the document store the trade tools read.
type TradeHistory interface {
	Find(ctx context.Context, symbol string, limit int) ([]*risk.Trade, error)
	FindByBot(ctx context.Context, botID string, limit int) ([]*risk.Trade, error)
}

// PlatformDeps collects everything the built-in tools operate on. A nil
// Supervisor means autonomy is disabled and start_autonomous_bot refuses.
type PlatformDeps struct {
	Manager    *bot.Manager
	Supervisor Spawner
	Client     exchange.Client
	Prices     *market.PriceCache
	Trades     TradeHistory
	Knowledge  *knowledge.Library
	Memory     *memory.Store
}

// NewPlatform builds a registry carrying the platform's tool set.
func NewPlatform(deps PlatformDeps, logger zerolog.Logger) (*Registry, error) {
	p := &platform{deps: deps}
	r := NewRegistry(logger)
	for _, t := range p.tools() {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type platform struct {
	deps PlatformDeps
}

func (p *platform) tools() []*Tool {
	return []*Tool{
		{
			Desc: &mcp.Tool{
				Name: "start_autonomous_bot",
				Description: "Start an autonomous trading bot. The platform computes the " +
					"budget from the running fleet and the quote balance and enforces " +
					"the autonomy cap.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"symbol": map[string]interface{}{
							"type":        "string",
							"description": "Trading pair symbol (e.g. BTCUSDT)",
						},
						"strategy": map[string]interface{}{
							"type":        "string",
							"description": "Strategy name from the strategy library",
						},
						"timeframe": map[string]interface{}{
							"type":        "string",
							"description": "Candle interval (default 1h)",
						},
						"mode": map[string]interface{}{
							"type":        "string",
							"description": "Trading mode (default SPOT)",
							"enum":        []string{"SPOT", "MARGIN", "FUTURES"},
						},
					},
					"required": []string{"symbol", "strategy"},
				},
			},
			Handler:    p.startAutonomousBot,
			RestrictTo: agentbus.AgentDecision,
		},
		{
			Desc: &mcp.Tool{
				Name:        "stop_bot",
				Description: "Stop a running bot. Its configuration stays on record as stopped.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"bot_id": map[string]interface{}{
							"type":        "string",
							"description": "Bot identifier",
						},
					},
					"required": []string{"bot_id"},
				},
			},
			Handler: p.stopBot,
		},
		{
			Desc: &mcp.Tool{
				Name:        "get_bot_status",
				Description: "Get one bot's full status: config, position, budget, last signal, market phase.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"bot_id": map[string]interface{}{
							"type":        "string",
							"description": "Bot identifier",
						},
					},
					"required": []string{"bot_id"},
				},
			},
			Handler: p.botStatus,
		},
		{
			Desc: &mcp.Tool{
				Name:        "list_bots",
				Description: "List every managed bot with its status, oldest first.",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
			Handler: p.listBots,
		},
		{
			Desc: &mcp.Tool{
				Name: "get_trade_history",
				Description: "Get recent trades, newest first. bot_id narrows to one bot; " +
					"otherwise symbol filters and an empty symbol matches all.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"symbol": map[string]interface{}{
							"type":        "string",
							"description": "Trading pair symbol, empty for all",
						},
						"bot_id": map[string]interface{}{
							"type":        "string",
							"description": "Bot identifier, empty for all bots",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum trades to return (default 50)",
						},
					},
				},
			},
			Handler: p.tradeHistory,
		},
		{
			Desc: &mcp.Tool{
				Name:        "get_market_snapshot",
				Description: "Get the current price and market phase classification for a symbol.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"symbol": map[string]interface{}{
							"type":        "string",
							"description": "Trading pair symbol",
						},
						"timeframe": map[string]interface{}{
							"type":        "string",
							"description": "Candle interval for the phase window (default 1h)",
						},
					},
					"required": []string{"symbol"},
				},
			},
			Handler: p.marketSnapshot,
		},
		{
			Desc: &mcp.Tool{
				Name:        "get_trading_knowledge",
				Description: "Get curated trading guidance, either for one strategy or the whole library.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"strategy": map[string]interface{}{
							"type":        "string",
							"description": "Strategy name, empty for all templates",
						},
					},
				},
			},
			Handler: p.tradingKnowledge,
		},
		{
			Desc: &mcp.Tool{
				Name: "record_memory",
				Description: "Record a memory entry. The entry is attributed to the calling " +
					"agent unless shared is true, which writes the collective log.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{
							"type":        "string",
							"description": "Entry type (e.g. observation, news, trade_outcome)",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Entry text",
						},
						"metadata": map[string]interface{}{
							"type":        "object",
							"description": "Optional structured fields stored with the entry",
						},
						"shared": map[string]interface{}{
							"type":        "boolean",
							"description": "Write to the collective log visible to every agent",
						},
					},
					"required": []string{"type", "content"},
				},
			},
			Handler: p.recordMemory,
		},
		{
			Desc: &mcp.Tool{
				Name: "get_recent_memory",
				Description: "Get the calling agent's recent memory entries, newest first. " +
					"shared reads the collective log instead.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{
							"type":        "string",
							"description": "Entry type filter, empty for all",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum entries to return (default 50)",
						},
						"since_minutes": map[string]interface{}{
							"type":        "integer",
							"description": "Only entries newer than this many minutes",
						},
						"shared": map[string]interface{}{
							"type":        "boolean",
							"description": "Read the collective log instead of the agent's own",
						},
					},
				},
			},
			Handler: p.recentMemory,
		},
	}
}

type startBotArgs struct {
	Symbol    string `json:"symbol"`
	Strategy  string `json:"strategy"`
	Timeframe string `json:"timeframe"`
	Mode      string `json:"mode"`
}

func (p *platform) startAutonomousBot(ctx context.Context, call Call) (any, error) {
	if p.deps.Supervisor == nil {
		return nil, fmt.Errorf("autonomous trading is disabled")
	}
	var args startBotArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	return p.deps.Supervisor.StartAutonomousBot(ctx, args.Symbol, args.Strategy, args.Timeframe, exchange.TradingMode(args.Mode))
}

type botIDArgs struct {
	BotID string `json:"bot_id"`
}

func (p *platform) stopBot(ctx context.Context, call Call) (any, error) {
	var args botIDArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.BotID == "" {
		return nil, fmt.Errorf("bot_id is required")
	}
	if err := p.deps.Manager.StopBot(ctx, args.BotID); err != nil {
		return nil, err
	}
	return map[string]any{"bot_id": args.BotID, "stopped": true}, nil
}

func (p *platform) botStatus(_ context.Context, call Call) (any, error) {
	var args botIDArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.BotID == "" {
		return nil, fmt.Errorf("bot_id is required")
	}
	bt, ok := p.deps.Manager.GetBot(args.BotID)
	if !ok {
		return nil, fmt.Errorf("bot %s not found", args.BotID)
	}
	return bt.Status(), nil
}

func (p *platform) listBots(_ context.Context, _ Call) (any, error) {
	statuses := p.deps.Manager.StatusAll()
	return map[string]any{"count": len(statuses), "bots": statuses}, nil
}

type tradeHistoryArgs struct {
	Symbol string `json:"symbol"`
	BotID  string `json:"bot_id"`
	Limit  int    `json:"limit"`
}

func (p *platform) tradeHistory(ctx context.Context, call Call) (any, error) {
	var args tradeHistoryArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	var (
		trades []*risk.Trade
		err    error
	)
	if args.BotID != "" {
		trades, err = p.deps.Trades.FindByBot(ctx, args.BotID, args.Limit)
	} else {
		trades, err = p.deps.Trades.Find(ctx, args.Symbol, args.Limit)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(trades), "trades": trades}, nil
}

type snapshotArgs struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type marketSnapshot struct {
	Symbol    string             `json:"symbol"`
	Price     float64            `json:"price"`
	Timeframe string             `json:"timeframe"`
	Phase     market.PhaseResult `json:"phase"`
	Candles   int                `json:"candles"`
	AsOf      time.Time          `json:"as_of"`
}

func (p *platform) marketSnapshot(ctx context.Context, call Call) (any, error) {
	var args snapshotArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if args.Timeframe == "" {
		args.Timeframe = defaultSnapshotTimeframe
	}
	if !exchange.IsValidInterval(args.Timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q (valid: %v)", args.Timeframe, exchange.SupportedIntervals())
	}

	price, err := p.deps.Prices.Price(ctx, args.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", args.Symbol, err)
	}
	candles, err := p.deps.Client.Klines(ctx, args.Symbol, args.Timeframe, snapshotCandles)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", args.Symbol, err)
	}

	return marketSnapshot{
		Symbol:    args.Symbol,
		Price:     price,
		Timeframe: args.Timeframe,
		Phase:     market.AnalyzePhase(candles),
		Candles:   len(candles),
		AsOf:      time.Now().UTC(),
	}, nil
}

type knowledgeArgs struct {
	Strategy string `json:"strategy"`
}

func (p *platform) tradingKnowledge(ctx context.Context, call Call) (any, error) {
	var args knowledgeArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Strategy != "" {
		return p.deps.Knowledge.ForStrategy(ctx, args.Strategy)
	}
	templates, err := p.deps.Knowledge.All(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(templates), "templates": templates}, nil
}

type recordMemoryArgs struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Shared   bool           `json:"shared"`
}

func (p *platform) recordMemory(ctx context.Context, call Call) (any, error) {
	var args recordMemoryArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.Shared {
		return p.deps.Memory.RecordCollective(ctx, args.Type, args.Content, args.Metadata)
	}
	return p.deps.Memory.Record(ctx, call.Agent, args.Type, args.Content, args.Metadata)
}

type recentMemoryArgs struct {
	Type         string `json:"type"`
	Limit        int    `json:"limit"`
	SinceMinutes int    `json:"since_minutes"`
	Shared       bool   `json:"shared"`
}

func (p *platform) recentMemory(ctx context.Context, call Call) (any, error) {
	var args recentMemoryArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}

	var since time.Time
	if args.SinceMinutes > 0 {
		since = time.Now().UTC().Add(-time.Duration(args.SinceMinutes) * time.Minute)
	}

	if args.Shared {
		entries, err := p.deps.Memory.QueryCollective(ctx, args.Type, since, args.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(entries), "entries": entries}, nil
	}
	entries, err := p.deps.Memory.Query(ctx, call.Agent, args.Type, since, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(entries), "entries": entries}, nil
}
