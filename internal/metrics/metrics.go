package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// Label values must come from these sets; arbitrary strings would blow up
// the metric space.
const (
	// Exchange API error categories
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"

	// Guard names
	GuardStopLoss       = "stop_loss"
	GuardMinHold        = "min_hold"
	GuardMinProfit      = "min_profit"
	GuardLossPrevention = "loss_prevention"
	GuardTrailing       = "trailing_take_profit"
	GuardConfidence     = "confidence"
	GuardBudget         = "budget"
	GuardTradable       = "tradable"
)

// NormalizeExchangeError maps arbitrary error messages to the bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Bot runtime metrics
var (
	BotTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_bot_ticks_total",
		Help: "Bot loop iterations by outcome",
	}, []string{"outcome"}) // ok | error

	RunningBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefleet_running_bots",
		Help: "Number of currently running bots",
	})

	AutonomousBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefleet_autonomous_bots",
		Help: "Number of running bots spawned by the decision agent",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefleet_open_positions",
		Help: "Number of currently open positions",
	})
)

// Trading metrics
var (
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_trades_total",
		Help: "Executed trades by side and exit reason",
	}, []string{"side", "exit_reason"})

	GuardBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_guard_blocks_total",
		Help: "Close/open attempts blocked, by guard",
	}, []string{"guard"})

	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_trade_rejections_total",
		Help: "Trades rejected before or after order placement",
	}, []string{"reason"}) // filters | budget | balance | execution_price
)

// Exchange gateway metrics
var (
	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_exchange_requests_total",
		Help: "Exchange API calls by operation and result",
	}, []string{"op", "result"}) // result: ok | <error category>

	ExchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradefleet_exchange_request_seconds",
		Help:    "Exchange API call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"op"})

	ExchangeBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefleet_exchange_breaker_state",
		Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half_open)",
	})
)

// Price cache metrics
var (
	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefleet_price_cache_hits_total",
		Help: "Price reads served from the shared cache",
	})

	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefleet_price_cache_misses_total",
		Help: "Price reads that fell through to the exchange",
	})
)

// Event bus metrics
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_events_published_total",
		Help: "Events published to the in-process bus by kind",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full",
	}, []string{"kind"})
)

// Agent/tool metrics
var (
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_tool_calls_total",
		Help: "Typed tool registry invocations by tool and result",
	}, []string{"tool", "result"}) // ok | error

	AgentActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefleet_agent_activations_total",
		Help: "Agent activations sent by the supervisor",
	}, []string{"agent", "trigger"}) // trigger: news | analysis
)
