// The tradefleet binary is the trading platform: it wires the document
// store, the exchange gateway, the bot fleet, the autonomous supervisor,
// the agent tool dispatcher, and the operator API, then runs until
// interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/agents"
	"github.com/ajitpratap0/tradefleet/internal/api"
	"github.com/ajitpratap0/tradefleet/internal/autonomous"
	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/config"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/knowledge"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/notify"
	"github.com/ajitpratap0/tradefleet/internal/risk"
	"github.com/ajitpratap0/tradefleet/internal/store"
	"github.com/ajitpratap0/tradefleet/internal/tools"
)

const (
	priceCacheTTL   = 30 * time.Second
	cleanupInterval = 24 * time.Hour
	shutdownGrace   = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Bool("paper_mode", cfg.Exchange.PaperMode).
		Msg("Starting TradeFleet")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets")
	}

	// Document store.
	st, err := store.Connect(ctx, cfg.Database.GetDSN(), config.NewLogger("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	// Exchange gateway. Paper mode keeps market reads on the venue but
	// fills orders against simulated balances.
	binance := exchange.NewBinance(&cfg.Exchange, config.NewLogger("exchange"))
	var client exchange.Client = binance
	if cfg.Exchange.PaperMode {
		client = exchange.NewPaper(binance, cfg.Exchange.PaperBalances)
		log.Info().Msg("Paper trading enabled: orders fill against simulated balances")
	}

	// Shared price cache, with a Redis second layer when configured.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
	}
	prices := market.NewPriceCache(client, redisClient, priceCacheTTL, config.NewLogger("market"))

	bus := events.NewBus()
	defer bus.Close()

	auditor := store.StartAuditor(bus, st.AgentLogs(), config.NewLogger("audit"))
	defer auditor.Close()

	// Operator notification channels.
	var senders []notify.Sender
	notifyLogger := config.NewLogger("notify")
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, notifyLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram notifier")
		}
		senders = append(senders, tg)
	}
	if cfg.FCM.Enabled {
		fcm, err := notify.NewFCM(ctx, cfg.FCM.CredentialsFile, cfg.FCM.DeviceTokens, notifyLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize FCM notifier")
		}
		senders = append(senders, fcm)
	}
	if notifier := notify.Start(bus, senders, notify.Options{}, notifyLogger); notifier != nil {
		defer notifier.Close()
	}

	// Trading knowledge templates, seeded from YAML at startup.
	library := knowledge.NewLibrary(st.Knowledge(), config.NewLogger("knowledge"))
	if _, err := library.Seed(ctx, cfg.Knowledge.TemplateFile); err != nil {
		log.Warn().Err(err).Msg("Failed to seed trading knowledge")
	}

	memStore := memory.NewStore(st.Memory(), config.NewLogger("memory"))
	learner := memory.NewLearner(memStore, agentbus.AgentDecision, config.NewLogger("memory"))
	tracker := candles.NewTracker(client, st.Windows(), config.NewLogger("candles"))

	engine := risk.NewEngine(risk.Limits{
		StopLossPct:           cfg.Trading.StopLossPct,
		TakeProfitMinPct:      cfg.Trading.TakeProfitMinPct,
		TrailingDrawdownPct:   cfg.Trading.TrailingDrawdownPct,
		MinHolding:            cfg.Trading.MinHolding(),
		SignalMinConfidence:   cfg.Trading.SignalMinConfidence,
		TakerFee:              cfg.Trading.TakerFee,
		MinProfitAfterFeesPct: cfg.Trading.MinProfitAfterFees,
	})

	manager := bot.NewManager(bot.Deps{
		Client:   client,
		Prices:   prices,
		Guards:   engine,
		Tracker:  tracker,
		Memory:   memStore,
		Learner:  learner,
		Bus:      bus,
		Configs:  st.BotConfigs(),
		Trades:   st.Trades(),
		Analyses: st.Analyses(),
	}, bot.Options{
		Tick:        cfg.Trading.Tick(),
		ErrorRetry:  cfg.Trading.ErrorRetry(),
		KlineLimit:  cfg.Trading.KlineLimit,
		Testnet:     cfg.Exchange.Testnet,
		MemoryAgent: agentbus.AgentDecision,
	}, config.NewLogger("bot"))

	resumeBots(ctx, manager, st.BotConfigs())

	// Autonomous supervisor. News providers are injected by operators
	// running a feed sidecar; without one the news loop stays off.
	var supervisor *autonomous.Supervisor
	supDeps := autonomous.Deps{
		Fleet:    manager,
		Client:   client,
		Bus:      bus,
		Configs:  st.BotConfigs(),
		Analyses: st.Analyses(),
	}

	// Agent messaging and the tool dispatcher.
	var agentBus *agentbus.Bus
	if cfg.NATS.Enabled {
		agentBus, err = agentbus.Connect(agentbus.Config{
			URL:    cfg.NATS.URL,
			Name:   "tradefleet-platform",
			Prefix: cfg.NATS.Prefix,
		}, config.NewLogger("agentbus"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer agentBus.Close()
		supDeps.Agents = agentBus
	}

	if cfg.Autonomous.Enabled {
		supervisor = autonomous.New(supDeps, autonomous.Options{
			NewsInterval:      cfg.Autonomous.NewsInterval(),
			AnalysisInterval:  cfg.Autonomous.AnalysisIntervalDur(),
			MaxAutonomousBots: cfg.Autonomous.MaxAutonomousBots,
			MinNewsImportance: cfg.Autonomous.MinNewsImportance,
			DefaultBudget:     cfg.Autonomous.DefaultBudget,
			BalanceFraction:   cfg.Autonomous.BalanceFraction,
			MinBudget:         cfg.Autonomous.MinBudget,
		}, config.NewLogger("autonomous"))
	}

	if agentBus != nil {
		platformDeps := tools.PlatformDeps{
			Manager:   manager,
			Client:    client,
			Prices:    prices,
			Trades:    st.Trades(),
			Knowledge: library,
			Memory:    memStore,
		}
		if supervisor != nil {
			platformDeps.Supervisor = supervisor
		}
		registry, err := tools.NewPlatform(platformDeps, config.NewLogger("tools"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build tool registry")
		}
		dispatcher := tools.NewDispatcher(registry, agentBus, config.NewLogger("tools"))
		if err := dispatcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start tool dispatcher")
		}
		defer func() { _ = dispatcher.Close() }()

		hbSub, err := agents.LogHeartbeats(agentBus, config.NewLogger("agents"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to agent heartbeats")
		}
		defer func() { _ = hbSub.Unsubscribe() }()
	}

	server := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		AllowOrigins:   cfg.API.CORSOrigins,
		DisableMetrics: !cfg.Monitoring.EnableMetrics,
	}, api.Deps{
		Manager:    manager,
		Supervisor: supervisor,
		Trades:     st.Trades(),
		Bus:        bus,
	}, config.NewLogger("api"))

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return prices.Run(runCtx) })
	g.Go(func() error { return server.Run(runCtx) })
	if supervisor != nil {
		g.Go(func() error { return supervisor.Run(runCtx) })
	}
	g.Go(func() error {
		runCleanup(runCtx, tracker, cfg.Trading.CandleRetentionDays)
		return nil
	})

	err = g.Wait()
	stop()

	// Stop every running bot under a bounded grace period before the
	// deferred teardown releases the shared services they use.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if stopErr := manager.StopAll(shutdownCtx); stopErr != nil {
		log.Error().Err(stopErr).Msg("Failed to stop all bots cleanly")
	}

	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Platform failed")
	}
	log.Info().Msg("TradeFleet shut down")
}

// resumeBots restarts bots whose configs were running when the process
// last exited. Individual failures are logged; the rest of the fleet
// still comes up.
func resumeBots(ctx context.Context, manager *bot.Manager, configs *store.BotConfigs) {
	running, err := configs.ListRunning(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list persisted bots, starting with an empty fleet")
		return
	}
	for _, cfg := range running {
		if _, err := manager.StartBot(ctx, *cfg); err != nil {
			log.Error().Err(err).Str("bot_id", cfg.BotID).Msg("Failed to resume bot")
			continue
		}
		log.Info().Str("bot_id", cfg.BotID).Str("symbol", cfg.Symbol).Msg("Resumed bot")
	}
}

// runCleanup prunes candle windows past the retention horizon once a day.
func runCleanup(ctx context.Context, tracker *candles.Tracker, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := tracker.Cleanup(ctx, retentionDays)
			if err != nil {
				log.Warn().Err(err).Msg("Candle window cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("windows", deleted).Msg("Expired candle windows deleted")
			}
		}
	}
}
