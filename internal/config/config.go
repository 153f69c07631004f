package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Autonomous AutonomousConfig `mapstructure:"autonomous"`
	API        APIConfig        `mapstructure:"api"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	FCM        FCMConfig        `mapstructure:"fcm"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the shared price cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings for agent activation
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// ExchangeConfig contains exchange connection settings
type ExchangeConfig struct {
	Name          string             `mapstructure:"name"` // "binance"
	APIKey        string             `mapstructure:"api_key"`
	SecretKey     string             `mapstructure:"secret_key"`
	Testnet       bool               `mapstructure:"testnet"`
	TimeoutSec    int                `mapstructure:"timeout_sec"`        // default request timeout
	KlinesTimeout int                `mapstructure:"klines_timeout_sec"` // kline requests are heavier
	RatePerSecond float64            `mapstructure:"rate_per_second"`
	RateBurst     int                `mapstructure:"rate_burst"`
	PaperMode     bool               `mapstructure:"paper_mode"`
	PaperBalances map[string]float64 `mapstructure:"paper_balances"`
}

// TradingConfig contains the per-bot loop settings and risk constants.
// Defaults encode the platform contract; override only deliberately.
type TradingConfig struct {
	TickSec             int     `mapstructure:"tick_sec"`
	ErrorRetrySec       int     `mapstructure:"error_retry_sec"`
	KlineLimit          int     `mapstructure:"kline_limit"`
	PreTradeWindow      int     `mapstructure:"pre_trade_window"`
	PostTradeTarget     int     `mapstructure:"post_trade_target"`
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`
	TakeProfitMinPct    float64 `mapstructure:"take_profit_min_pct"`
	TrailingDrawdownPct float64 `mapstructure:"trailing_drawdown_pct"`
	MinHoldingMinutes   int     `mapstructure:"min_holding_minutes"`
	SignalMinConfidence float64 `mapstructure:"signal_min_confidence"`
	TakerFee            float64 `mapstructure:"taker_fee"`
	MinProfitAfterFees  float64 `mapstructure:"min_profit_after_fees_pct"`
	CandleRetentionDays int     `mapstructure:"candle_retention_days"`
}

// AutonomousConfig contains the supervisor settings
type AutonomousConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxAutonomousBots int     `mapstructure:"max_autonomous_bots"`
	NewsIntervalSec   int     `mapstructure:"news_interval_sec"`
	AnalysisInterval  int     `mapstructure:"analysis_interval_sec"`
	MinNewsImportance float64 `mapstructure:"min_news_importance"`
	DefaultBudget     float64 `mapstructure:"default_budget"`
	BalanceFraction   float64 `mapstructure:"balance_fraction"`
	MinBudget         float64 `mapstructure:"min_budget"`
}

// APIConfig contains REST/WebSocket server settings
type APIConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TelegramConfig contains Telegram alerting settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// FCMConfig contains Firebase Cloud Messaging settings
type FCMConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	CredentialsFile string   `mapstructure:"credentials_file"`
	DeviceTokens    []string `mapstructure:"device_tokens"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// KnowledgeConfig points at the trading-knowledge template file
type KnowledgeConfig struct {
	TemplateFile string `mapstructure:"template_file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tradefleet")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEFLEET")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradeFleet")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradefleet")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "tradefleet")

	// Exchange defaults
	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.timeout_sec", 10)
	v.SetDefault("exchange.klines_timeout_sec", 20)
	v.SetDefault("exchange.rate_per_second", 10.0)
	v.SetDefault("exchange.rate_burst", 20)
	v.SetDefault("exchange.paper_mode", false)

	// Trading defaults. These are the platform risk contract.
	v.SetDefault("trading.tick_sec", 300)
	v.SetDefault("trading.error_retry_sec", 60)
	v.SetDefault("trading.kline_limit", 100)
	v.SetDefault("trading.pre_trade_window", 200)
	v.SetDefault("trading.post_trade_target", 200)
	v.SetDefault("trading.stop_loss_pct", -2.0)
	v.SetDefault("trading.take_profit_min_pct", 2.0)
	v.SetDefault("trading.trailing_drawdown_pct", 3.0)
	v.SetDefault("trading.min_holding_minutes", 15)
	v.SetDefault("trading.signal_min_confidence", 0.6)
	v.SetDefault("trading.taker_fee", 0.001)
	v.SetDefault("trading.min_profit_after_fees_pct", 0.3)
	v.SetDefault("trading.candle_retention_days", 30)

	// Autonomous supervisor defaults
	v.SetDefault("autonomous.enabled", false)
	v.SetDefault("autonomous.max_autonomous_bots", 2)
	v.SetDefault("autonomous.news_interval_sec", 1800)
	v.SetDefault("autonomous.analysis_interval_sec", 3600)
	v.SetDefault("autonomous.min_news_importance", 0.6)
	v.SetDefault("autonomous.default_budget", 100.0)
	v.SetDefault("autonomous.balance_fraction", 0.4)
	v.SetDefault("autonomous.min_budget", 10.0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)

	// FCM defaults
	v.SetDefault("fcm.enabled", false)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "tradefleet/production")

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)

	// Knowledge defaults
	v.SetDefault("knowledge.template_file", "./configs/knowledge.yaml")
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Tick returns the bot loop period
func (c *TradingConfig) Tick() time.Duration {
	return time.Duration(c.TickSec) * time.Second
}

// ErrorRetry returns the backoff after a failed tick
func (c *TradingConfig) ErrorRetry() time.Duration {
	return time.Duration(c.ErrorRetrySec) * time.Second
}

// MinHolding returns the minimum position holding time
func (c *TradingConfig) MinHolding() time.Duration {
	return time.Duration(c.MinHoldingMinutes) * time.Minute
}

// RequestTimeout returns the default exchange call timeout
func (c *ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// KlinesRequestTimeout returns the kline fetch timeout
func (c *ExchangeConfig) KlinesRequestTimeout() time.Duration {
	return time.Duration(c.KlinesTimeout) * time.Second
}

// NewsInterval returns the news loop period
func (c *AutonomousConfig) NewsInterval() time.Duration {
	return time.Duration(c.NewsIntervalSec) * time.Second
}

// AnalysisIntervalDur returns the analysis loop period
func (c *AutonomousConfig) AnalysisIntervalDur() time.Duration {
	return time.Duration(c.AnalysisInterval) * time.Second
}
