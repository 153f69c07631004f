package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateExchange()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateAutonomous()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateNotifications()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid database port %d", c.Database.Port),
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.PoolSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be positive",
		})
	}

	return errors
}

func (c *Config) validateExchange() ValidationErrors {
	var errors ValidationErrors

	if c.Exchange.Name != "binance" {
		errors = append(errors, ValidationError{
			Field:   "exchange.name",
			Message: fmt.Sprintf("Unsupported exchange '%s' (only binance is wired)", c.Exchange.Name),
		})
	}

	if c.Exchange.TimeoutSec <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.timeout_sec",
			Message: "Exchange timeout must be positive",
		})
	}

	if c.Exchange.KlinesTimeout < c.Exchange.TimeoutSec {
		errors = append(errors, ValidationError{
			Field:   "exchange.klines_timeout_sec",
			Message: "Klines timeout must be at least the default timeout",
		})
	}

	if c.Exchange.RatePerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.rate_per_second",
			Message: "Exchange rate limit must be positive",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.TickSec <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.tick_sec",
			Message: "Tick period must be positive",
		})
	}

	if c.Trading.ErrorRetrySec <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.error_retry_sec",
			Message: "Error retry period must be positive",
		})
	}

	if c.Trading.StopLossPct >= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.stop_loss_pct",
			Message: "Stop loss must be negative (a loss threshold)",
		})
	}

	if c.Trading.TakeProfitMinPct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.take_profit_min_pct",
			Message: "Minimum take profit must be positive",
		})
	}

	if c.Trading.TrailingDrawdownPct <= 0 || c.Trading.TrailingDrawdownPct >= 100 {
		errors = append(errors, ValidationError{
			Field:   "trading.trailing_drawdown_pct",
			Message: "Trailing drawdown must be in (0, 100)",
		})
	}

	if c.Trading.SignalMinConfidence < 0 || c.Trading.SignalMinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.signal_min_confidence",
			Message: "Signal confidence threshold must be within [0, 1]",
		})
	}

	if c.Trading.TakerFee < 0 || c.Trading.TakerFee >= 0.1 {
		errors = append(errors, ValidationError{
			Field:   "trading.taker_fee",
			Message: "Taker fee must be within [0, 0.1)",
		})
	}

	if c.Trading.KlineLimit < 10 {
		errors = append(errors, ValidationError{
			Field:   "trading.kline_limit",
			Message: "Kline fetch limit must be at least 10",
		})
	}

	return errors
}

func (c *Config) validateAutonomous() ValidationErrors {
	var errors ValidationErrors

	if c.Autonomous.MaxAutonomousBots < 0 {
		errors = append(errors, ValidationError{
			Field:   "autonomous.max_autonomous_bots",
			Message: "Autonomous bot cap cannot be negative",
		})
	}

	if c.Autonomous.MinNewsImportance < 0 || c.Autonomous.MinNewsImportance > 1 {
		errors = append(errors, ValidationError{
			Field:   "autonomous.min_news_importance",
			Message: "News importance threshold must be within [0, 1]",
		})
	}

	if c.Autonomous.BalanceFraction <= 0 || c.Autonomous.BalanceFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "autonomous.balance_fraction",
			Message: "Balance fraction must be within (0, 1]",
		})
	}

	if c.Autonomous.MinBudget <= 0 {
		errors = append(errors, ValidationError{
			Field:   "autonomous.min_budget",
			Message: "Minimum autonomous budget must be positive",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid API port %d", c.API.Port),
		})
	}

	return errors
}

func (c *Config) validateNotifications() ValidationErrors {
	var errors ValidationErrors

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		errors = append(errors, ValidationError{
			Field:   "telegram.bot_token",
			Message: "Telegram is enabled but no bot token is configured",
		})
	}

	if c.Telegram.Enabled && len(c.Telegram.ChatIDs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "telegram.chat_ids",
			Message: "Telegram is enabled but no chat IDs are configured",
		})
	}

	if c.FCM.Enabled && c.FCM.CredentialsFile == "" {
		errors = append(errors, ValidationError{
			Field:   "fcm.credentials_file",
			Message: "FCM is enabled but no credentials file is configured",
		})
	}

	return errors
}

// validateEnvironmentRequirements enforces production-only constraints
func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	if !c.Exchange.PaperMode && c.Exchange.APIKey == "" && !c.Vault.Enabled {
		errors = append(errors, ValidationError{
			Field:   "exchange.api_key",
			Message: "Production live trading requires an API key (directly or via Vault)",
		})
	}

	if c.Database.Password == "" && !c.Vault.Enabled {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Production requires a database password (directly or via Vault)",
		})
	}

	if c.Database.SSLMode == "disable" {
		errors = append(errors, ValidationError{
			Field:   "database.ssl_mode",
			Message: "Production must not disable database TLS",
		})
	}

	return errors
}
