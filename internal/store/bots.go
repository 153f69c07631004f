package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/bot"
)

// BotConfigs persists one configuration row per bot. Restarting a bot
// upserts its row and clears the stop stamp.
type BotConfigs struct {
	pool   PgxPool
	logger zerolog.Logger
}

// Save writes cfg, replacing any previous configuration for the same bot id.
func (c *BotConfigs) Save(ctx context.Context, cfg *bot.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal bot config: %w", err)
	}

	query := `
		INSERT INTO bot_config (
			bot_id, symbol, strategy, trading_mode, autonomous,
			started_by, started_at, stopped_at, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (bot_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			strategy = EXCLUDED.strategy,
			trading_mode = EXCLUDED.trading_mode,
			autonomous = EXCLUDED.autonomous,
			started_by = EXCLUDED.started_by,
			started_at = EXCLUDED.started_at,
			stopped_at = EXCLUDED.stopped_at,
			doc = EXCLUDED.doc,
			updated_at = NOW()
	`

	_, err = c.pool.Exec(ctx, query,
		cfg.BotID,
		cfg.Symbol,
		cfg.Strategy,
		string(cfg.TradingMode),
		cfg.Autonomous,
		cfg.StartedBy,
		cfg.StartedAt,
		cfg.StoppedAt,
		doc,
	)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("bot_id", cfg.BotID).
			Str("symbol", cfg.Symbol).
			Msg("Failed to save bot config")
		return fmt.Errorf("failed to save bot config: %w", err)
	}

	return nil
}

// MarkStopped stamps stopped_at on the bot's row, in both the index column
// and the document.
func (c *BotConfigs) MarkStopped(ctx context.Context, botID string, at time.Time) error {
	query := `
		UPDATE bot_config
		SET stopped_at = $2,
		    doc = jsonb_set(doc, '{stopped_at}', to_jsonb($2::timestamptz)),
		    updated_at = NOW()
		WHERE bot_id = $1
	`

	result, err := c.pool.Exec(ctx, query, botID, at)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("bot_id", botID).
			Msg("Failed to mark bot stopped")
		return fmt.Errorf("failed to mark bot stopped: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("bot config not found: %s", botID)
	}

	return nil
}

// Find returns the bot's configuration, or (nil, nil) when the bot is
// unknown.
func (c *BotConfigs) Find(ctx context.Context, botID string) (*bot.Config, error) {
	query := `SELECT doc FROM bot_config WHERE bot_id = $1`

	var doc []byte
	err := c.pool.QueryRow(ctx, query, botID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bot config: %w", err)
	}

	return decodeBotConfig(doc)
}

// List returns every bot configuration, most recently started first.
func (c *BotConfigs) List(ctx context.Context) ([]*bot.Config, error) {
	query := `SELECT doc FROM bot_config ORDER BY started_at DESC`
	return c.scanConfigs(ctx, query)
}

// ListRunning returns the configurations without a stop stamp.
func (c *BotConfigs) ListRunning(ctx context.Context) ([]*bot.Config, error) {
	query := `SELECT doc FROM bot_config WHERE stopped_at IS NULL ORDER BY started_at DESC`
	return c.scanConfigs(ctx, query)
}

func (c *BotConfigs) scanConfigs(ctx context.Context, query string, args ...interface{}) ([]*bot.Config, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot configs: %w", err)
	}
	defer rows.Close()

	var configs []*bot.Config
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan bot config: %w", err)
		}
		cfg, err := decodeBotConfig(doc)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bot configs: %w", err)
	}

	return configs, nil
}

func decodeBotConfig(doc []byte) (*bot.Config, error) {
	var cfg bot.Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode bot config: %w", err)
	}
	return &cfg, nil
}
