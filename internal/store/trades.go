package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// Trades is the append-only log of executed orders.
type Trades struct {
	pool   PgxPool
	logger zerolog.Logger
}

// Insert appends one executed trade.
func (t *Trades) Insert(ctx context.Context, trade *risk.Trade) error {
	doc, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	query := `
		INSERT INTO trades (
			trade_id, bot_id, symbol, side, strategy, quote_qty,
			execution_ts, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = t.pool.Exec(ctx, query,
		trade.TradeID,
		trade.BotID,
		trade.Symbol,
		string(trade.Side),
		trade.Strategy,
		trade.QuoteQty,
		trade.ExecutionTS,
		doc,
	)
	if err != nil {
		t.logger.Error().
			Err(err).
			Int64("trade_id", trade.TradeID).
			Str("bot_id", trade.BotID).
			Str("symbol", trade.Symbol).
			Msg("Failed to insert trade")
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	t.logger.Debug().
		Int64("trade_id", trade.TradeID).
		Str("bot_id", trade.BotID).
		Str("side", string(trade.Side)).
		Float64("quote_qty", trade.QuoteQty).
		Msg("Trade recorded")

	return nil
}

// Find returns recent trades, newest first. An empty symbol matches all
// symbols; limit <= 0 selects a default of 50.
func (t *Trades) Find(ctx context.Context, symbol string, limit int) ([]*risk.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT doc FROM trades ORDER BY execution_ts DESC LIMIT $1`
	args := []interface{}{limit}
	if symbol != "" {
		query = `SELECT doc FROM trades WHERE symbol = $1 ORDER BY execution_ts DESC LIMIT $2`
		args = []interface{}{symbol, limit}
	}

	return t.scanTrades(ctx, query, args...)
}

// FindByBot returns the bot's trades, newest first.
func (t *Trades) FindByBot(ctx context.Context, botID string, limit int) ([]*risk.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT doc FROM trades WHERE bot_id = $1 ORDER BY execution_ts DESC LIMIT $2`
	return t.scanTrades(ctx, query, botID, limit)
}

// NetSpent returns the quote currency the bot still has committed: its buy
// total minus its sell total, clamped at zero.
func (t *Trades) NetSpent(ctx context.Context, botID string) (float64, error) {
	query := `
		SELECT
			COALESCE(SUM(quote_qty) FILTER (WHERE side = 'BUY'), 0),
			COALESCE(SUM(quote_qty) FILTER (WHERE side = 'SELL'), 0)
		FROM trades
		WHERE bot_id = $1
	`

	var buy, sell float64
	if err := t.pool.QueryRow(ctx, query, botID).Scan(&buy, &sell); err != nil {
		return 0, fmt.Errorf("failed to sum trades: %w", err)
	}

	return risk.NetSpent(buy, sell), nil
}

func (t *Trades) scanTrades(ctx context.Context, query string, args ...interface{}) ([]*risk.Trade, error) {
	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*risk.Trade
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		var trade risk.Trade
		if err := json.Unmarshal(doc, &trade); err != nil {
			return nil, fmt.Errorf("failed to decode trade: %w", err)
		}
		trades = append(trades, &trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}

	return trades, nil
}
