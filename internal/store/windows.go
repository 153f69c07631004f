package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/candles"
)

// Windows stores candle windows in the bot_candles collection. Partial
// unique indexes keep one pre_trade snapshot per (bot, symbol, timeframe)
// and at most one open during_trade window per bot, so no write here needs
// more than a single statement.
type Windows struct {
	pool   PgxPool
	logger zerolog.Logger
}

// UpsertPreTrade writes w as the bot's pre_trade snapshot for its symbol and
// timeframe, replacing any previous one.
func (s *Windows) UpsertPreTrade(ctx context.Context, w *candles.Window) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	query := `
		INSERT INTO bot_candles (
			bot_id, symbol, timeframe, phase, position_status,
			trade_id, buy_trade_id, sell_trade_id, candle_count,
			start_ts, end_ts, updated_ts, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (bot_id, symbol, timeframe) WHERE phase = 'pre_trade'
		DO UPDATE SET
			candle_count = EXCLUDED.candle_count,
			start_ts = EXCLUDED.start_ts,
			end_ts = EXCLUDED.end_ts,
			updated_ts = EXCLUDED.updated_ts,
			doc = EXCLUDED.doc
		RETURNING id
	`

	err = s.pool.QueryRow(ctx, query, windowArgs(w, doc)...).Scan(&w.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bot_id", w.BotID).
			Str("symbol", w.Symbol).
			Str("timeframe", w.Timeframe).
			Msg("Failed to upsert pre-trade window")
		return fmt.Errorf("failed to upsert pre-trade window: %w", err)
	}

	return nil
}

// InsertWindow appends a new during_trade or post_trade window and fills
// w.ID from the created row.
func (s *Windows) InsertWindow(ctx context.Context, w *candles.Window) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	query := `
		INSERT INTO bot_candles (
			bot_id, symbol, timeframe, phase, position_status,
			trade_id, buy_trade_id, sell_trade_id, candle_count,
			start_ts, end_ts, updated_ts, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err = s.pool.QueryRow(ctx, query, windowArgs(w, doc)...).Scan(&w.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bot_id", w.BotID).
			Str("phase", string(w.Phase)).
			Msg("Failed to insert candle window")
		return fmt.Errorf("failed to insert candle window: %w", err)
	}

	return nil
}

// FindPreTrade returns the pre_trade snapshot for the key, or (nil, nil).
func (s *Windows) FindPreTrade(ctx context.Context, botID, symbol, timeframe string) (*candles.Window, error) {
	query := `
		SELECT id, doc FROM bot_candles
		WHERE bot_id = $1 AND symbol = $2 AND timeframe = $3 AND phase = 'pre_trade'
	`
	return s.findOne(ctx, query, botID, symbol, timeframe)
}

// FindOpenDuring returns the bot's open during_trade window, or (nil, nil).
func (s *Windows) FindOpenDuring(ctx context.Context, botID string) (*candles.Window, error) {
	query := `
		SELECT id, doc FROM bot_candles
		WHERE bot_id = $1 AND phase = 'during_trade' AND position_status = 'open'
	`
	return s.findOne(ctx, query, botID)
}

// FindByTrade returns the window attached to a trade: during_trade windows
// are keyed by the opening buy, post_trade windows by the closing trade.
func (s *Windows) FindByTrade(ctx context.Context, tradeID int64, phase candles.Phase) (*candles.Window, error) {
	var query string
	switch phase {
	case candles.PhaseDuringTrade:
		query = `SELECT id, doc FROM bot_candles WHERE buy_trade_id = $1 AND phase = 'during_trade'`
	case candles.PhasePostTrade:
		query = `SELECT id, doc FROM bot_candles WHERE trade_id = $1 AND phase = 'post_trade'`
	default:
		return nil, fmt.Errorf("phase %q has no trade key", phase)
	}
	return s.findOne(ctx, query, tradeID)
}

// UpdateCandles persists the window's current series, count and timestamps.
func (s *Windows) UpdateCandles(ctx context.Context, w *candles.Window) error {
	if w.ID == 0 {
		return fmt.Errorf("window has no id")
	}

	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	query := `
		UPDATE bot_candles
		SET candle_count = $2, end_ts = $3, updated_ts = $4, doc = $5
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, w.ID, w.Count, w.EndTs, w.UpdatedTs, doc)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int64("window_id", w.ID).
			Str("bot_id", w.BotID).
			Msg("Failed to update candle window")
		return fmt.Errorf("failed to update candle window: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("candle window not found: %d", w.ID)
	}

	return nil
}

// CloseDuring flips the bot's open during_trade window to closed, stamping
// the closing sell and the end timestamp. The predicate makes the flip
// happen at most once; false means no window was open.
func (s *Windows) CloseDuring(ctx context.Context, botID string, sellTradeID, endTs int64) (bool, error) {
	query := `
		UPDATE bot_candles
		SET position_status = 'closed',
		    sell_trade_id = $2,
		    end_ts = $3,
		    updated_ts = $3,
		    doc = doc || jsonb_build_object(
		        'position_status', 'closed',
		        'sell_trade_id', $2::bigint,
		        'end_ts', $3::bigint,
		        'updated_ts', $3::bigint
		    )
		WHERE bot_id = $1 AND phase = 'during_trade' AND position_status = 'open'
	`

	result, err := s.pool.Exec(ctx, query, botID, sellTradeID, endTs)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bot_id", botID).
			Int64("sell_trade_id", sellTradeID).
			Msg("Failed to close during-trade window")
		return false, fmt.Errorf("failed to close during-trade window: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// FindByBot returns the bot's windows in a phase, optionally narrowed by
// symbol and timeframe, newest first.
func (s *Windows) FindByBot(ctx context.Context, botID string, phase candles.Phase, symbol, timeframe string) ([]*candles.Window, error) {
	query := `SELECT id, doc FROM bot_candles WHERE bot_id = $1 AND phase = $2`
	args := []interface{}{botID, string(phase)}
	argCount := 3

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argCount)
		args = append(args, symbol)
		argCount++
	}
	if timeframe != "" {
		query += fmt.Sprintf(" AND timeframe = $%d", argCount)
		args = append(args, timeframe)
		argCount++
	}
	query += " ORDER BY updated_ts DESC"

	return s.findMany(ctx, query, args...)
}

// FindPostTradeBelow returns the bot's post_trade windows still short of
// count candles, oldest first so long-running captures finish first.
func (s *Windows) FindPostTradeBelow(ctx context.Context, botID string, count int) ([]*candles.Window, error) {
	query := `
		SELECT id, doc FROM bot_candles
		WHERE bot_id = $1 AND phase = 'post_trade' AND candle_count < $2
		ORDER BY start_ts ASC
	`
	return s.findMany(ctx, query, botID, count)
}

// DeleteWindowsBefore removes windows last touched before cutoffTs
// (milliseconds) and reports how many rows went away.
func (s *Windows) DeleteWindowsBefore(ctx context.Context, cutoffTs int64) (int64, error) {
	query := `DELETE FROM bot_candles WHERE updated_ts < $1`

	result, err := s.pool.Exec(ctx, query, cutoffTs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete candle windows: %w", err)
	}

	return result.RowsAffected(), nil
}

func (s *Windows) findOne(ctx context.Context, query string, args ...interface{}) (*candles.Window, error) {
	var (
		id  int64
		doc []byte
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find candle window: %w", err)
	}
	return decodeWindow(id, doc)
}

func (s *Windows) findMany(ctx context.Context, query string, args ...interface{}) ([]*candles.Window, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle windows: %w", err)
	}
	defer rows.Close()

	var windows []*candles.Window
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan candle window: %w", err)
		}
		w, err := decodeWindow(id, doc)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candle windows: %w", err)
	}

	return windows, nil
}

func decodeWindow(id int64, doc []byte) (*candles.Window, error) {
	var w candles.Window
	if err := json.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("failed to decode candle window: %w", err)
	}
	w.ID = id
	return &w, nil
}

// windowArgs lays out the insert columns shared by UpsertPreTrade and
// InsertWindow. Zero trade ids become NULLs so the partial unique indexes
// ignore rows they do not apply to.
func windowArgs(w *candles.Window, doc []byte) []interface{} {
	return []interface{}{
		w.BotID,
		w.Symbol,
		w.Timeframe,
		string(w.Phase),
		nullIfEmpty(string(w.PositionStatus)),
		nullIfZero(w.TradeID),
		nullIfZero(w.BuyTradeID),
		nullIfZero(w.SellTradeID),
		w.Count,
		w.StartTs,
		w.EndTs,
		w.UpdatedTs,
		doc,
	}
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
