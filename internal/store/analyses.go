package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Analysis kinds written by the platform.
const (
	AnalysisKindNews              = "news"
	AnalysisKindHistoricalContext = "historical_context"
)

// Analysis is a persisted market observation: a filtered news item, a bot's
// startup historical context, or anything an agent chooses to record.
type Analysis struct {
	ID      int64          `json:"id,omitempty"`
	Symbol  string         `json:"symbol,omitempty"`
	Kind    string         `json:"kind"`
	Summary string         `json:"summary"`
	Payload map[string]any `json:"payload,omitempty"`
	Ts      time.Time      `json:"ts"`
}

// Analyses is the append-only analyses collection.
type Analyses struct {
	pool   PgxPool
	logger zerolog.Logger
}

// Save appends one analysis and fills a.ID.
func (s *Analyses) Save(ctx context.Context, a *Analysis) error {
	if a.Kind == "" {
		return fmt.Errorf("analysis missing kind")
	}
	if a.Ts.IsZero() {
		a.Ts = time.Now().UTC()
	}

	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	query := `
		INSERT INTO analyses (symbol, kind, ts, doc)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err = s.pool.QueryRow(ctx, query, nullIfEmpty(a.Symbol), a.Kind, a.Ts, doc).Scan(&a.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("kind", a.Kind).
			Str("symbol", a.Symbol).
			Msg("Failed to save analysis")
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	return nil
}

// Record appends an analysis built from its parts, stamped now. It satisfies
// the narrow sink interfaces the bot runtime and the supervisor declare.
func (s *Analyses) Record(ctx context.Context, symbol, kind, summary string, payload map[string]any) error {
	return s.Save(ctx, &Analysis{Symbol: symbol, Kind: kind, Summary: summary, Payload: payload})
}

// Find returns recent analyses, newest first. Empty symbol or kind matches
// all values.
func (s *Analyses) Find(ctx context.Context, symbol, kind string, limit int) ([]*Analysis, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, doc FROM analyses WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argCount)
		args = append(args, symbol)
		argCount++
	}
	if kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argCount)
		args = append(args, kind)
		argCount++
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*Analysis
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		var a Analysis
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
		a.ID = id
		analyses = append(analyses, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analyses: %w", err)
	}

	return analyses, nil
}
