package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/knowledge"
)

// Knowledge stores strategy knowledge templates, one row per strategy.
type Knowledge struct {
	pool   PgxPool
	logger zerolog.Logger
}

// UpsertTemplate writes t, replacing any previous template for the strategy.
func (k *Knowledge) UpsertTemplate(ctx context.Context, t *knowledge.Template) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge template: %w", err)
	}

	query := `
		INSERT INTO trading_knowledge (strategy, schema_version, updated_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strategy) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			updated_at = EXCLUDED.updated_at,
			doc = EXCLUDED.doc
	`

	_, err = k.pool.Exec(ctx, query, t.Strategy, t.SchemaVersion, t.UpdatedAt, doc)
	if err != nil {
		k.logger.Error().
			Err(err).
			Str("strategy", t.Strategy).
			Msg("Failed to upsert knowledge template")
		return fmt.Errorf("failed to upsert knowledge template: %w", err)
	}

	return nil
}

// FindTemplate returns the template for a strategy, or (nil, nil).
func (k *Knowledge) FindTemplate(ctx context.Context, strategy string) (*knowledge.Template, error) {
	query := `SELECT doc FROM trading_knowledge WHERE strategy = $1`

	var doc []byte
	err := k.pool.QueryRow(ctx, query, strategy).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find knowledge template: %w", err)
	}

	var t knowledge.Template
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge template: %w", err)
	}

	return &t, nil
}

// ListTemplates returns every stored template ordered by strategy name.
func (k *Knowledge) ListTemplates(ctx context.Context) ([]*knowledge.Template, error) {
	query := `SELECT doc FROM trading_knowledge ORDER BY strategy`

	rows, err := k.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge templates: %w", err)
	}
	defer rows.Close()

	var templates []*knowledge.Template
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge template: %w", err)
		}
		var t knowledge.Template
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("failed to decode knowledge template: %w", err)
		}
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read knowledge templates: %w", err)
	}

	return templates, nil
}
