package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/memory"
)

// Memory is the persistent side of the memory store: the per-agent
// agent_memory log and the shared collective_memory log. Both are
// append-only.
type Memory struct {
	pool   PgxPool
	logger zerolog.Logger
}

// InsertMemory appends one entry to the agent's log and fills e.ID.
func (m *Memory) InsertMemory(ctx context.Context, e *memory.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	query := `
		INSERT INTO agent_memory (agent, memory_type, ts, doc)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err = m.pool.QueryRow(ctx, query, e.Agent, e.Type, e.Ts, doc).Scan(&e.ID)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("agent", e.Agent).
			Str("type", e.Type).
			Msg("Failed to insert memory entry")
		return fmt.Errorf("failed to insert memory entry: %w", err)
	}

	return nil
}

// FindMemory returns the agent's entries of a type since the given time,
// newest first. An empty entryType matches all types.
func (m *Memory) FindMemory(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]*memory.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, doc FROM agent_memory WHERE agent = $1 AND ts >= $2`
	args := []interface{}{agent, since}
	argCount := 3

	if entryType != "" {
		query += fmt.Sprintf(" AND memory_type = $%d", argCount)
		args = append(args, entryType)
		argCount++
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		var e memory.Entry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("failed to decode memory entry: %w", err)
		}
		e.ID = id
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory entries: %w", err)
	}

	return entries, nil
}

// InsertCollective appends one entry to the shared log and fills e.ID.
func (m *Memory) InsertCollective(ctx context.Context, e *memory.CollectiveEntry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal collective entry: %w", err)
	}

	query := `
		INSERT INTO collective_memory (memory_type, ts, doc)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err = m.pool.QueryRow(ctx, query, e.Type, e.Ts, doc).Scan(&e.ID)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("type", e.Type).
			Msg("Failed to insert collective memory entry")
		return fmt.Errorf("failed to insert collective memory entry: %w", err)
	}

	return nil
}

// FindCollective returns shared entries of a type since the given time,
// newest first. An empty entryType matches all types.
func (m *Memory) FindCollective(ctx context.Context, entryType string, since time.Time, limit int) ([]*memory.CollectiveEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, doc FROM collective_memory WHERE ts >= $1`
	args := []interface{}{since}
	argCount := 2

	if entryType != "" {
		query += fmt.Sprintf(" AND memory_type = $%d", argCount)
		args = append(args, entryType)
		argCount++
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collective memory: %w", err)
	}
	defer rows.Close()

	var entries []*memory.CollectiveEntry
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan collective entry: %w", err)
		}
		var e memory.CollectiveEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("failed to decode collective entry: %w", err)
		}
		e.ID = id
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collective entries: %w", err)
	}

	return entries, nil
}
