// Package store persists platform documents in PostgreSQL. Each collection
// is one table carrying extracted index columns plus the full document as
// JSONB, so rows stay queryable while the payload keeps its shape. Every
// write is a single statement; invariants that span rows are enforced by
// partial unique indexes, not transactions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PgxPool is the slice of pgxpool.Pool the store needs. pgxmock satisfies
// it too, so accessor tests run without a database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store wraps the connection pool and hands out typed collection accessors.
type Store struct {
	pool   PgxPool
	logger zerolog.Logger
}

// Connect builds the pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Msg("Database connection pool created")

	return New(pool, logger), nil
}

// New wraps an existing pool. Tests pass a pgxmock pool here.
func New(pool PgxPool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info().Msg("Database connection pool closed")
}

// BotConfigs accesses the bot_config collection.
func (s *Store) BotConfigs() *BotConfigs {
	return &BotConfigs{pool: s.pool, logger: s.logger}
}

// Trades accesses the trades collection.
func (s *Store) Trades() *Trades {
	return &Trades{pool: s.pool, logger: s.logger}
}

// Windows accesses the bot_candles collection.
func (s *Store) Windows() *Windows {
	return &Windows{pool: s.pool, logger: s.logger}
}

// Memory accesses the agent_memory and collective_memory collections.
func (s *Store) Memory() *Memory {
	return &Memory{pool: s.pool, logger: s.logger}
}

// AgentLogs accesses the agent_logs collection.
func (s *Store) AgentLogs() *AgentLogs {
	return &AgentLogs{pool: s.pool, logger: s.logger}
}

// Analyses accesses the analyses collection.
func (s *Store) Analyses() *Analyses {
	return &Analyses{pool: s.pool, logger: s.logger}
}

// Knowledge accesses the trading_knowledge collection.
func (s *Store) Knowledge() *Knowledge {
	return &Knowledge{pool: s.pool, logger: s.logger}
}
