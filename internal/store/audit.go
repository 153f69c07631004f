package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/events"
)

// AgentLogs is the persisted event audit trail.
type AgentLogs struct {
	pool   PgxPool
	logger zerolog.Logger
}

// Insert appends one event to the audit trail.
func (l *AgentLogs) Insert(ctx context.Context, ev *events.Event) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT INTO agent_logs (event_id, kind, bot_id, symbol, ts, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = l.pool.Exec(ctx, query,
		ev.ID,
		string(ev.Kind),
		nullIfEmpty(ev.BotID),
		nullIfEmpty(ev.Symbol),
		ev.Timestamp,
		doc,
	)
	if err != nil {
		l.logger.Error().
			Err(err).
			Str("kind", string(ev.Kind)).
			Str("bot_id", ev.BotID).
			Msg("Failed to insert agent log")
		return fmt.Errorf("failed to insert agent log: %w", err)
	}

	return nil
}

// FindByBot returns the bot's audit trail, newest first.
func (l *AgentLogs) FindByBot(ctx context.Context, botID string, limit int) ([]*events.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT doc FROM agent_logs WHERE bot_id = $1 ORDER BY ts DESC LIMIT $2`

	rows, err := l.pool.Query(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent logs: %w", err)
	}
	defer rows.Close()

	var logs []*events.Event
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal(doc, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode agent log: %w", err)
		}
		logs = append(logs, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agent logs: %w", err)
	}

	return logs, nil
}

// auditInsertTimeout bounds each audit write so a stalled database cannot
// back the drain loop up behind one insert.
const auditInsertTimeout = 5 * time.Second

// Auditor drains bus events into the agent_logs collection. Status updates
// are skipped: they fire every tick and carry no decision the trail needs.
type Auditor struct {
	logs   *AgentLogs
	sub    *events.Subscription
	logger zerolog.Logger
	done   chan struct{}
}

// StartAuditor subscribes to the bus and starts the drain loop.
func StartAuditor(bus *events.Bus, logs *AgentLogs, logger zerolog.Logger) *Auditor {
	a := &Auditor{
		logs: logs,
		sub: bus.Subscribe(events.DefaultQueueSize,
			events.KindBotStarted,
			events.KindBotStopped,
			events.KindBotStartFailed,
			events.KindTradeExecuted,
			events.KindLogMessage,
			events.KindNewsShared,
		),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Auditor) run() {
	defer close(a.done)
	for ev := range a.sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), auditInsertTimeout)
		// Best effort: insert failures are logged by the accessor and the
		// event is dropped from the trail, never retried.
		_ = a.logs.Insert(ctx, &ev)
		cancel()
	}
}

// Close detaches from the bus and waits for queued events to be written.
func (a *Auditor) Close() {
	a.sub.Close()
	<-a.done
}
