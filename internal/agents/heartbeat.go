package agents

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
)

// Agent liveness statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusStopping = "stopping"
)

// Heartbeat is the liveness payload agents send to the platform while
// running.
type Heartbeat struct {
	Agent   string    `json:"agent"`
	Version string    `json:"version"`
	Status  string    `json:"status"`
	Ts      time.Time `json:"ts"`
}

// heartbeatLoop sends a heartbeat immediately and then at the configured
// interval. Send failures are logged, not fatal: a flapping bus should not
// kill the agent.
func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	a.heartbeat(ctx, StatusHealthy)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.heartbeat(ctx, StatusHealthy)
		}
	}
}

// SendHeartbeat publishes one liveness message outside the regular
// cadence, for status changes worth announcing immediately.
func (a *Agent) SendHeartbeat(ctx context.Context, status string) error {
	msg, err := agentbus.NewMessage(a.name, agentbus.AgentPlatform, agentbus.TopicHeartbeat, Heartbeat{
		Agent:   a.name,
		Version: a.version,
		Status:  status,
		Ts:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return a.bus.Send(ctx, msg)
}

func (a *Agent) heartbeat(ctx context.Context, status string) {
	if err := a.SendHeartbeat(ctx, status); err != nil {
		a.logger.Warn().Err(err).Msg("failed to publish heartbeat")
		return
	}
	a.logger.Debug().Str("status", status).Msg("heartbeat published")
}

// LogHeartbeats attaches a platform-side subscriber that logs every agent
// heartbeat. The returned subscription detaches it.
func LogHeartbeats(bus *agentbus.Bus, logger zerolog.Logger) (*agentbus.Subscription, error) {
	log := logger.With().Str("component", "agents").Logger()
	return bus.Subscribe(agentbus.AgentPlatform, agentbus.TopicHeartbeat, func(msg *agentbus.Message) error {
		var hb Heartbeat
		if err := msg.DecodePayload(&hb); err != nil {
			return err
		}
		log.Debug().
			Str("agent", hb.Agent).
			Str("version", hb.Version).
			Str("status", hb.Status).
			Time("ts", hb.Ts).
			Msg("agent heartbeat")
		return nil
	})
}
