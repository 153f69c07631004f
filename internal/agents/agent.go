// Package agents is the harness external trading agents embed: an identity
// on the agent bus, activation and news subscriptions, platform tool calls,
// and MCP client sessions to auxiliary tool servers. The decision logic
// itself lives outside this repo; the harness keeps every agent speaking
// the same wire protocol.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/tools"
)

const (
	defaultStepInterval      = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second

	// toolCallTimeout accommodates LLM reasoning and external API latency
	// behind a tool call.
	toolCallTimeout = 60 * time.Second
)

// Transports for auxiliary MCP servers.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerConfig describes one auxiliary MCP server the agent talks to.
// Stdio servers are spawned as child processes; HTTP servers are dialed.
type ServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"`
	Command   string            `json:"command" yaml:"command"`
	Args      []string          `json:"args" yaml:"args"`
	Env       map[string]string `json:"env" yaml:"env"`
	URL       string            `json:"url" yaml:"url"`
}

// Config identifies the agent and names its connections.
type Config struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	Bus     agentbus.Config `json:"bus" yaml:"bus"`
	Servers []ServerConfig  `json:"servers" yaml:"servers"`

	// StepInterval is the cadence of the decision loop; HeartbeatInterval
	// the cadence of liveness messages. Both default to 30s.
	StepInterval      time.Duration `json:"step_interval" yaml:"step_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// Step is one decision cycle. Errors are logged and the loop continues.
type Step func(ctx context.Context) error

// Agent is one connected agent process.
type Agent struct {
	name    string
	version string
	cfg     Config

	bus      *agentbus.Bus
	client   *mcp.Client
	sessions map[string]*mcp.ClientSession
	subs     []*agentbus.Subscription

	logger zerolog.Logger
}

// New builds an unconnected agent. Connect dials the bus and the MCP
// servers.
func New(cfg Config, logger zerolog.Logger) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent requires a name")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = defaultStepInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Bus.Name == "" {
		cfg.Bus.Name = cfg.Name
	}

	return &Agent{
		name:    cfg.Name,
		version: cfg.Version,
		cfg:     cfg,
		client: mcp.NewClient(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		sessions: make(map[string]*mcp.ClientSession),
		logger:   logger.With().Str("agent", cfg.Name).Logger(),
	}, nil
}

// Name returns the agent's bus identity.
func (a *Agent) Name() string {
	return a.name
}

// Connect dials the agent bus and every configured MCP server. A failed
// server connection tears down whatever was already up.
func (a *Agent) Connect(ctx context.Context) error {
	bus, err := agentbus.Connect(a.cfg.Bus, a.logger)
	if err != nil {
		return err
	}
	a.bus = bus

	for _, sc := range a.cfg.Servers {
		session, err := a.connectServer(ctx, sc)
		if err != nil {
			a.Close()
			return fmt.Errorf("failed to connect MCP server %s: %w", sc.Name, err)
		}
		a.sessions[sc.Name] = session
		a.logger.Info().Str("server", sc.Name).Msg("MCP server connected")
	}

	a.logger.Info().Int("servers", len(a.sessions)).Msg("agent connected")
	return nil
}

func (a *Agent) connectServer(ctx context.Context, sc ServerConfig) (*mcp.ClientSession, error) {
	var transport mcp.Transport
	switch sc.Transport {
	case "", TransportStdio:
		if sc.Command == "" {
			return nil, fmt.Errorf("stdio server %s names no command", sc.Name)
		}
		cmd := exec.CommandContext(ctx, sc.Command, sc.Args...) // #nosec G204 command comes from the operator's agent config
		cmd.Env = os.Environ()
		for key, val := range sc.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, val))
		}
		transport = &mcp.CommandTransport{Command: cmd}
	case TransportHTTP:
		if sc.URL == "" {
			return nil, fmt.Errorf("http server %s names no URL", sc.Name)
		}
		transport = &mcp.SSEClientTransport{Endpoint: sc.URL}
	default:
		return nil, fmt.Errorf("unknown transport %q for MCP server %s", sc.Transport, sc.Name)
	}

	session, err := a.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return session, nil
}

// OnActivation registers a handler for the platform's directed activation
// messages: news batches and analysis directives.
func (a *Agent) OnActivation(handler agentbus.Handler) error {
	return a.subscribe(func() (*agentbus.Subscription, error) {
		return a.bus.Subscribe(a.name, agentbus.TopicActivation, handler)
	})
}

// OnNews registers a handler for broadcast news shared with every agent.
func (a *Agent) OnNews(handler agentbus.Handler) error {
	return a.subscribe(func() (*agentbus.Subscription, error) {
		return a.bus.SubscribeBroadcasts(agentbus.TopicNews, handler)
	})
}

func (a *Agent) subscribe(attach func() (*agentbus.Subscription, error)) error {
	if a.bus == nil {
		return fmt.Errorf("agent %s is not connected", a.name)
	}
	sub, err := attach()
	if err != nil {
		return err
	}
	a.subs = append(a.subs, sub)
	return nil
}

// CallTool invokes a platform tool over the bus and returns its JSON
// result. Remote failures come back as errors, never panics.
func (a *Agent) CallTool(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	if a.bus == nil {
		return nil, fmt.Errorf("agent %s is not connected", a.name)
	}

	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s arguments: %w", tool, err)
		}
		raw = data
	}

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	resp, err := tools.CallOverBus(callCtx, a.bus, a.name, tool, raw)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CallServerTool calls a tool on one of the agent's auxiliary MCP servers.
func (a *Agent) CallServerTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	session, ok := a.sessions[server]
	if !ok {
		return nil, fmt.Errorf("MCP server %s is not connected", server)
	}

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s on %s failed: %w", tool, server, err)
	}
	return result, nil
}

// ListServerTools lists the tools an auxiliary MCP server offers.
func (a *Agent) ListServerTools(ctx context.Context, server string) (*mcp.ListToolsResult, error) {
	session, ok := a.sessions[server]
	if !ok {
		return nil, fmt.Errorf("MCP server %s is not connected", server)
	}
	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools on %s: %w", server, err)
	}
	return result, nil
}

// Run drives the agent until ctx is cancelled: the heartbeat loop plus,
// when step is non-nil, the decision loop at StepInterval.
func (a *Agent) Run(ctx context.Context, step Step) error {
	if a.bus == nil {
		return fmt.Errorf("agent %s is not connected", a.name)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeatLoop(ctx) })
	if step != nil {
		g.Go(func() error { return a.stepLoop(ctx, step) })
	}
	return g.Wait()
}

func (a *Agent) stepLoop(ctx context.Context, step Step) error {
	ticker := time.NewTicker(a.cfg.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := step(ctx); err != nil {
				a.logger.Error().Err(err).Msg("agent step failed")
			}
		}
	}
}

// Close detaches subscriptions, closes MCP sessions, and drops the bus
// connection. Safe to call on a half-connected agent.
func (a *Agent) Close() {
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn().Err(err).Str("subject", sub.Subject()).Msg("failed to unsubscribe")
		}
	}
	a.subs = nil

	for name, session := range a.sessions {
		if err := session.Close(); err != nil {
			a.logger.Warn().Err(err).Str("server", name).Msg("failed to close MCP session")
		}
		delete(a.sessions, name)
	}

	if a.bus != nil {
		a.bus.Close()
		a.bus = nil
	}
	a.logger.Info().Msg("agent closed")
}
