package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
)

// defaultCallTimeout bounds one tool call served off the bus.
const defaultCallTimeout = 30 * time.Second

// listToolsName is the reserved request name the gateway's tools/list maps
// to. The $ prefix keeps it out of the registry's tool namespace.
const listToolsName = "$list_tools"

// ToolRequest is the wire shape agents send to the platform tools subject.
type ToolRequest struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResponse is the reply: the tool's JSON result or an error string,
// never both.
type ToolResponse struct {
	Tool   string          `json:"tool"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Err returns the carried error, nil when the call succeeded.
func (r *ToolResponse) Err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Error)
}

// Dispatcher serves a registry over the agent bus. Agents address the
// platform tools subject with requests carrying a ToolRequest; every
// request gets a reply, tool failures included, so callers never hang.
type Dispatcher struct {
	registry *Registry
	bus      *agentbus.Bus
	timeout  time.Duration
	logger   zerolog.Logger

	ctx context.Context
	sub *agentbus.Subscription
}

// NewDispatcher wires the registry to the bus.
func NewDispatcher(registry *Registry, bus *agentbus.Bus, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		bus:      bus,
		timeout:  defaultCallTimeout,
		logger:   logger.With().Str("component", "tool_dispatcher").Logger(),
	}
}

// Start subscribes to the platform tools subject. ctx bounds every served
// call; cancel it alongside Close on shutdown.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.sub != nil {
		return fmt.Errorf("tool dispatcher already started")
	}
	d.ctx = ctx

	sub, err := d.bus.SubscribeSubject(agentbus.ToolsSubject, d.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to tools subject: %w", err)
	}
	d.sub = sub
	d.logger.Info().
		Str("subject", agentbus.ToolsSubject).
		Int("tools", len(d.registry.List())).
		Msg("tool dispatcher listening")
	return nil
}

// Close detaches from the bus. In-flight calls finish on their own context.
func (d *Dispatcher) Close() error {
	if d.sub == nil {
		return nil
	}
	err := d.sub.Unsubscribe()
	d.sub = nil
	return err
}

// handle serves one request. Envelope problems are returned so the bus
// sends its error reply; tool failures travel back inside the ToolResponse.
func (d *Dispatcher) handle(msg *agentbus.Message) error {
	var req ToolRequest
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}
	if req.Tool == "" {
		return fmt.Errorf("tool request %s names no tool", msg.ID)
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	resp := ToolResponse{Tool: req.Tool}
	if req.Tool == listToolsName {
		descriptors, err := json.Marshal(d.registry.List())
		if err != nil {
			return fmt.Errorf("failed to encode tool descriptors: %w", err)
		}
		resp.Result = descriptors
		if err := d.bus.Reply(ctx, msg, resp); err != nil {
			return fmt.Errorf("failed to reply to %s: %w", msg.From, err)
		}
		return nil
	}

	result, err := d.registry.Dispatch(ctx, msg.From, req.Tool, req.Args)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	if err := d.bus.Reply(ctx, msg, resp); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", msg.From, err)
	}
	return nil
}

// ListOverBus fetches the platform's tool descriptors. The gateway serves
// them to its embedding agent as a tools/list result.
func ListOverBus(ctx context.Context, bus *agentbus.Bus, from string) ([]*mcp.Tool, error) {
	resp, err := CallOverBus(ctx, bus, from, listToolsName, nil)
	if err != nil {
		return nil, err
	}
	var descriptors []*mcp.Tool
	if err := json.Unmarshal(resp.Result, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to decode tool descriptors: %w", err)
	}
	return descriptors, nil
}

// CallOverBus is the client half of the dispatcher: it sends one tool
// request to the platform subject and decodes the response. The gateway
// and agent harness both use it.
func CallOverBus(ctx context.Context, bus *agentbus.Bus, from, tool string, args json.RawMessage) (*ToolResponse, error) {
	msg, err := agentbus.NewMessage(from, agentbus.AgentPlatform, agentbus.TopicTools, ToolRequest{Tool: tool, Args: args})
	if err != nil {
		return nil, err
	}

	reply, err := bus.RequestSubject(ctx, agentbus.ToolsSubject, msg)
	if err != nil {
		return nil, err
	}

	// Bus-level error replies carry a bare {"error": ...} payload; they
	// decode into the same shape as a failed ToolResponse.
	var resp ToolResponse
	if err := reply.DecodePayload(&resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}
