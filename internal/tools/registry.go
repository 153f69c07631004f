// Package tools exposes platform operations to external agents as named,
// schema-described tools. The registry holds MCP-shaped descriptors and
// typed handlers; the dispatcher serves them over the agent bus so the
// stdio gateway and in-process callers share one implementation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// Call carries one invocation through the registry: who is calling and
// the raw JSON arguments they sent.
type Call struct {
	Agent string
	Args  json.RawMessage
}

// DecodeArgs unmarshals the call's arguments into v. Absent arguments
// leave v at its zero value so every field keeps its handler default.
func (c Call) DecodeArgs(v any) error {
	if len(c.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

// Handler executes one tool call and returns a JSON-serializable result.
type Handler func(ctx context.Context, call Call) (any, error)

// Tool binds an MCP-shaped descriptor to its handler. RestrictTo, when
// set, names the only agent allowed to call it.
type Tool struct {
	Desc       *mcp.Tool
	Handler    Handler
	RestrictTo string
}

// Registry holds the platform's tools and dispatches calls by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. Names are unique; registering a duplicate fails.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Desc == nil || t.Desc.Name == "" {
		return fmt.Errorf("tool descriptor has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Desc.Name]; ok {
		return fmt.Errorf("tool %s is already registered", t.Desc.Name)
	}
	r.tools[t.Desc.Name] = t
	r.order = append(r.order, t.Desc.Name)
	return nil
}

// List returns the tool descriptors in registration order.
func (r *Registry) List() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Desc)
	}
	return out
}

// Dispatch runs the named tool for the calling agent and returns its
// JSON-marshalled result. Unknown names, restricted callers, and handler
// failures come back as errors; the transport decides how to surface them.
func (r *Registry) Dispatch(ctx context.Context, agent, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if t.RestrictTo != "" && agent != t.RestrictTo {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("tool %s is restricted to %s", name, t.RestrictTo)
	}

	result, err := t.Handler(ctx, Call{Agent: agent, Args: args})
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		r.logger.Warn().Err(err).Str("tool", name).Str("agent", agent).Msg("tool call failed")
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	r.logger.Debug().Str("tool", name).Str("agent", agent).Msg("tool call served")
	return out, nil
}
