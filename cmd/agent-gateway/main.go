// The agent-gateway binary bridges an LLM agent process to the platform's
// tool dispatcher. It speaks MCP-shaped JSON-RPC over stdio (stdout carries
// the protocol, logs go to stderr) and forwards every tool call over NATS
// to the platform. Agent wrappers spawn it as a stdio MCP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/agentbus"
	"github.com/ajitpratap0/tradefleet/internal/config"
	"github.com/ajitpratap0/tradefleet/internal/tools"
)

const (
	gatewayVersion  = "0.1.0"
	protocolVersion = "2024-11-05"

	// forwardTimeout bounds one call across the bus, dispatcher included.
	forwardTimeout = 60 * time.Second
)

// defaultAgentName identifies callers that did not set TRADEFLEET_AGENT_NAME.
// Restricted tools will refuse it, which is the safe default.
const defaultAgentName = "unnamed_agent"

func main() {
	agentName := os.Getenv("TRADEFLEET_AGENT_NAME")
	if agentName == "" {
		agentName = defaultAgentName
	}
	natsURL := os.Getenv("TRADEFLEET_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	logger := config.NewGatewayLogger(agentName)
	logger.Info().Str("nats_url", natsURL).Msg("Agent gateway starting")

	bus, err := agentbus.Connect(agentbus.Config{
		URL:    natsURL,
		Name:   agentName + "-gateway",
		Prefix: os.Getenv("TRADEFLEET_NATS_PREFIX"),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer bus.Close()

	gw := &Gateway{
		agent:  agentName,
		link:   &busLink{bus: bus, agent: agentName},
		logger: logger,
	}
	if err := gw.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("Gateway failed")
	}
}

// platformLink is the forwarding half of the gateway. Tests substitute a
// fake; production uses the agent bus.
type platformLink interface {
	Call(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error)
	List(ctx context.Context) ([]*mcp.Tool, error)
}

type busLink struct {
	bus   *agentbus.Bus
	agent string
}

func (l *busLink) Call(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	resp, err := tools.CallOverBus(ctx, l.bus, l.agent, tool, args)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (l *busLink) List(ctx context.Context) ([]*mcp.Tool, error) {
	return tools.ListOverBus(ctx, l.bus, l.agent)
}

// Request is one JSON-RPC request from the embedding agent.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

// Response is one JSON-RPC reply.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Gateway serves the stdio protocol and forwards tool traffic.
type Gateway struct {
	agent  string
	link   platformLink
	logger zerolog.Logger
}

// Run decodes requests from in and writes replies to out until EOF.
func (g *Gateway) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	decoder := json.NewDecoder(in)
	encoder := json.NewEncoder(out)

	g.logger.Info().Msg("Gateway ready, listening on stdio")
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				g.logger.Info().Msg("Client disconnected")
				return nil
			}
			g.logger.Error().Err(err).Msg("Failed to decode request")
			continue
		}

		resp := g.handleRequest(ctx, &req)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}

func (g *Gateway) handleRequest(ctx context.Context, req *Request) *Response {
	resp := &Response{JSONRPC: "2.0", ID: req.ID}

	callCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{"listChanged": false},
			},
			"serverInfo": map[string]string{
				"name":    "tradefleet-gateway",
				"version": gatewayVersion,
			},
		}

	case "tools/list":
		descriptors, err := g.link.List(callCtx)
		if err != nil {
			resp.Error = &RPCError{Code: -32603, Message: err.Error()}
			break
		}
		resp.Result = map[string]interface{}{"tools": descriptors}

	case "tools/call":
		result, err := g.link.Call(callCtx, req.Params.Name, req.Params.Arguments)
		if err != nil {
			g.logger.Warn().Err(err).Str("tool", req.Params.Name).Msg("Tool call failed")
			resp.Error = &RPCError{Code: -32603, Message: err.Error()}
			break
		}
		// Results travel as MCP text content carrying the tool's JSON.
		resp.Result = map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": string(result)},
			},
		}

	default:
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}
	return resp
}
