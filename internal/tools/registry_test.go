package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *Tool {
	return &Tool{
		Desc: &mcp.Tool{Name: name, Description: "echoes its arguments back"},
		Handler: func(_ context.Context, call Call) (any, error) {
			var args map[string]any
			if err := call.DecodeArgs(&args); err != nil {
				return nil, err
			}
			return map[string]any{"agent": call.Agent, "echo": args}, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(echoTool("echo")))

	err := r.Register(echoTool("echo"))
	require.ErrorContains(t, err, "already registered")
}

func TestRegisterRejectsIncompleteTools(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	require.ErrorContains(t, r.Register(nil), "no name")
	require.ErrorContains(t, r.Register(&Tool{Desc: &mcp.Tool{}}), "no name")
	require.ErrorContains(t, r.Register(&Tool{Desc: &mcp.Tool{Name: "mute"}}), "no handler")
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(echoTool(name)))
	}

	descs := r.List()
	require.Len(t, descs, 3)
	assert.Equal(t, "charlie", descs[0].Name)
	assert.Equal(t, "alpha", descs[1].Name)
	assert.Equal(t, "bravo", descs[2].Name)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	_, err := r.Dispatch(context.Background(), "decision_agent", "missing", nil)
	require.ErrorContains(t, err, `unknown tool "missing"`)
}

func TestDispatchEncodesResult(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(echoTool("echo")))

	out, err := r.Dispatch(context.Background(), "decision_agent", "echo", json.RawMessage(`{"symbol":"BTCUSDT"}`))
	require.NoError(t, err)

	var result struct {
		Agent string         `json:"agent"`
		Echo  map[string]any `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "decision_agent", result.Agent)
	assert.Equal(t, "BTCUSDT", result.Echo["symbol"])
}

func TestDispatchHandlerErrorPropagates(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	boom := errors.New("exchange unreachable")
	require.NoError(t, r.Register(&Tool{
		Desc:    &mcp.Tool{Name: "flaky"},
		Handler: func(context.Context, Call) (any, error) { return nil, boom },
	}))

	_, err := r.Dispatch(context.Background(), "decision_agent", "flaky", nil)
	require.ErrorIs(t, err, boom)
}

func TestDispatchEnforcesRestriction(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	tool := echoTool("guarded")
	tool.RestrictTo = "decision_agent"
	require.NoError(t, r.Register(tool))

	_, err := r.Dispatch(context.Background(), "sentiment_agent", "guarded", nil)
	require.ErrorContains(t, err, "restricted to decision_agent")

	out, err := r.Dispatch(context.Background(), "decision_agent", "guarded", nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "decision_agent")
}

func TestDecodeArgs(t *testing.T) {
	type args struct {
		Symbol string `json:"symbol"`
		Limit  int    `json:"limit"`
	}

	var a args
	require.NoError(t, Call{}.DecodeArgs(&a))
	assert.Zero(t, a)

	a = args{}
	call := Call{Args: json.RawMessage(`{"symbol":"ETHUSDT","limit":7}`)}
	require.NoError(t, call.DecodeArgs(&a))
	assert.Equal(t, args{Symbol: "ETHUSDT", Limit: 7}, a)

	err := Call{Args: json.RawMessage(`{"limit":"seven"}`)}.DecodeArgs(&a)
	require.ErrorContains(t, err, "failed to decode arguments")
}
