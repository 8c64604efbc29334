// internal/mcp/server_test.go
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagepilot/internal/config"
	"pagepilot/internal/mcp/protocol"
)

// serverHarness runs a Server over in-memory pipes and provides line-level
// request/response helpers. No browser is launched as long as the exercised
// tools fail before needing one.
type serverHarness struct {
	t      *testing.T
	stdin  io.WriteCloser
	reader *bufio.Reader
	done   chan error
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := NewServer(config.BrowserConfig{}, config.NetworkConfig{}, zap.NewNop())

	h := &serverHarness{
		t:      t,
		stdin:  inW,
		reader: bufio.NewReader(outR),
		done:   make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.done <- srv.Run(ctx, inR, outW)
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return h
}

func (h *serverHarness) roundTrip(id int64, method string, params any) *protocol.JSONRPCResponse {
	h.t.Helper()

	req, err := protocol.NewRequest(id, method, params)
	require.NoError(h.t, err)
	data, err := json.Marshal(req)
	require.NoError(h.t, err)

	_, err = h.stdin.Write(append(data, '\n'))
	require.NoError(h.t, err)

	line, err := h.reader.ReadBytes('\n')
	require.NoError(h.t, err)

	var resp protocol.JSONRPCResponse
	require.NoError(h.t, json.Unmarshal(line, &resp))
	return &resp
}

func TestServerInitialize(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(1, protocol.MethodInitialize, protocol.InitializeRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.ClientInfo{Name: "test", Version: "0"},
	})

	require.Nil(t, resp.Error)
	var init protocol.InitializeResponse
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, "pagepilot-mcp", init.ServerInfo.Name)
	assert.Equal(t, protocol.ProtocolVersion, init.ProtocolVersion)
	assert.NotNil(t, init.Capabilities.Tools)
}

func TestServerToolsList(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(1, protocol.MethodToolsList, protocol.ToolsListRequest{})

	require.Nil(t, resp.Error)
	var list protocol.ToolsListResponse
	require.NoError(t, json.Unmarshal(resp.Result, &list))

	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.InputSchema, "tool %s must declare an input schema", tool.Name)
	}
	assert.Equal(t, []string{
		"playwright_navigate",
		"playwright_snapshot",
		"playwright_click",
		"playwright_fill",
		"playwright_type",
	}, names)
}

func TestServerUnknownToolReturnsErrorPayload(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(1, protocol.MethodToolsCall, protocol.ToolsCallRequest{
		Name: "teleport",
	})

	// Tool failures ride inside the result payload, not a JSON-RPC error.
	require.Nil(t, resp.Error)
	var result protocol.ToolsCallResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	assert.Contains(t, payload["error"], "unknown tool")
	assert.NotEmpty(t, payload["trace"])
}

func TestServerMissingToolArguments(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(1, protocol.MethodToolsCall, protocol.ToolsCallRequest{
		Name: "playwright_navigate",
	})

	require.Nil(t, resp.Error)
	var result protocol.ToolsCallResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	assert.Contains(t, payload["error"], "url")
}

func TestServerUnknownMethod(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(1, "resources/list", struct{}{})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}

func TestServerPing(t *testing.T) {
	h := newServerHarness(t)

	resp := h.roundTrip(7, protocol.MethodPing, struct{}{})
	assert.Nil(t, resp.Error)
}
