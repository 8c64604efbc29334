// internal/mcp/client.go
// Package mcp implements both halves of the page-context bridge: a client
// that drives a remote MCP tool server over stdio, and the tool server
// itself.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"pagepilot/internal/config"
	"pagepilot/internal/mcp/protocol"
	"pagepilot/internal/mcp/transport"
	"pagepilot/internal/pagecontext"
)

// ErrBridgeUnavailable signals that the bridge could not be opened or the
// server never completed the handshake.
var ErrBridgeUnavailable = errors.New("mcp: bridge unavailable")

// clientVersion is reported in the initialize handshake.
const clientVersion = "0.1.0"

// Client speaks MCP to a tool server child process. It implements
// pagecontext.RemoteSource.
type Client struct {
	transport   *transport.StdioTransport
	logger      *zap.Logger
	startupWait time.Duration
	callTimeout time.Duration

	// tools is populated once during Open and read-only afterwards.
	tools []protocol.Tool
}

// NewClient builds a client for the configured server command. Nothing is
// spawned until Open.
func NewClient(cfg config.BridgeConfig, logger *zap.Logger) *Client {
	startupWait := cfg.StartupTimeout
	if startupWait <= 0 {
		startupWait = 20 * time.Second
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	return &Client{
		transport: transport.NewStdioTransport(transport.Config{
			Command: cfg.Command,
			Args:    cfg.Args,
		}, logger),
		logger:      logger.Named("mcp_client"),
		startupWait: startupWait,
		callTimeout: callTimeout,
	}
}

// Open spawns the server, performs the initialize handshake, and caches the
// tool list. On any failure the child process is torn down before returning.
func (c *Client) Open(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, c.startupWait)
	defer cancel()

	initResp, err := c.transport.SendRequest(handshakeCtx, protocol.MethodInitialize, protocol.InitializeRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    protocol.ClientCapabilities{Tools: &protocol.ToolsCapability{}},
		ClientInfo:      protocol.ClientInfo{Name: "pagepilot", Version: clientVersion},
	})
	if err != nil {
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: initialize failed: %v", ErrBridgeUnavailable, err)
	}
	if initResp.Error != nil {
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: initialize rejected: %v", ErrBridgeUnavailable, initResp.Error)
	}

	var initialized protocol.InitializeResponse
	if err := json.Unmarshal(initResp.Result, &initialized); err == nil {
		c.logger.Debug("MCP handshake complete.",
			zap.String("server", initialized.ServerInfo.Name),
			zap.String("protocol", initialized.ProtocolVersion),
		)
	}

	if err := c.transport.SendNotification(protocol.MethodInitialized, struct{}{}); err != nil {
		c.logger.Debug("Initialized notification failed.", zap.Error(err))
	}

	listResp, err := c.transport.SendRequest(handshakeCtx, protocol.MethodToolsList, protocol.ToolsListRequest{})
	if err != nil {
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: tools/list failed: %v", ErrBridgeUnavailable, err)
	}
	if listResp.Error != nil {
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: tools/list rejected: %v", ErrBridgeUnavailable, listResp.Error)
	}

	var list protocol.ToolsListResponse
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: malformed tools/list result: %v", ErrBridgeUnavailable, err)
	}

	c.tools = list.Tools
	c.logger.Info("MCP bridge open.", zap.Int("tools", len(c.tools)))
	return nil
}

// Close kills the server process. Safe to call even if Open failed.
func (c *Client) Close() error {
	return c.transport.Disconnect()
}

// toolNames returns the advertised tool names.
func (c *Client) toolNames() []string {
	names := make([]string, 0, len(c.tools))
	for _, tool := range c.tools {
		names = append(names, tool.Name)
	}
	return names
}

// MatchTool picks the best available tool name for a list of candidate
// stems, in candidate priority order. Prefix matches beat substring matches;
// both are case-insensitive. Returns "" when nothing matches.
func MatchTool(available []string, candidates []string) string {
	for _, cand := range candidates {
		lc := strings.ToLower(cand)
		for _, name := range available {
			if strings.HasPrefix(strings.ToLower(name), lc) {
				return name
			}
		}
	}
	for _, cand := range candidates {
		lc := strings.ToLower(cand)
		for _, name := range available {
			if strings.Contains(strings.ToLower(name), lc) {
				return name
			}
		}
	}
	return ""
}

// callTool invokes a tool and returns the first text content item.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.transport.SendRequest(callCtx, protocol.MethodToolsCall, protocol.ToolsCallRequest{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	var result protocol.ToolsCallResponse
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("malformed tools/call result: %w", err)
	}
	if result.IsError {
		for _, item := range result.Content {
			if item.Text != "" {
				return "", fmt.Errorf("tool %s failed: %s", name, item.Text)
			}
		}
		return "", fmt.Errorf("tool %s failed", name)
	}

	for _, item := range result.Content {
		if item.Text != "" {
			return item.Text, nil
		}
	}
	return "", nil
}

// navigateCandidates are the tool name stems tried for navigation, most
// specific first.
var navigateCandidates = []string{"playwright_navigate", "navigate", "goto", "open_url"}

// Navigate asks the server to load a URL. An empty success payload still
// counts as success; a missing tool or a failed call logs and returns false.
func (c *Client) Navigate(ctx context.Context, url string) bool {
	name := MatchTool(c.toolNames(), navigateCandidates)
	if name == "" {
		c.logger.Warn("No navigation tool advertised by server.", zap.Strings("tools", c.toolNames()))
		return false
	}

	if _, err := c.callTool(ctx, name, map[string]any{"url": url}); err != nil {
		c.logger.Warn("Remote navigation failed.", zap.String("tool", name), zap.Error(err))
		return false
	}
	return true
}

// snapshotCandidates are the tool name stems tried for page context reads.
var snapshotCandidates = []string{"playwright_snapshot", "snapshot", "get_context", "context", "page"}

// remoteSnapshot is the wire shape the tool server emits. Unknown extra
// fields (selector recommendations, warnings) are tolerated.
type remoteSnapshot struct {
	URL      string                `json:"url"`
	Title    string                `json:"title"`
	Elements []pagecontext.Element `json:"elements"`
	TestIDs  []string              `json:"test_ids"`
	Hints    map[string]bool       `json:"hints"`
	Error    string                `json:"error"`
}

// GetContext reads a page snapshot through the server. It returns nil for
// any failure or an empty element list; the caller falls back to local
// introspection.
func (c *Client) GetContext(ctx context.Context) *pagecontext.Context {
	name := MatchTool(c.toolNames(), snapshotCandidates)
	if name == "" {
		c.logger.Warn("No snapshot tool advertised by server.", zap.Strings("tools", c.toolNames()))
		return nil
	}

	text, err := c.callTool(ctx, name, nil)
	if err != nil {
		c.logger.Warn("Remote snapshot failed.", zap.String("tool", name), zap.Error(err))
		return nil
	}
	if text == "" {
		return nil
	}

	var snap remoteSnapshot
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		c.logger.Warn("Remote snapshot is not valid JSON.", zap.Error(err))
		return nil
	}
	if snap.Error != "" {
		c.logger.Warn("Remote snapshot carried an error payload.", zap.String("error", snap.Error))
		return nil
	}
	if len(snap.Elements) == 0 {
		c.logger.Debug("Remote snapshot had no elements; falling back.")
		return nil
	}

	return &pagecontext.Context{
		Source:   pagecontext.SourceRemoteTool,
		URL:      snap.URL,
		Title:    snap.Title,
		Elements: snap.Elements,
		TestIDs:  snap.TestIDs,
		Hints:    snap.Hints,
	}
}
