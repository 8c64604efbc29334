// internal/mcp/server.go
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"pagepilot/internal/browser"
	"pagepilot/internal/config"
	"pagepilot/internal/mcp/protocol"
)

// serverVersion is reported in the initialize handshake.
const serverVersion = "0.1.0"

// Server exposes browser automation tools over stdio JSON-RPC. One browser
// session is started lazily on the first tool call and shared by all
// subsequent calls. All logging goes to stderr; stdout carries only frames.
type Server struct {
	logger     *zap.Logger
	browserCfg config.BrowserConfig
	netCfg     config.NetworkConfig

	sessionOnce sync.Once
	session     *browser.Session
	sessionErr  error

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer builds a tool server. The browser is not launched until a tool
// call needs it.
func NewServer(browserCfg config.BrowserConfig, netCfg config.NetworkConfig, logger *zap.Logger) *Server {
	return &Server{
		logger:     logger.Named("mcp_server"),
		browserCfg: browserCfg,
		netCfg:     netCfg,
	}
}

// Run reads newline-delimited JSON-RPC from in and writes responses to out
// until in closes or ctx is cancelled. The browser session, if started, is
// closed before returning.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	defer func() {
		if s.session != nil {
			_ = s.session.Close()
		}
	}()

	s.logger.Info("MCP tool server listening on stdio.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if protocol.IsRequest(line) {
			var req protocol.JSONRPCRequest
			if err := json.Unmarshal(line, &req); err != nil {
				s.writeResponse(protocol.NewErrorResponse(nil, protocol.ParseError, "malformed request", nil))
				continue
			}
			s.writeResponse(s.dispatch(ctx, &req))
			continue
		}

		if protocol.IsNotification(line) {
			// notifications/initialized and friends need no reply.
			continue
		}

		s.logger.Debug("Ignoring unrecognized input line.")
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

func (s *Server) writeResponse(resp *protocol.JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal response.", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("Failed to write response.", zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	switch req.Method {
	case protocol.MethodInitialize:
		resp, err := protocol.NewResponse(req.ID, protocol.InitializeResponse{
			ProtocolVersion: protocol.ProtocolVersion,
			Capabilities:    protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}},
			ServerInfo:      protocol.ServerInfo{Name: "pagepilot-mcp", Version: serverVersion},
		})
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.InternalError, err.Error(), nil)
		}
		return resp

	case protocol.MethodPing:
		resp, _ := protocol.NewResponse(req.ID, struct{}{})
		return resp

	case protocol.MethodToolsList:
		resp, err := protocol.NewResponse(req.ID, protocol.ToolsListResponse{Tools: toolDefinitions()})
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.InternalError, err.Error(), nil)
		}
		return resp

	case protocol.MethodToolsCall:
		var call protocol.ToolsCallRequest
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.InvalidParams, "malformed tools/call params", nil)
		}
		text := s.callTool(ctx, call.Name, call.Arguments)
		resp, err := protocol.NewResponse(req.ID, protocol.ToolsCallResponse{
			Content: []protocol.Content{{Type: "text", Text: text}},
		})
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.InternalError, err.Error(), nil)
		}
		return resp

	default:
		return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// callTool runs one tool and renders the result as a JSON text payload.
// Errors and panics become {"error": ..., "trace": ...} payloads; the loop
// never crashes on a bad call.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = s.errorPayload(fmt.Errorf("panic: %v", r), string(debug.Stack()))
		}
	}()

	result, err := s.runTool(ctx, name, args)
	if err != nil {
		s.logger.Warn("Tool call failed.", zap.String("tool", name), zap.Error(err))
		return s.errorPayload(err, "")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return s.errorPayload(fmt.Errorf("failed to marshal tool result: %w", err), "")
	}
	return string(data)
}

func (s *Server) errorPayload(err error, trace string) string {
	if trace == "" {
		trace = string(debug.Stack())
	}
	data, mErr := json.Marshal(map[string]string{
		"error": err.Error(),
		"trace": trace,
	})
	if mErr != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func (s *Server) runTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "playwright_navigate":
		url, _ := args["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("navigate requires a url argument")
		}
		return s.navigate(ctx, url)

	case "playwright_snapshot":
		return s.snapshot(ctx)

	case "playwright_click":
		selector, _ := args["selector"].(string)
		if selector == "" {
			return nil, fmt.Errorf("click requires a selector argument")
		}
		sess, err := s.startSession(ctx)
		if err != nil {
			return nil, err
		}
		if err := sess.Click(ctx, browser.Locator{Selector: selector}); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case "playwright_fill":
		selector, _ := args["selector"].(string)
		fillText, _ := args["text"].(string)
		if selector == "" {
			return nil, fmt.Errorf("fill requires a selector argument")
		}
		sess, err := s.startSession(ctx)
		if err != nil {
			return nil, err
		}
		if err := sess.Fill(ctx, browser.Locator{Selector: selector}, fillText); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case "playwright_type":
		selector, _ := args["selector"].(string)
		typeText, _ := args["text"].(string)
		if selector == "" {
			return nil, fmt.Errorf("type requires a selector argument")
		}
		sess, err := s.startSession(ctx)
		if err != nil {
			return nil, err
		}
		if err := sess.Type(ctx, browser.Locator{Selector: selector}, typeText); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// startSession lazily launches the shared browser session. The first call
// wins; a startup failure is sticky for the life of the server.
func (s *Server) startSession(ctx context.Context) (*browser.Session, error) {
	s.sessionOnce.Do(func() {
		s.session, s.sessionErr = browser.NewSession(context.Background(), s.browserCfg, s.netCfg, s.logger)
	})
	if s.sessionErr != nil {
		return nil, fmt.Errorf("browser session unavailable: %w", s.sessionErr)
	}
	return s.session, nil
}

func (s *Server) navigate(ctx context.Context, url string) (any, error) {
	sess, err := s.startSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Navigate(ctx, url); err != nil {
		return nil, err
	}
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		current = url
	}
	return map[string]any{"success": true, "url": current}, nil
}

func toolDefinitions() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "playwright_navigate",
			Description: "Navigate to a URL in the browser",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"The URL to navigate to"}},"required":["url"]}`),
		},
		{
			Name: "playwright_snapshot",
			Description: "Get a rich snapshot of the current page (elements + attributes + selectors). " +
				"On error, returns a fallback snapshot plus a 'warning' with error and trace.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "playwright_click",
			Description: "Click an element on the page",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the element"}},"required":["selector"]}`),
		},
		{
			Name:        "playwright_fill",
			Description: "Fill a text input field (clears and types to trigger SPA listeners)",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the input"},"text":{"type":"string","description":"Text to fill"}},"required":["selector","text"]}`),
		},
		{
			Name:        "playwright_type",
			Description: "Type text into a field without clearing its current value",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the input"},"text":{"type":"string","description":"Text to type"}},"required":["selector","text"]}`),
		},
	}
}
