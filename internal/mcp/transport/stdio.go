// internal/mcp/transport/stdio.go
// Package transport carries JSON-RPC messages to an MCP server child process
// over newline-delimited JSON on its stdin/stdout.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pagepilot/internal/mcp/protocol"
)

// maxPendingRequests bounds the pending-response map so a wedged server
// cannot grow it without limit.
const maxPendingRequests = 64

// StdioTransport implements MCP transport over a child process's standard
// input/output. Stdout lines are JSON-RPC messages; stderr lines are relayed
// to the logger.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	connMu  sync.Mutex // protects connection state
	reqMu   sync.Mutex // protects pendingReqs
	writeMu sync.Mutex // serializes stdin writes

	connected   atomic.Bool
	requestID   atomic.Int64
	pendingReqs map[int64]chan *protocol.JSONRPCResponse

	config Config
}

// Config describes the MCP server process to launch.
type Config struct {
	Command string
	Args    []string
	Env     []string
	WorkDir string
}

// NewStdioTransport creates a new stdio transport instance.
func NewStdioTransport(cfg Config, logger *zap.Logger) *StdioTransport {
	return &StdioTransport{
		pendingReqs: make(map[int64]chan *protocol.JSONRPCResponse),
		config:      cfg,
		logger:      logger.Named("mcp_transport"),
	}
}

// Connect starts the MCP server process and the reader goroutines.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.connected.Load() {
		return nil
	}
	if t.config.Command == "" {
		return fmt.Errorf("no server command configured")
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	t.cmd = exec.CommandContext(t.ctx, t.config.Command, t.config.Args...)
	if len(t.config.Env) > 0 {
		t.cmd.Env = t.config.Env
	}
	if t.config.WorkDir != "" {
		t.cmd.Dir = t.config.WorkDir
	}

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	t.stdout = stdout

	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	t.stderr = stderr

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}

	go t.readStdout()
	go t.readStderr()
	go t.monitorProcess()

	t.connected.Store(true)
	t.logger.Debug("MCP server process started",
		zap.String("command", t.config.Command),
		zap.Strings("args", t.config.Args),
	)
	return nil
}

// Disconnect closes stdin, kills the server process, and fails any pending
// requests.
func (t *StdioTransport) Disconnect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if !t.connected.Load() {
		return nil
	}

	if t.cancel != nil {
		t.cancel()
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	// Kill only; monitorProcess owns the Wait call.
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}

	t.failPending(&protocol.JSONRPCError{
		Code:    protocol.InternalError,
		Message: "transport disconnected",
	})

	t.connected.Store(false)
	return nil
}

// SendRequest writes a JSON-RPC request and blocks until the matching
// response arrives, the context expires, or the transport shuts down.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params any) (*protocol.JSONRPCResponse, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("transport not connected")
	}

	id := t.requestID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	responseCh := make(chan *protocol.JSONRPCResponse, 1)
	t.reqMu.Lock()
	if len(t.pendingReqs) >= maxPendingRequests {
		t.reqMu.Unlock()
		return nil, fmt.Errorf("too many pending requests (%d)", maxPendingRequests)
	}
	t.pendingReqs[id] = responseCh
	t.reqMu.Unlock()

	defer func() {
		t.reqMu.Lock()
		delete(t.pendingReqs, id)
		t.reqMu.Unlock()
	}()

	if err := t.writeLine(data); err != nil {
		return nil, err
	}

	select {
	case response := <-responseCh:
		return response, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", method, ctx.Err())
	case <-t.ctx.Done():
		return nil, fmt.Errorf("transport closed while waiting for %s response", method)
	}
}

// SendNotification writes a JSON-RPC notification. Notifications carry no ID
// and expect no response.
func (t *StdioTransport) SendNotification(method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("transport not connected")
	}

	notification, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return t.writeLine(data)
}

// IsConnected returns the connection status.
func (t *StdioTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *StdioTransport) writeLine(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to server stdin: %w", err)
	}
	return nil
}

// readStdout reads newline-delimited JSON-RPC messages from the server.
func (t *StdioTransport) readStdout() {
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Copy the line; the scanner reuses its buffer.
		message := make([]byte, len(line))
		copy(message, line)
		t.handleMessage(message)
	}

	if err := scanner.Err(); err != nil && t.ctx.Err() == nil {
		t.logger.Warn("Error reading server stdout", zap.Error(err))
	}
}

// readStderr relays server diagnostics to the logger.
func (t *StdioTransport) readStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("MCP server stderr", zap.String("line", line))
		}
	}
}

// monitorProcess waits for the server process and fails outstanding requests
// when it exits.
func (t *StdioTransport) monitorProcess() {
	if t.cmd == nil {
		return
	}

	err := t.cmd.Wait()
	if err != nil && t.ctx.Err() == nil {
		t.logger.Warn("MCP server process exited", zap.Error(err))
	}

	t.connected.Store(false)
	t.failPending(&protocol.JSONRPCError{
		Code:    protocol.InternalError,
		Message: "MCP server process exited",
	})
}

// handleMessage routes an incoming line. Responses resolve pending requests;
// anything else is logged and dropped since the bridge registers no
// notification handlers.
func (t *StdioTransport) handleMessage(data []byte) {
	if protocol.IsResponse(data) {
		var response protocol.JSONRPCResponse
		if err := json.Unmarshal(data, &response); err == nil {
			t.handleResponse(&response)
			return
		}
	}

	t.logger.Debug("Dropping unsolicited server message", zap.ByteString("message", data))
}

func (t *StdioTransport) handleResponse(response *protocol.JSONRPCResponse) {
	// JSON numbers decode as float64.
	id, ok := response.ID.(float64)
	if !ok {
		return
	}

	t.reqMu.Lock()
	responseCh, exists := t.pendingReqs[int64(id)]
	if exists {
		delete(t.pendingReqs, int64(id))
	}
	t.reqMu.Unlock()

	if exists {
		responseCh <- response
	}
}

func (t *StdioTransport) failPending(rpcErr *protocol.JSONRPCError) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	for id, ch := range t.pendingReqs {
		select {
		case ch <- &protocol.JSONRPCResponse{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      id,
			Error:   rpcErr,
		}:
		default:
		}
		delete(t.pendingReqs, id)
	}
}
