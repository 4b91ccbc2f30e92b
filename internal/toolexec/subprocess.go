package toolexec

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/logging"
)

const (
	jsonRPCVersion     = "2.0"
	maxRestartAttempts = 3
)

// ErrWorkerUnavailable is returned when the subprocess cannot be started,
// has been disabled after repeated failures, or exits while a request is
// in flight.
var ErrWorkerUnavailable = errors.New("tool worker unavailable")

// RemoteError wraps a tool-side error returned over JSON-RPC.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tool worker error %d: %s", e.Code, e.Message)
}

// SubprocessExecutor runs a long-lived tool-worker subprocess and calls
// into it over JSON-RPC on stdin/stdout, one request per extracted tool
// call. A single unhealthy worker is retried with exponential backoff up
// to maxRestartAttempts before being disabled.
type SubprocessExecutor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	command  []string
	workdir  string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	reader   *bufio.Reader
	pending  map[int]chan rpcResponse
	nextID   int
	failures int
	disabled bool
	starting bool
	closed   bool
	logger   *zap.Logger
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorWire   `json:"error,omitempty"`
}

type rpcErrorWire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewSubprocessExecutor configures (but does not yet start) a tool
// worker launched by running command in workdir.
func NewSubprocessExecutor(command []string, workdir string, logger *zap.Logger) *SubprocessExecutor {
	if logger == nil {
		logger = logging.Nop()
	}
	e := &SubprocessExecutor{
		command: command,
		workdir: workdir,
		pending: make(map[int]chan rpcResponse),
		nextID:  1,
		logger:  logger,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *SubprocessExecutor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cmd := e.cmd
	e.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

// Execute serializes call's arguments as JSON-RPC params and invokes the
// worker method named after the tool.
func (e *SubprocessExecutor) Execute(ctx context.Context, call chatmodel.ToolCall) (chatmodel.ToolResult, error) {
	var raw json.RawMessage
	if call.Function.Arguments != "" {
		raw = json.RawMessage(call.Function.Arguments)
	}
	var result json.RawMessage
	err := e.call(ctx, call.Function.Name, raw, &result)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			return chatmodel.ToolResult{ToolName: call.Function.Name, ResultPayload: remote.Message, IsError: true}, nil
		}
		return chatmodel.ToolResult{}, err
	}
	return chatmodel.ToolResult{ToolName: call.Function.Name, ResultPayload: string(result)}, nil
}

func (e *SubprocessExecutor) call(ctx context.Context, method string, params json.RawMessage, result any) error {
	if err := e.ensureRunning(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrWorkerUnavailable
	}
	id := e.nextID
	e.nextID++
	respCh := make(chan rpcResponse, 1)
	e.pending[id] = respCh
	stdin := e.stdin
	e.mu.Unlock()

	if stdin == nil {
		e.removePending(id)
		return ErrWorkerUnavailable
	}

	payload, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		e.removePending(id)
		return err
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		e.removePending(id)
		e.handleProcessExit(err)
		return ErrWorkerUnavailable
	}

	select {
	case resp := <-respCh:
		// deliver only routes responses whose ID matches; a response with
		// any other ID comes from handleProcessExit, i.e. the worker died.
		if resp.ID != id && resp.Error != nil {
			return fmt.Errorf("%w: %s", ErrWorkerUnavailable, resp.Error.Message)
		}
		if resp.Error != nil {
			return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		e.removePending(id)
		return ctx.Err()
	}
}

func (e *SubprocessExecutor) ensureRunning() error {
	e.mu.Lock()
	for e.starting {
		e.cond.Wait()
	}
	if e.closed {
		e.mu.Unlock()
		return ErrWorkerUnavailable
	}
	if e.cmd != nil {
		e.mu.Unlock()
		return nil
	}
	if e.disabled {
		e.mu.Unlock()
		return ErrWorkerUnavailable
	}
	e.starting = true
	failures := e.failures
	e.mu.Unlock()

	if failures > 0 {
		backoff := time.Duration(1<<uint(failures-1)) * time.Second
		time.Sleep(backoff)
	}

	err := e.start()

	e.mu.Lock()
	e.starting = false
	if err != nil {
		e.failures++
		if e.failures >= maxRestartAttempts {
			e.disabled = true
			e.logger.Warn("toolexec.disabled_after_failures", zap.Int("failures", e.failures))
		}
	} else {
		e.failures = 0
	}
	e.cond.Broadcast()
	e.mu.Unlock()
	return err
}

func (e *SubprocessExecutor) start() error {
	if len(e.command) == 0 {
		return fmt.Errorf("toolexec: no worker command configured")
	}
	cmd := exec.Command(e.command[0], e.command[1:]...)
	if e.workdir != "" {
		cmd.Dir = e.workdir
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.reader = bufio.NewReader(stdout)
	e.mu.Unlock()

	go e.readLoop(cmd)
	return nil
}

func (e *SubprocessExecutor) readLoop(cmd *exec.Cmd) {
	e.mu.Lock()
	reader := e.reader
	e.mu.Unlock()
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpcResponse
			if jsonErr := json.Unmarshal(line, &resp); jsonErr == nil {
				e.deliver(resp)
			}
		}
		if err != nil {
			e.handleProcessExit(err)
			return
		}
	}
}

func (e *SubprocessExecutor) deliver(resp rpcResponse) {
	e.mu.Lock()
	ch, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (e *SubprocessExecutor) removePending(id int) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *SubprocessExecutor) handleProcessExit(cause error) {
	e.mu.Lock()
	e.cmd = nil
	e.stdin = nil
	e.reader = nil
	pending := e.pending
	e.pending = make(map[int]chan rpcResponse)
	e.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcResponse{Error: &rpcErrorWire{Code: -32000, Message: causeMessage(cause)}}
	}
}

func causeMessage(err error) string {
	if err == nil {
		return "worker exited"
	}
	return strings.TrimSpace(err.Error())
}
