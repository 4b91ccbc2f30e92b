// Package toolexec supplies the tool executor the orchestrator calls
// once it extracts a tool call: Execute(call) -> ToolResult. The
// orchestrator's own contract treats the executor as caller-supplied;
// this package provides the two concrete shapes a host embedding the
// engine actually needs — a subprocess JSON-RPC worker for real tools,
// and a fake for tests and the CLI's demo mode.
package toolexec

import (
	"context"

	"toolrunner/engine/internal/chatmodel"
)

// Executor runs one extracted tool call and returns its result. May
// suspend (block on ctx). A returned error is captured by the caller
// into an error-flagged tool message; it must not abort the orchestrator
// loop.
type Executor interface {
	Execute(ctx context.Context, call chatmodel.ToolCall) (chatmodel.ToolResult, error)
}

// FakeExecutor returns a scripted result for each tool name, for tests
// and the CLI's chat demo.
type FakeExecutor struct {
	Results map[string]chatmodel.ToolResult
	Default chatmodel.ToolResult
}

// NewFakeExecutor returns a FakeExecutor with no scripted tools; calls to
// unscripted tool names return Default.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{Results: map[string]chatmodel.ToolResult{}}
}

func (f *FakeExecutor) Execute(ctx context.Context, call chatmodel.ToolCall) (chatmodel.ToolResult, error) {
	if result, ok := f.Results[call.Function.Name]; ok {
		return result, nil
	}
	if f.Default.ToolName != "" || f.Default.ResultPayload != "" {
		return f.Default, nil
	}
	return chatmodel.ToolResult{ToolName: call.Function.Name, ResultPayload: "{}"}, nil
}
