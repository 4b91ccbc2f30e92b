package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/decoder"
	"toolrunner/engine/internal/errinfo"
	"toolrunner/engine/internal/grammarmgr"
	"toolrunner/engine/internal/toolexec"
)

var weatherTool = []chatmodel.ParsedTool{{
	Name:        "get_weather",
	Description: "looks up current weather",
	Parameters: []chatmodel.ParsedParameter{
		{Name: "city", Type: "string"},
	},
	Required: map[string]bool{"city": true},
}}

const catalogText = `[{"type":"function","function":{"name":"get_weather","description":"looks up current weather","parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}]`

type recordingSinks struct {
	tokens     []string
	toolCalls  []chatmodel.ToolCall
	errs       []*errinfo.ErrorInfo
	done       []string
	doneCalled bool
}

func newRecordingSinks() (*recordingSinks, Sinks) {
	r := &recordingSinks{}
	return r, Sinks{
		OnToken:            func(s string) { r.tokens = append(r.tokens, s) },
		OnToolCallDetected: func(c chatmodel.ToolCall) { r.toolCalls = append(r.toolCalls, c) },
		OnError:            func(e *errinfo.ErrorInfo) { r.errs = append(r.errs, e) },
		OnDone:             func(s string) { r.done = append(r.done, s); r.doneCalled = true },
	}
}

func (r *recordingSinks) text() string {
	out := ""
	for _, t := range r.tokens {
		out += t
	}
	return out
}

func newOrchestrator(t *testing.T, script ...string) (*Orchestrator, *decoder.FakeBackend) {
	t.Helper()
	backend := decoder.NewFakeBackend(script...)
	mgr := grammarmgr.New(backend, decoder.GrammarLazy, nil)
	return New(backend, mgr, nil, nil), backend
}

func defaultConfig() Config {
	return Config{
		MaxRounds:        4,
		MaxTokensPerTurn: 4096,
		Sampler:          decoder.SamplerParams{Temperature: 0.7, TopK: 40, TopP: 0.95},
	}
}

func TestGenerateWithToolsPlainTextRound(t *testing.T) {
	orch, _ := newOrchestrator(t, "Hello, how can I help?")
	rec, sinks := newRecordingSinks()

	orch.GenerateWithTools(context.Background(), "hi", weatherTool, catalogText, toolexec.NewFakeExecutor(), defaultConfig(), sinks)

	require.True(t, rec.doneCalled)
	require.Equal(t, "Hello, how can I help?", rec.text())
	require.Empty(t, rec.toolCalls)
	require.Empty(t, rec.errs)
}

func TestGenerateWithToolsSingleToolCallRound(t *testing.T) {
	orch, _ := newOrchestrator(t,
		`{"tool_calls":[{"name":"get_weather","arguments":{"city":"nyc"}}]}`,
		"It's sunny in NYC.",
	)
	rec, sinks := newRecordingSinks()
	executor := toolexec.NewFakeExecutor()
	executor.Results["get_weather"] = chatmodel.ToolResult{ToolName: "get_weather", ResultPayload: `{"tempF":72}`}

	orch.GenerateWithTools(context.Background(), "what's the weather in nyc?", weatherTool, catalogText, executor, defaultConfig(), sinks)

	require.Len(t, rec.toolCalls, 1)
	require.Equal(t, "get_weather", rec.toolCalls[0].Function.Name)
	require.NotEmpty(t, rec.toolCalls[0].ID)
	require.True(t, rec.doneCalled)
	require.Equal(t, "It's sunny in NYC.", rec.text())
	require.Empty(t, rec.errs)
}

func TestGenerateWithToolsMultiRoundSequence(t *testing.T) {
	orch, _ := newOrchestrator(t,
		`{"tool_calls":[{"name":"get_weather","arguments":{"city":"nyc"}}]}`,
		`{"tool_calls":[{"name":"get_weather","arguments":{"city":"boston"}}]}`,
		"NYC is sunny, Boston is rainy.",
	)
	rec, sinks := newRecordingSinks()
	orch.GenerateWithTools(context.Background(), "compare nyc and boston weather", weatherTool, catalogText, toolexec.NewFakeExecutor(), defaultConfig(), sinks)

	require.Len(t, rec.toolCalls, 2)
	require.True(t, rec.doneCalled)
	require.Equal(t, "NYC is sunny, Boston is rainy.", rec.text())
	require.Empty(t, rec.errs)
}

func TestGenerateWithToolsRoundBudgetExceeded(t *testing.T) {
	call := `{"tool_calls":[{"name":"get_weather","arguments":{"city":"nyc"}}]}`
	orch, _ := newOrchestrator(t, call, call, call)
	rec, sinks := newRecordingSinks()

	cfg := defaultConfig()
	cfg.MaxRounds = 2
	orch.GenerateWithTools(context.Background(), "keep calling", weatherTool, catalogText, toolexec.NewFakeExecutor(), cfg, sinks)

	require.False(t, rec.doneCalled)
	require.Len(t, rec.errs, 1)
	require.Equal(t, errinfo.CodeRoundBudgetExceeded, rec.errs[0].ErrorCode)
}

type erroringExecutor struct{}

func (erroringExecutor) Execute(ctx context.Context, call chatmodel.ToolCall) (chatmodel.ToolResult, error) {
	return chatmodel.ToolResult{}, errors.New("tool process crashed")
}

func TestGenerateWithToolsExecutorErrorBecomesToolMessage(t *testing.T) {
	orch, _ := newOrchestrator(t,
		`{"tool_calls":[{"name":"get_weather","arguments":{"city":"nyc"}}]}`,
		"Sorry, I couldn't check the weather.",
	)
	rec, sinks := newRecordingSinks()

	orch.GenerateWithTools(context.Background(), "what's the weather?", weatherTool, catalogText, erroringExecutor{}, defaultConfig(), sinks)

	require.Empty(t, rec.errs)
	require.True(t, rec.doneCalled)
	require.Equal(t, "Sorry, I couldn't check the weather.", rec.text())
}

func TestGenerateWithToolsMalformedCandidateTriggersParseError(t *testing.T) {
	orch, _ := newOrchestrator(t, `{"foo":"bar"}`)
	rec, sinks := newRecordingSinks()

	orch.GenerateWithTools(context.Background(), "hi", weatherTool, catalogText, toolexec.NewFakeExecutor(), defaultConfig(), sinks)

	require.False(t, rec.doneCalled)
	require.Len(t, rec.errs, 1)
	require.Equal(t, errinfo.CodeToolCallParseFailed, rec.errs[0].ErrorCode)
}

func TestGenerateWithToolsStopStringTruncatesVisibleText(t *testing.T) {
	orch, _ := newOrchestrator(t, "Hi there<end_of_turn>ignored continuation")
	rec, sinks := newRecordingSinks()

	orch.GenerateWithTools(context.Background(), "hi", weatherTool, catalogText, toolexec.NewFakeExecutor(), defaultConfig(), sinks)

	require.True(t, rec.doneCalled)
	require.Equal(t, "Hi there", rec.text())
	require.NotContains(t, rec.text(), "end_of_turn")
	require.NotContains(t, rec.text(), "ignored")
}

func TestGenerateWithToolsCancellationEndsTurn(t *testing.T) {
	orch, _ := newOrchestrator(t, "this will not finish streaming")
	rec, sinks := newRecordingSinks()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch.GenerateWithTools(ctx, "hi", weatherTool, catalogText, toolexec.NewFakeExecutor(), defaultConfig(), sinks)

	require.True(t, rec.doneCalled)
	require.Empty(t, rec.errs)
}
