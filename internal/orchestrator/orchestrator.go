// Package orchestrator implements the multi-turn tool-calling loop (C5):
// it assembles the message history, drives per-round generation through
// the decoder, routes decoded bytes to the tool-call detector and the
// caller's sinks, dispatches tool execution, and enforces the round
// budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"toolrunner/engine/internal/argschema"
	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/chattemplate"
	"toolrunner/engine/internal/decoder"
	"toolrunner/engine/internal/detector"
	"toolrunner/engine/internal/errinfo"
	"toolrunner/engine/internal/grammarmgr"
	"toolrunner/engine/internal/ident"
	"toolrunner/engine/internal/logging"
	"toolrunner/engine/internal/reframe"
	"toolrunner/engine/internal/toolexec"
	"toolrunner/engine/internal/tracing"
)

// Config bounds and parameterizes one generate_with_tools call.
type Config struct {
	MaxRounds        int
	MaxTokensPerTurn int
	SystemPreamble   string
	// StopStrings are appended to chattemplate.KnownStopStrings for this
	// call; leave nil to use only the known set.
	StopStrings []string
	Sampler     decoder.SamplerParams
}

// Sinks are the caller-supplied callbacks the orchestrator drives.
// Invoked synchronously on the caller's goroutine.
type Sinks struct {
	OnToken            func(string)
	OnToolCallDetected func(chatmodel.ToolCall)
	OnError            func(*errinfo.ErrorInfo)
	OnDone             func(string)
}

// Orchestrator drives one conversation's generate_with_tools calls
// against a single decoder backend and grammar lifecycle manager. It is
// single-threaded cooperative per the spec's concurrency model: callers
// wanting concurrent conversations must serialize calls externally.
type Orchestrator struct {
	backend decoder.Backend
	grammar *grammarmgr.Manager
	schemas *argschema.Registry
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker[roundOutput]
}

// New constructs an Orchestrator. schemas may be nil to skip the
// structural argument-validation diagnostic.
func New(backend decoder.Backend, grammar *grammarmgr.Manager, schemas *argschema.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	breaker := gobreaker.NewCircuitBreaker[roundOutput](gobreaker.Settings{
		Name:        "decoder-round",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("orchestrator.breaker_state_change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Orchestrator{backend: backend, grammar: grammar, schemas: schemas, logger: logger, breaker: breaker}
}

// roundOutput is what one decoder round produces, independent of what
// the orchestrator does with it afterward.
type roundOutput struct {
	visibleText   string
	toolCandidate []byte
	hadCandidate  bool
	canceled      bool
}

// GenerateWithTools runs a complete user turn: compose messages, drive
// rounds until the model emits plain text, a parse failure occurs, the
// round budget is exhausted, or ctx is canceled.
func (o *Orchestrator) GenerateWithTools(ctx context.Context, userMsg string, tools []chatmodel.ParsedTool, catalogText string, executor toolexec.Executor, cfg Config, sinks Sinks) {
	if warning := o.grammar.UpdateIfNeeded(catalogText, tools); warning != nil {
		o.logger.Warn("orchestrator.grammar_build_failed", zap.String("detail", warning.Detail))
	}

	stopStrings := append(append([]string{}, chattemplate.KnownStopStrings()...), cfg.StopStrings...)

	messages := []chatmodel.Message{
		{Role: "system", Content: buildSystemPreamble(cfg.SystemPreamble, catalogText)},
		{Role: "user", Content: userMsg},
	}

	var accumulated strings.Builder

	for round := 0; round < cfg.MaxRounds; round++ {
		roundCtx, span := tracing.StartSpan(ctx, "orchestrator.round", trace.WithAttributes(tracing.IntAttr("round", round)))

		o.grammar.ResetGrammar()
		result, err := o.breaker.Execute(func() (roundOutput, error) {
			return o.runRound(roundCtx, messages, cfg, stopStrings, sinks)
		})
		if err != nil {
			tracing.RecordError(span, err)
			span.End()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				sinks.OnError(errinfo.DecoderUnavailable(err.Error()))
			} else {
				sinks.OnError(errinfo.DecodeFailed(errinfo.SubphaseGenerate, err.Error()))
			}
			return
		}
		tracing.SetOK(span)
		span.End()

		if result.canceled {
			accumulated.WriteString(result.visibleText)
			sinks.OnDone(accumulated.String())
			return
		}

		accumulated.WriteString(result.visibleText)

		if !result.hadCandidate {
			sinks.OnDone(accumulated.String())
			return
		}

		envelope, ok := detector.Extract(result.toolCandidate)
		if !ok {
			sinks.OnError(errinfo.ToolCallParseFailed("", "detector buffered a candidate that did not parse as a tool call"))
			return
		}

		for _, call := range envelope.ToolCalls {
			call.ID = ident.New(time.Now())
			if o.schemas != nil {
				call.SchemaWarnings = o.schemas.Validate(call)
			}
			sinks.OnToolCallDetected(call)

			toolCtx, toolSpan := tracing.StartSpan(roundCtx, "orchestrator.tool_execute", trace.WithAttributes(tracing.StringAttr("tool.name", call.Function.Name)))
			toolResult, execErr := executor.Execute(toolCtx, call)
			if execErr != nil {
				tracing.RecordError(toolSpan, execErr)
				toolResult = chatmodel.ToolResult{ToolName: call.Function.Name, ResultPayload: execErr.Error(), IsError: true}
			} else {
				tracing.SetOK(toolSpan)
			}
			toolSpan.End()

			messages = append(messages,
				chatmodel.Message{Role: "assistant", ToolCalls: []chatmodel.ToolCall{call}},
				chatmodel.Message{Role: "tool", Content: toolResult.ResultPayload, ToolCallID: call.ID},
			)
		}
	}

	sinks.OnError(errinfo.RoundBudgetExceeded(cfg.MaxRounds))
}

// runRound performs one prefill-and-generate cycle: clear the KV cache,
// re-encode the full message history, compose a fresh sampler chain, and
// stream sampled tokens through UTF-8 re-framing, stop-string detection,
// and the tool-call detector until end-of-stream, a stop string, a
// complete tool-call candidate, or cancellation.
func (o *Orchestrator) runRound(ctx context.Context, messages []chatmodel.Message, cfg Config, stopStrings []string, sinks Sinks) (roundOutput, error) {
	prompt, err := o.backend.ApplyChatTemplate(toChatInput(messages))
	if err != nil {
		return roundOutput{}, err
	}
	if err := o.backend.ClearKVCache(); err != nil {
		return roundOutput{}, err
	}
	tokens, err := o.backend.Tokenize(prompt)
	if err != nil {
		return roundOutput{}, err
	}
	if err := o.backend.Decode(ctx, tokens); err != nil {
		return roundOutput{}, err
	}

	chain, err := o.grammar.ComposeChain(cfg.Sampler)
	if err != nil {
		return roundOutput{}, err
	}
	defer chain.Free()

	det := detector.New()
	reframer := reframe.New()

	var visible strings.Builder
	var pending string
	var out roundOutput

tokenLoop:
	for i := 0; i < cfg.MaxTokensPerTurn; i++ {
		if ctx.Err() != nil {
			out.canceled = true
			break
		}

		tok, err := chain.Sample(ctx)
		if err != nil {
			return roundOutput{}, err
		}
		if tok == decoder.EndOfStream {
			break
		}

		fragment, err := o.backend.Detokenize(tok)
		if err != nil {
			return roundOutput{}, err
		}
		complete := reframer.Feed(fragment)
		if len(complete) == 0 {
			continue
		}

		for _, b := range complete {
			if det.Accumulate([]byte{b}) {
				out.hadCandidate = true
				out.toolCandidate = append([]byte(nil), det.Buffered()...)
				det.Reset()
				break tokenLoop
			}
			if det.Collecting() {
				continue
			}

			pending += string(b)
			if stop, idx, found := chattemplate.FindStopString(pending, stopStrings); found {
				_ = stop
				visibleChunk := pending[:idx]
				if visibleChunk != "" {
					sinks.OnToken(visibleChunk)
					visible.WriteString(visibleChunk)
				}
				out.visibleText = visible.String()
				return out, nil
			}
			if safe := safeEmitLength(pending, stopStrings); safe > 0 {
				chunk := pending[:safe]
				sinks.OnToken(chunk)
				visible.WriteString(chunk)
				pending = pending[safe:]
			}
		}
	}

	if !out.hadCandidate {
		if flushed := reframer.Flush(); len(flushed) > 0 {
			pending += string(flushed)
		}
		if pending != "" {
			sinks.OnToken(pending)
			visible.WriteString(pending)
		}
	}
	out.visibleText = visible.String()
	return out, nil
}

// safeEmitLength returns the length of the prefix of text guaranteed not
// to be, or become, part of a configured stop string as more bytes
// arrive: text's length minus the longest suffix of text that is also a
// proper prefix of some stop string.
func safeEmitLength(text string, stops []string) int {
	longest := 0
	for _, s := range stops {
		if s == "" {
			continue
		}
		max := len(s) - 1
		if max > len(text) {
			max = len(text)
		}
		for l := max; l > 0; l-- {
			if strings.HasSuffix(text, s[:l]) {
				if l > longest {
					longest = l
				}
				break
			}
		}
	}
	return len(text) - longest
}

func buildSystemPreamble(instruction, catalogText string) string {
	var b strings.Builder
	if instruction != "" {
		b.WriteString(instruction)
		b.WriteString("\n\n")
	}
	b.WriteString(`When a tool call is required, respond with exactly one JSON object of the form {"tool_calls":[{"name":"...","arguments":{...}}]} and nothing else.`)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(catalogText)
	return b.String()
}

func toChatInput(messages []chatmodel.Message) []decoder.ChatMessageInput {
	out := make([]decoder.ChatMessageInput, len(messages))
	for i, m := range messages {
		content := m.Content
		if len(m.ToolCalls) > 0 {
			if raw, err := json.Marshal(chatmodel.ToolCallsEnvelope{ToolCalls: m.ToolCalls}); err == nil {
				content = string(raw)
			}
		}
		out[i] = decoder.ChatMessageInput{Role: m.Role, Content: content}
	}
	return out
}
