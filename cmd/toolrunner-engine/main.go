package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolrunner/engine/internal/appdirs"
	"toolrunner/engine/internal/argschema"
	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/config"
	"toolrunner/engine/internal/decoder"
	"toolrunner/engine/internal/envfile"
	"toolrunner/engine/internal/envutil"
	"toolrunner/engine/internal/errinfo"
	"toolrunner/engine/internal/grammar"
	"toolrunner/engine/internal/grammarmgr"
	"toolrunner/engine/internal/ident"
	"toolrunner/engine/internal/logging"
	"toolrunner/engine/internal/mcpsource"
	"toolrunner/engine/internal/orchestrator"
	"toolrunner/engine/internal/rpc"
	"toolrunner/engine/internal/toolexec"
	"toolrunner/engine/internal/toolschema"
	"toolrunner/engine/internal/tracing"
)

const apiVersion = "1.0"

var (
	flagModelPath  string
	flagToolWorker string
	flagDebug      bool
	flagTracer     string
	flagConfigPath string
	flagMCPCommand string
)

func main() {
	root := &cobra.Command{
		Use:           "toolrunner-engine",
		Short:         "On-device LLM tool-calling orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagModelPath, "model", "", "path to a GGUF model (cgo builds only; omit to use the in-memory fake backend)")
	root.PersistentFlags().StringVar(&flagToolWorker, "tool-worker", "", "command to spawn as the subprocess tool executor (space-separated)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", envutil.Bool("TOOLRUNNER_DEBUG"), "enable file logging")
	root.PersistentFlags().StringVar(&flagTracer, "tracer", "noop", "tracing exporter: noop or stdout")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config.yaml (defaults under the data dir)")
	root.PersistentFlags().StringVar(&flagMCPCommand, "mcp-server", "", "command to spawn as a supplemental Model Context Protocol tool source (space-separated)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newGrammarCmd())
	root.AddCommand(newChatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engineState wires together everything a generate_with_tools call
// needs. The orchestrator itself is single-threaded cooperative, so
// engineState serializes calls with mu.
type engineState struct {
	mu       sync.Mutex
	backend  decoder.Backend
	mgr      *grammarmgr.Manager
	executor toolexec.Executor
	cfgStore *config.Store
	mcp      *mcpsource.Source
	logger   *zap.Logger
}

// supplementalTools lists whatever an MCP source currently exposes, for
// merging into a request's literal tool catalog. Failures are logged and
// treated as "no supplemental tools", since the literal catalog remains
// fully usable on its own.
func (s *engineState) supplementalTools(ctx context.Context) []chatmodel.ParsedTool {
	if s.mcp == nil {
		return nil
	}
	tools, err := s.mcp.ListTools(ctx)
	if err != nil {
		s.logger.Warn("engine.mcp_list_tools_failed", zap.Error(err))
		return nil
	}
	return tools
}

func bootstrap(cmdName string) (*engineState, func(), error) {
	envResult := envfile.Load()
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve data dir: %w", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, flagDebug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(zap.String("component", cmdName))
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", zap.String("path", envResult.Path), zap.Error(envResult.Err))
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", zap.Error(logErr))
	}

	shutdownTracing, err := tracing.Setup(flagTracer != "" && flagTracer != "noop", flagTracer)
	if err != nil {
		logger.Warn("engine.tracing_setup_failed", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDir, "config.yaml")
	}
	cfgStore := config.NewStore(cfgPath)
	cfg, err := cfgStore.Load()
	if err != nil {
		logger.Warn("engine.config_load_failed", zap.Error(err))
	}

	backend, err := selectBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	mode := decoder.GrammarLazy
	if cfg != nil && cfg.GrammarMode == config.GrammarModeStrict {
		mode = decoder.GrammarStrict
	}
	mgr := grammarmgr.New(backend, mode, logger.With(zap.String("component", "grammarmgr")))

	var executor toolexec.Executor = toolexec.NewFakeExecutor()
	if flagToolWorker != "" {
		executor = toolexec.NewSubprocessExecutor(splitCommand(flagToolWorker), "", logger.With(zap.String("component", "toolexec")))
	}

	var mcp *mcpsource.Source
	if flagMCPCommand != "" {
		parts := splitCommand(flagMCPCommand)
		mcp, err = mcpsource.DialStdio(context.Background(), parts[0], parts[1:], nil, logger.With(zap.String("component", "mcpsource")))
		if err != nil {
			logger.Warn("engine.mcp_dial_failed", zap.Error(err))
			mcp = nil
		} else {
			mcpTools, listErr := mcp.ListTools(context.Background())
			if listErr != nil {
				logger.Warn("engine.mcp_list_tools_failed", zap.Error(listErr))
			}
			names := make(map[string]bool, len(mcpTools))
			for _, t := range mcpTools {
				names[t.Name] = true
			}
			executor = &mcpRoutingExecutor{inner: executor, mcp: mcp, mcpNames: names}
		}
	}

	state := &engineState{
		backend:  backend,
		mgr:      mgr,
		executor: executor,
		cfgStore: cfgStore,
		mcp:      mcp,
		logger:   logger,
	}

	cleanup := func() {
		if logSetup.Close != nil {
			logSetup.Close()
		}
		_ = shutdownTracing(context.Background())
		mgr.Close()
		backend.Close()
		if mcp != nil {
			mcp.Close()
		}
	}
	return state, cleanup, nil
}

func selectBackend(cfg *config.Config) (decoder.Backend, error) {
	if flagModelPath == "" && (cfg == nil || cfg.ModelPath == "") {
		return decoder.NewFakeBackend(), nil
	}
	modelPath := flagModelPath
	if modelPath == "" {
		modelPath = cfg.ModelPath
	}
	backend, err := decoder.NewProductionBackend(decoder.LoadOptions{ModelPath: modelPath, ContextSize: 4096})
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", modelPath, err)
	}
	return backend, nil
}

func samplerParams(cfg *config.Config) decoder.SamplerParams {
	return decoder.SamplerParams{
		Temperature: float64(cfg.Sampler.Temperature),
		TopK:        int(cfg.Sampler.TopK),
		TopP:        float64(cfg.Sampler.TopP),
		MinP:        float64(cfg.Sampler.MinP),
		Seed:        int64(cfg.Sampler.Seed),
	}
}

// generateParams is the wire shape of the engine's one RPC method.
type generateParams struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message"`
	Tools     json.RawMessage `json:"tools"`
	MaxRounds int             `json:"max_rounds,omitempty"`
}

type generateEvent struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	Text      string              `json:"text,omitempty"`
	ToolCall  *chatmodel.ToolCall `json:"tool_call,omitempty"`
}

func (s *engineState) generateWithTools(ctx context.Context, raw json.RawMessage, notify func(string, any)) (any, *errinfo.ErrorInfo) {
	var params generateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errinfo.CatalogInvalidSchema("invalid request params: " + err.Error())
	}
	if len(params.Tools) == 0 {
		return nil, errinfo.CatalogEmpty()
	}
	tools := toolschema.Parse(params.Tools)
	if len(tools) == 0 {
		return nil, errinfo.CatalogInvalidSchema("no valid tool entries in catalog")
	}
	schemas, err := argschema.Compile(params.Tools)
	if err != nil {
		s.logger.Warn("engine.argschema_compile_failed", zap.Error(err))
		schemas = nil
	}

	catalogText := string(params.Tools)
	if mcpTools := s.supplementalTools(ctx); len(mcpTools) > 0 {
		tools = append(tools, mcpTools...)
		if extra, err := json.Marshal(mcpTools); err == nil {
			catalogText += "\n" + string(extra)
		}
	}

	cfg, err := s.cfgStore.Load()
	if err != nil {
		return nil, errinfo.ConfigLoadFailed(err.Error())
	}
	maxRounds := cfg.RoundBudget
	if params.MaxRounds > 0 {
		maxRounds = params.MaxRounds
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	orch := orchestrator.New(s.backend, s.mgr, schemas, s.logger)

	var finalErr *errinfo.ErrorInfo
	var finalText string
	sinks := orchestrator.Sinks{
		OnToken: func(text string) {
			notify("ToolRunnerEvent", generateEvent{Type: "token", SessionID: params.SessionID, Text: text})
		},
		OnToolCallDetected: func(call chatmodel.ToolCall) {
			notify("ToolRunnerEvent", generateEvent{Type: "tool_call", SessionID: params.SessionID, ToolCall: &call})
		},
		OnError: func(e *errinfo.ErrorInfo) {
			e.SessionID = params.SessionID
			finalErr = e
		},
		OnDone: func(text string) {
			finalText = text
		},
	}

	orch.GenerateWithTools(ctx, params.Message, tools, catalogText, s.executor, orchestrator.Config{
		MaxRounds:        maxRounds,
		MaxTokensPerTurn: 4096,
		Sampler:          samplerParams(cfg),
		StopStrings:      cfg.StopStrings,
	}, sinks)

	if finalErr != nil {
		return nil, finalErr
	}
	return map[string]string{"text": finalText}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a JSON-RPC 2.0 server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, cleanup, err := bootstrap("serve")
			if err != nil {
				return err
			}
			defer cleanup()

			server := rpc.NewServer(apiVersion, os.Stdin, os.Stdout, state.logger)
			server.Register("GenerateWithTools", func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
				result, errInfo := state.generateWithTools(ctx, params, server.Notify)
				if errInfo != nil {
					msg := errInfo.ErrorCode
					if errInfo.Detail != "" {
						msg = errInfo.Detail
					}
					return nil, &rpc.Error{Message: msg, Data: errInfo}
				}
				return result, nil
			})
			state.logger.Info("engine.serving", zap.String("api_version", apiVersion))
			return server.Serve(cmd.Context())
		},
	}
}

func newGrammarCmd() *cobra.Command {
	grammarCmd := &cobra.Command{Use: "grammar", Short: "Grammar synthesis utilities"}
	var catalogPath string
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print the GBNF grammar synthesized for a tool catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(catalogPath)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			tools := toolschema.Parse(raw)
			if len(tools) == 0 {
				return fmt.Errorf("no valid tool entries found in %s", catalogPath)
			}
			fmt.Println(grammar.Synthesize(tools))
			return nil
		},
	}
	preview.Flags().StringVar(&catalogPath, "catalog", "", "path to a JSON tool catalog")
	preview.MarkFlagRequired("catalog")
	grammarCmd.AddCommand(preview)
	return grammarCmd
}

func newChatCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive single-turn tool-calling demo against stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, cleanup, err := bootstrap("chat")
			if err != nil {
				return err
			}
			defer cleanup()

			var tools []chatmodel.ParsedTool
			catalogText := "[]"
			if catalogPath != "" {
				raw, err := os.ReadFile(catalogPath)
				if err != nil {
					return fmt.Errorf("read catalog: %w", err)
				}
				tools = toolschema.Parse(raw)
				catalogText = string(raw)
			}
			if mcpTools := state.supplementalTools(cmd.Context()); len(mcpTools) > 0 {
				tools = append(tools, mcpTools...)
				if extra, err := json.Marshal(mcpTools); err == nil {
					catalogText += "\n" + string(extra)
				}
			}

			sessionID := ident.New(time.Now())
			fmt.Print("> ")
			userMsg, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && userMsg == "" {
				return nil
			}

			orch := orchestrator.New(state.backend, state.mgr, nil, state.logger)
			sinks := orchestrator.Sinks{
				OnToken: func(text string) { fmt.Print(text) },
				OnToolCallDetected: func(call chatmodel.ToolCall) {
					fmt.Printf("\n[tool call %s] %s(%s)\n", sessionID, call.Function.Name, call.Function.Arguments)
				},
				OnError: func(e *errinfo.ErrorInfo) { fmt.Printf("\n[error] %s: %s\n", e.ErrorCode, e.Detail) },
				OnDone:  func(text string) { fmt.Println() },
			}

			cfg, err := state.cfgStore.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			orch.GenerateWithTools(cmd.Context(), userMsg, tools, catalogText, state.executor, orchestrator.Config{
				MaxRounds:        cfg.RoundBudget,
				MaxTokensPerTurn: 4096,
				Sampler:          samplerParams(cfg),
				StopStrings:      cfg.StopStrings,
			}, sinks)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "optional path to a JSON tool catalog")
	return cmd
}

// mcpRoutingExecutor sends calls to tool names an MCP source advertised
// to that source, and everything else to inner. Arguments cross from the
// grammar-constrained JSON string form to the map form mcp-go expects.
type mcpRoutingExecutor struct {
	inner    toolexec.Executor
	mcp      *mcpsource.Source
	mcpNames map[string]bool
}

func (e *mcpRoutingExecutor) Execute(ctx context.Context, call chatmodel.ToolCall) (chatmodel.ToolResult, error) {
	if !e.mcpNames[call.Function.Name] {
		return e.inner.Execute(ctx, call)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return chatmodel.ToolResult{ToolName: call.Function.Name, ResultPayload: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	return e.mcp.Call(ctx, call.Function.Name, args)
}

func splitCommand(s string) []string {
	var parts []string
	var current []rune
	for _, r := range s {
		if r == ' ' {
			if len(current) > 0 {
				parts = append(parts, string(current))
				current = nil
			}
			continue
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		parts = append(parts, string(current))
	}
	return parts
}
