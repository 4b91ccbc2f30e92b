// Package mcpsource lists tools from a Model Context Protocol server and
// adapts each mcp.Tool into the parsed-tool-list shape toolschema.Parse
// produces from literal JSON, so C2-C5 are unaware of the catalog's
// origin. This is additive to, never a replacement of, the literal-JSON
// tool-catalog path.
package mcpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/logging"
	"toolrunner/engine/internal/toolschema"
)

// mcpClient abstracts the subset of mcp-go's client interface this
// package depends on, so tests can supply a fake.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Source lists and calls tools exposed by a single MCP server over
// stdio.
type Source struct {
	client mcpClient
	logger *zap.Logger
}

// DialStdio spawns command as an MCP server subprocess and initializes
// the connection.
func DialStdio(ctx context.Context, command string, args, env []string, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	c, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("mcpsource: dial stdio: %w", err)
	}
	src := &Source{client: c, logger: logger}
	if err := src.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return src, nil
}

func newWithClient(c mcpClient, logger *zap.Logger) *Source {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Source{client: c, logger: logger}
}

func (s *Source) initialize(ctx context.Context) error {
	type initializer interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}
	ic, ok := s.client.(initializer)
	if !ok {
		return nil
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "toolrunner-engine", Version: "1.0.0"}
	_, err := ic.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("mcpsource: initialize: %w", err)
	}
	return nil
}

// ListTools discovers the server's tools and adapts each one into a
// chatmodel.ParsedTool. A tool whose input schema can't be adapted is
// skipped rather than failing the whole listing.
func (s *Source) ListTools(ctx context.Context) ([]chatmodel.ParsedTool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcpsource: list tools: %w", err)
	}
	tools := make([]chatmodel.ParsedTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tool, ok := adaptTool(t)
		if !ok {
			s.logger.Warn("mcpsource.tool_skipped", zap.String("tool", t.Name))
			continue
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// Call invokes name on the MCP server with args and returns a tool
// result in the same shape toolexec.Executor returns.
func (s *Source) Call(ctx context.Context, name string, args map[string]any) (chatmodel.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return chatmodel.ToolResult{}, fmt.Errorf("mcpsource: call tool %q: %w", name, err)
	}
	return chatmodel.ToolResult{
		ToolName:      name,
		ResultPayload: extractContent(result),
		IsError:       result.IsError,
	}, nil
}

func (s *Source) Close() error {
	return s.client.Close()
}

// extractContent flattens an MCP call result's content blocks into a
// single string, preferring text content and falling back to a JSON
// rendering of anything else.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n")
}

// adaptTool converts an mcp.Tool's JSON-Schema input shape into a
// ParsedTool by round-tripping through toolschema's own entry parser,
// so MCP-sourced tools share exactly the same parsing rules as
// literal-JSON ones.
func adaptTool(t mcp.Tool) (chatmodel.ParsedTool, bool) {
	params, err := json.Marshal(t.InputSchema)
	if err != nil {
		return chatmodel.ParsedTool{}, false
	}
	entry := struct {
		Type     string `json:"type"`
		Function struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"function"`
	}{Type: "function"}
	entry.Function.Name = t.Name
	entry.Function.Description = t.Description
	entry.Function.Parameters = params

	raw, err := json.Marshal([]any{entry})
	if err != nil {
		return chatmodel.ParsedTool{}, false
	}
	parsed := toolschema.Parse(raw)
	if len(parsed) != 1 {
		return chatmodel.ParsedTool{}, false
	}
	return parsed[0], true
}
