package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
)

// Client is the orchestrator's MCP client port. It connects to exactly one
// browser-automation MCP server for the lifetime of a run.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []MCPTool
	serverInfo ServerInfo
}

// NewClient constructs a Client against cfg. Connect must be called before
// ListTools or CallTool.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("mcp_server", cfg.ID),
	}
}

// Connect performs the transport connect, the initialize handshake, and an
// initial tools/list to populate the tool cache. A failed transport connect
// or initialize call is an MCPConnectionError; an unparseable initialize
// result or a failed tools/list is an MCPProtocolError. Either is fatal for
// the run — there is no retry budget here.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return orcherrors.NewMCPConnectionError("connecting transport", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "subterm-orchestrator",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return orcherrors.NewMCPConnectionError("initialize handshake", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return orcherrors.NewMCPProtocolError("parsing initialize result", err)
	}
	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.ListTools(ctx); err != nil {
		c.transport.Close()
		return err
	}

	return nil
}

// ListTools fetches and caches the server's current tool catalog. It
// returns only an error; the refreshed catalog is read through Tools(),
// which callers that only need the cached value should call directly.
func (c *Client) ListTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return orcherrors.NewMCPProtocolError("listing tools", err)
	}

	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return orcherrors.NewMCPProtocolError("parsing tools/list result", err)
	}

	for _, tool := range resp.Tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		if err := validateToolSchema(tool.Name, tool.InputSchema); err != nil {
			return orcherrors.NewMCPProtocolError(fmt.Sprintf("tool %q advertised a malformed input_schema", tool.Name), err)
		}
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()

	c.logger.Debug("refreshed tool catalog", "count", len(resp.Tools))
	return nil
}

// Tools returns the cached tool catalog from the last successful
// Connect/ListTools call.
func (c *Client) Tools() []MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]MCPTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a named MCP tool with the given arguments and returns the
// concatenated text of its result content. A result with IsError=true, or a
// failed call over a transport that is still connected, is reported as an
// MCPToolCallError naming the tool — this is a non-fatal class the task
// runner can recover from by continuing the conversation. A failed call
// after which the transport is no longer connected is reported as an
// MCPConnectionError, which the task runner treats as fatal.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", orcherrors.NewMCPToolCallError(name, "marshaling tool arguments", err)
	}

	params := callToolParams{Name: name, Arguments: argsJSON}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		if !c.transport.Connected() {
			return "", orcherrors.NewMCPConnectionError(fmt.Sprintf("calling tool %q: transport no longer connected", name), err)
		}
		return "", orcherrors.NewMCPToolCallError(name, "calling tool", err)
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", orcherrors.NewMCPProtocolError(fmt.Sprintf("parsing result of tool %q", name), err)
	}

	text := formatToolCallResult(callResult)
	if callResult.IsError {
		return text, orcherrors.NewMCPToolCallError(name, "tool reported an error", fmt.Errorf("%s", text))
	}
	return text, nil
}

// Close shuts down the transport. Close is idempotent: calling it more than
// once, or on a Client that never connected, is not an error.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	if err := c.transport.Close(); err != nil {
		return orcherrors.NewMCPConnectionError("closing transport", err)
	}
	return nil
}

// ServerInfo returns the identity the server reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// validateToolSchema confirms raw compiles as a JSON Schema document. It
// does not cache the compiled schema — mcporch's catalog compiles and caches
// schemas it actually validates arguments against; this check exists only to
// reject a malformed server-advertised schema as early as tools/list.
func validateToolSchema(name string, raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return err
	}
	_, err := compiler.Compile(name)
	return err
}

func formatToolCallResult(result ToolCallResult) string {
	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(raw)
}
