package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/tools"
	"github.com/tidwall/gjson"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*MCPTool
}

// NewMCPClient starts the MCP server subprocess and lists the tools it offers.
func NewMCPClient(ctx context.Context, server config.MCPServer) (*MCPClient, error) {
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "ollama-code", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}

	c := &MCPClient{Name: server.Name, cmd: cmd, conn: conn}
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			c.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		for _, t := range list.Tools {
			c.tools = append(c.tools, newMCPTool(c, t))
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	slog.Info("mcp server started", "server", server.Name, "tools", len(c.tools))
	return c, nil
}

// Tools returns the tools offered by the server, in the order it listed them.
func (c *MCPClient) Tools() []*MCPTool {
	return c.tools
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		slog.Info("mcp server stopped", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool is a tool served by an external MCP server. It satisfies
// tools.Tool and is never auto-approved.
type MCPTool struct {
	spec   tools.Spec
	client *MCPClient
}

func newMCPTool(c *MCPClient, t *mcpsdk.Tool) *MCPTool {
	var params []tools.Param
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			params = paramsFromSchema(raw)
		}
	}
	return &MCPTool{
		spec: tools.Spec{
			Name:        t.Name,
			Description: fmt.Sprintf("%s (provided by MCP server '%s')", strings.TrimSpace(t.Description), c.Name),
			Params:      params,
		},
		client: c,
	}
}

func (t *MCPTool) Name() string { return t.spec.Name }
func (t *MCPTool) Spec() tools.Spec { return t.spec }
func (t *MCPTool) Server() string { return t.client.Name }

// Execute forwards the call to the MCP server. Transport and tool errors are
// returned as text so the conversation can continue.
func (t *MCPTool) Execute(ctx context.Context, env tools.Env, args tools.Args) tools.Result {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.spec.Name,
		Arguments: map[string]any(args),
	})
	if err != nil {
		return tools.Result{Text: fmt.Sprintf("Error calling MCP tool '%s': %v", t.spec.Name, err)}
	}

	var out strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	text := out.String()
	if result.IsError {
		text = "Error: " + text
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.Result{Text: text}
}

// paramsFromSchema reads the top-level properties of a JSON schema object.
// Required parameters come first, then the rest, each group sorted by name,
// so the prompt is stable across runs.
func paramsFromSchema(raw []byte) []tools.Param {
	required := map[string]bool{}
	for _, r := range gjson.GetBytes(raw, "required").Array() {
		required[r.String()] = true
	}

	var params []tools.Param
	gjson.GetBytes(raw, "properties").ForEach(func(key, value gjson.Result) bool {
		typ := value.Get("type").String()
		if typ == "" {
			typ = "any"
		}
		params = append(params, tools.Param{
			Name:        key.String(),
			Type:        typ,
			Description: value.Get("description").String(),
			Required:    required[key.String()],
		})
		return true
	})

	sort.SliceStable(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params
}

// RegisterServers starts every configured server and registers its tools.
// A server that fails to start is logged and skipped; the returned clients
// must be stopped by the caller.
func RegisterServers(ctx context.Context, servers []config.MCPServer, registry *tools.ToolRegistry) []*MCPClient {
	var clients []*MCPClient
	for _, server := range servers {
		c, err := NewMCPClient(ctx, server)
		if err != nil {
			slog.Error("mcp server unavailable", "server", server.Name, "error", err)
			fmt.Fprintf(os.Stderr, "Warning: MCP server '%s' unavailable: %v\n", server.Name, err)
			continue
		}
		for _, t := range c.Tools() {
			if err := registry.Register(t); err != nil {
				slog.Warn("mcp tool not registered", "server", server.Name, "tool", t.Name(), "error", err)
			}
		}
		clients = append(clients, c)
	}
	return clients
}
