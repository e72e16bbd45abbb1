package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Transport selects how an MCP server is reached.
type Transport string

const (
	// TransportStdio spawns the server as a subprocess speaking MCP over
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a remote MCP endpoint, e.g. an n8n
	// workflow exposed as an MCP server.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server to import tools from.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Unique per registry.
	Name string

	// Transport selects the connection mechanism.
	Transport Transport

	// Command is the executable plus arguments for stdio transport.
	Command string

	// URL is the endpoint for streamable-http transport.
	URL string

	// Env holds extra environment variables for a stdio server process.
	Env map[string]string
}

// remoteTool is a tool imported from an MCP server.
type remoteTool struct {
	def        types.ToolDefinition
	serverName string
}

// serverConn holds a live MCP session.
type serverConn struct {
	session *mcpsdk.ClientSession
}

func (c *serverConn) close() error { return c.session.Close() }

// mcpClient is the SDK client shared by every server connection.
type mcpClient = *mcpsdk.Client

func newMCPClient() mcpClient {
	return mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "talkwire", Version: "1.0.0"},
		nil,
	)
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. Re-registering a name closes the old connection and drops
// its tools first.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.servers[cfg.Name]; ok {
		_ = old.close()
		for name, t := range r.remote {
			if t.serverName == cfg.Name {
				delete(r.remote, name)
			}
		}
	}
	r.servers[cfg.Name] = &serverConn{session: session}

	for _, t := range discovered {
		r.remote[t.Name] = remoteTool{
			def:        toolDefinition(t),
			serverName: cfg.Name,
		}
	}
	return nil
}

// executeRemote routes a call to the owning server session and concatenates
// the textual content of the reply.
func (r *Registry) executeRemote(ctx context.Context, t remoteTool, args string) (*Result, error) {
	r.mu.RLock()
	conn, ok := r.servers[t.serverName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tools: server %q not found for tool %q", t.serverName, t.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("tools: invalid args JSON for tool %q: %w", t.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: call to tool %q failed: %w", t.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &Result{Content: sb.String(), IsError: callResult.IsError}, nil
}

// toolDefinition converts an SDK tool descriptor into the model-facing form.
func toolDefinition(t mcpsdk.Tool) types.ToolDefinition {
	params := map[string]any{}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			_ = json.Unmarshal(raw, &params)
		}
	}
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// splitCommand splits "executable arg1 arg2" on spaces.
func splitCommand(command string) (executable string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
