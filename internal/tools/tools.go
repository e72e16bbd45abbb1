// Package tools manages the function-calling surface offered to the language
// model: in-process builtins plus tools imported from external MCP servers.
//
// One Registry serves all calls. Per-call effects (like end_call hanging up
// the right call) travel through the execution context, not the registry.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Result holds the outcome of a single tool execution.
type Result struct {
	// Content is the tool's textual output, fed back to the model as a
	// tool-role message.
	Content string

	// IsError marks an application-level failure; Content then carries the
	// error message. Transport failures surface as Go errors instead.
	IsError bool

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Handler is an in-process tool implementation. args is a JSON object string
// ("{}" for parameter-less tools).
type Handler func(ctx context.Context, args string) (string, error)

// localTool pairs a definition with its in-process handler.
type localTool struct {
	def     types.ToolDefinition
	handler Handler
}

// Registry is the concurrent-safe tool catalogue. Builtins and MCP-imported
// tools share one namespace; later registrations replace earlier ones.
type Registry struct {
	mu      sync.RWMutex
	local   map[string]localTool
	remote  map[string]remoteTool
	servers map[string]*serverConn
	client  mcpClient
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		local:   make(map[string]localTool),
		remote:  make(map[string]remoteTool),
		servers: make(map[string]*serverConn),
		client:  newMCPClient(),
	}
}

// RegisterBuiltin adds an in-process tool. A tool with the same name is
// replaced.
func (r *Registry) RegisterBuiltin(def types.ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tools: builtin must have a non-empty name")
	}
	if handler == nil {
		return fmt.Errorf("tools: builtin %q must have a non-nil handler", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[def.Name] = localTool{def: def, handler: handler}
	return nil
}

// Definitions returns every registered tool's definition, for inclusion in a
// completion request.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.local)+len(r.remote))
	for _, t := range r.local {
		defs = append(defs, t.def)
	}
	for _, t := range r.remote {
		defs = append(defs, t.def)
	}
	return defs
}

// Execute runs the named tool. A non-nil *Result is returned even when
// Result.IsError is true; a Go error means the tool is unknown or its
// transport failed.
func (r *Registry) Execute(ctx context.Context, name, args string) (*Result, error) {
	r.mu.RLock()
	lt, isLocal := r.local[name]
	rt, isRemote := r.remote[name]
	r.mu.RUnlock()

	start := time.Now()
	var res *Result
	var err error

	switch {
	case isLocal:
		res, err = executeLocal(ctx, lt, args)
	case isRemote:
		res, err = r.executeRemote(ctx, rt, args)
	default:
		return nil, fmt.Errorf("tools: tool %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func executeLocal(ctx context.Context, t localTool, args string) (*Result, error) {
	output, err := t.handler(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: output}, nil
}

// Close disconnects every MCP server.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, conn := range r.servers {
		if err := conn.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close server %q: %w", name, err)
		}
		delete(r.servers, name)
	}
	return firstErr
}
