// Package stub provides an in-memory Launcher/Caller pair for exercising
// the engine without a real MCP transport: local development and the demo
// command wire this in place of a network-backed implementation.
package stub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskforge/agentcore/mcp"
)

// Tool is one canned tool response keyed by name.
type Tool struct {
	Result json.RawMessage
	Err    error
}

// Server is an in-process stand-in for one MCP server's tool set.
type Server struct {
	Tools map[string]Tool
}

// Launcher implements mcp.Launcher against a fixed set of in-process
// servers; every (user, mcp) pair launches successfully as long as the
// server name is registered.
type Launcher struct {
	Servers map[string]*Server
}

// New returns a Launcher with no servers registered; call Register to add
// one.
func New() *Launcher {
	return &Launcher{Servers: make(map[string]*Server)}
}

// Register adds or replaces the canned server named name.
func (l *Launcher) Register(name string, srv *Server) {
	l.Servers[name] = srv
}

func (l *Launcher) Launch(_ context.Context, _, mcpName string, _ map[string]string) (any, error) {
	srv, ok := l.Servers[mcpName]
	if !ok {
		return nil, fmt.Errorf("stub: no server registered for %q", mcpName)
	}
	return srv, nil
}

func (l *Launcher) Probe(_ context.Context, _ any) error {
	return nil
}

// Caller implements mcp.Caller against the same in-process servers,
// returning each registered tool's canned result or error.
type Caller struct{}

func (Caller) CallTool(_ context.Context, handle any, req mcp.CallRequest) (mcp.CallResponse, error) {
	srv, ok := handle.(*Server)
	if !ok {
		return mcp.CallResponse{}, fmt.Errorf("stub: handle for %q is not a stub server", req.Server)
	}
	tool, ok := srv.Tools[req.Tool]
	if !ok {
		return mcp.CallResponse{}, fmt.Errorf("stub: %q has no tool %q", req.Server, req.Tool)
	}
	if tool.Err != nil {
		return mcp.CallResponse{}, tool.Err
	}
	return mcp.CallResponse{Result: tool.Result}, nil
}
