package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/genieq/internal/logger"
)

// ToolManager manages the available tools
type ToolManager struct {
	tools  map[string]Tool
	logger *slog.Logger
}

// NewToolManager creates a new ToolManager
func NewToolManager(log *slog.Logger) *ToolManager {
	return &ToolManager{
		tools:  make(map[string]Tool),
		logger: logger.Or(log),
	}
}

// RegisterTool registers a new tool
func (m *ToolManager) RegisterTool(tool Tool) {
	m.tools[tool.Name()] = tool
}

// List returns all registered tools sorted by name
func (m *ToolManager) List() []Tool {
	ts := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name() < ts[j].Name() })
	return ts
}

// GetTool retrieves a tool by name
func (m *ToolManager) GetTool(name string) (Tool, error) {
	tool, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// Handle runs the tool named in req. Tool failures are reported to the
// client as error results, not protocol errors.
func (m *ToolManager) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name
	tool, err := m.GetTool(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m.logger.Info("tool call", "tool", name)
	out, err := tool.Run(ctx, req.GetArguments())
	if err != nil {
		m.logger.Warn("tool call failed", "tool", name, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

// NewServer builds an MCP server advertising every registered tool.
func (m *ToolManager) NewServer(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, t := range m.List() {
		s.AddTool(t.Definition(), m.Handle)
	}
	return s
}

// ServeStdio serves the tools over stdin/stdout until the client disconnects.
func (m *ToolManager) ServeStdio(name, version string) error {
	return server.ServeStdio(m.NewServer(name, version))
}
