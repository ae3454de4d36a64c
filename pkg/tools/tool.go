// Package tools exposes data questions as MCP tools.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool is the interface for all tools
type Tool interface {
	Name() string
	// Definition is the MCP schema advertised to clients.
	Definition() mcp.Tool
	Run(ctx context.Context, args map[string]any) (string, error)
}

// stringArg reads an optional string argument.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
