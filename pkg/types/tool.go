package types

import (
	"context"

	"github.com/edgeopslabs/manifold/pkg/config"
	"github.com/mark3labs/mcp-go/mcp"
)

// Module is a source of MCP tools. Init runs once at startup, before any
// tool is listed or called.
type Module interface {
	Name() string
	Init(ctx context.Context, cfg *config.Config) error
	GetTools() []mcp.Tool
	// Method reports the HTTP method backing a tool, used by the policy.
	Method(tool string) string
	HandleCall(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}
