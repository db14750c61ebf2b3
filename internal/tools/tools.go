package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// Tool is the interface that all MCP tool implementations must satisfy
type Tool interface {
	// Definition returns the tool's definition for MCP registration
	Definition() mcp.Tool

	// Execute runs the tool against parsed arguments. Failures the caller
	// should see are returned as error results, not as Go errors.
	Execute(ctx context.Context, logger *logrus.Logger, args map[string]any) (*mcp.CallToolResult, error)
}

// IsReadOnly reports whether the tool declares itself free of side effects.
func IsReadOnly(tool Tool) bool {
	hint := tool.Definition().Annotations.ReadOnlyHint
	return hint != nil && *hint
}
