package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// TextResult wraps successful output.
func TextResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

// ErrorResult renders err as "Error: <message>" with the error flag set.
func ErrorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + err.Error())
}

// ResultText returns the text of the first content item.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return text.Text
}
