package telemetry

// Attribute names follow the MCP observability conventions.
const (
	AttrMCPToolName    = "mcp.tool.name"
	AttrMCPToolSuccess = "mcp.tool.result.success"
	AttrMCPToolError   = "mcp.tool.result.error"
	AttrMCPToolArgs    = "mcp.tool.arguments"
	AttrMCPToolArgsCut = "mcp.tool.arguments.truncated"
	AttrMCPTransport   = "mcp.transport"
)

// SpanNameToolExecute names the span wrapping one tool call.
const SpanNameToolExecute = "mcp.tool.execute"

// Metric instrument names.
const (
	MetricToolCalls    = "mcp.tool.calls"
	MetricToolErrors   = "mcp.tool.errors"
	MetricToolDuration = "mcp.tool.duration"
)
