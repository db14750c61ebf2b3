// Package server exposes the registered tools over an MCP transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/sammcj/mcp-filesystem/internal/metrics"
	"github.com/sammcj/mcp-filesystem/internal/registry"
	"github.com/sammcj/mcp-filesystem/internal/telemetry"
	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sirupsen/logrus"
)

// Supported transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

const (
	DefaultEndpointPath      = "/mcp"
	DefaultHeartbeatInterval = 30 * time.Second
	shutdownTimeout          = 30 * time.Second
)

// Options configures the MCP server and its transport.
type Options struct {
	Name              string
	Version           string
	Transport         string
	Port              string
	BaseURL           string
	EndpointPath      string
	AuthToken         string
	HeartbeatInterval time.Duration
	// Tracer wraps each tool call in a span when set.
	Tracer *telemetry.Tracer
	// Metrics records OTLP tool call metrics when set.
	Metrics *telemetry.Metrics
}

// Server wraps an MCP server built from a tool registry.
type Server struct {
	mcp    *mcpserver.MCPServer
	opts   Options
	logger *logrus.Logger
}

// New creates the MCP server and registers every tool in reg.
func New(reg *registry.Registry, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Name == "" {
		opts.Name = "mcp-filesystem"
	}
	if opts.EndpointPath == "" {
		opts.EndpointPath = DefaultEndpointPath
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}

	srv := mcpserver.NewMCPServer(opts.Name, opts.Version, mcpserver.WithToolCapabilities(false))
	for _, tool := range reg.Tools() {
		if opts.Transport != TransportStdio {
			logger.Infof("Registering tool: %s", tool.Definition().Name)
		}
		srv.AddTool(tool.Definition(), toolHandler(tool, logger, opts.Tracer, opts.Metrics, opts.Transport))
	}
	logger.WithField("tool_count", len(reg.Names())).Debug("MCP server created")

	return &Server{mcp: srv, opts: opts, logger: logger}
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Run serves the configured transport until it fails or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithField("transport", s.opts.Transport).Debug("Starting server")

	switch s.opts.Transport {
	case TransportStdio, "":
		return mcpserver.ServeStdio(s.mcp)
	case TransportSSE:
		s.logger.WithField("port", s.opts.Port).Debug("Starting SSE server")
		sseServer := mcpserver.NewSSEServer(s.mcp, mcpserver.WithBaseURL(s.opts.BaseURL+"/sse"))
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sseServer.Shutdown(shutdownCtx); err != nil {
				s.logger.WithError(err).Warn("SSE server shutdown failed")
			}
		}()
		if err := sseServer.Start(":" + s.opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case TransportHTTP:
		return s.runStreamableHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport: %s", s.opts.Transport)
	}
}

// Handler returns the streamable HTTP handler mounted at the endpoint path.
func (s *Server) Handler() http.Handler {
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(s.opts.EndpointPath),
		mcpserver.WithHeartbeatInterval(s.opts.HeartbeatInterval),
		mcpserver.WithLogger(&logrusAdapter{logger: s.logger}),
	)

	mux := http.NewServeMux()
	handler := authMiddleware(s.opts.AuthToken, s.logger, httpServer)
	mux.Handle(s.opts.EndpointPath, s.opts.Tracer.WrapHandler(handler, "mcp.http"))
	return mux
}

func (s *Server) runStreamableHTTP(ctx context.Context) error {
	s.logger.Infof("Starting Streamable HTTP server on port %s with endpoint %s", s.opts.Port, s.opts.EndpointPath)
	s.logger.Infof("Heartbeat interval: %v", s.opts.HeartbeatInterval)
	if s.opts.AuthToken != "" {
		s.logger.Info("Bearer token authentication enabled")
	}

	server := &http.Server{
		Addr:           ":" + s.opts.Port,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return ListenAndServe(ctx, server, s.logger)
}

// ListenAndServe runs server until it fails or ctx is cancelled, then shuts
// it down gracefully.
func ListenAndServe(ctx context.Context, server *http.Server, logger *logrus.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server on %s failed: %w", server.Addr, err)
	case <-ctx.Done():
		logger.WithField("addr", server.Addr).Info("Shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
		return err
	}
	logger.WithField("addr", server.Addr).Info("HTTP server stopped gracefully")
	return nil
}

// ServeMetrics exposes the Prometheus registry on addr at /metrics.
func ServeMetrics(ctx context.Context, addr string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithField("addr", addr).Info("Serving metrics")
	return ListenAndServe(ctx, server, logger)
}

// toolHandler adapts a tool to an MCP handler. Argument and execution
// failures become error results so that the protocol layer only ever sees
// successful responses.
func toolHandler(tool tools.Tool, logger *logrus.Logger, tracer *telemetry.Tracer, meter *telemetry.Metrics, transport string) mcpserver.ToolHandlerFunc {
	name := tool.Definition().Name

	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		start := time.Now()
		args, isMap := request.Params.Arguments.(map[string]any)
		ctx, span := tracer.StartToolSpan(ctx, name, transport, args)
		defer func() {
			var spanErr error
			if result != nil && result.IsError {
				spanErr = errors.New(tools.ResultText(result))
			}
			telemetry.EndToolSpan(span, spanErr)
			meter.RecordToolCall(ctx, name, transport, time.Since(start), spanErr != nil)
		}()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"tool":  name,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Tool panicked")
				result = tools.ErrorResult(fserr.IO("run", name, fmt.Errorf("internal error: %v", r)))
				err = nil
			}
		}()

		if !isMap && request.Params.Arguments != nil {
			return tools.ErrorResult(fserr.InvalidArguments("invalid arguments type: expected object, got %T", request.Params.Arguments)), nil
		}
		if args == nil {
			args = map[string]any{}
		}

		result, err = tool.Execute(ctx, logger, args)
		if err != nil {
			logger.WithError(err).Errorf("Tool execution failed: %s", name)
			return tools.ErrorResult(err), nil
		}
		return result, nil
	}
}

// logrusAdapter adapts logrus.Logger to the mcp-go util.Logger interface
type logrusAdapter struct {
	logger *logrus.Logger
}

func (l *logrusAdapter) Debugf(format string, args ...any) {
	l.logger.Debugf(format, args...)
}

func (l *logrusAdapter) Infof(format string, args ...any) {
	l.logger.Infof(format, args...)
}

func (l *logrusAdapter) Warnf(format string, args ...any) {
	l.logger.Warnf(format, args...)
}

func (l *logrusAdapter) Errorf(format string, args ...any) {
	l.logger.Errorf(format, args...)
}
