package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	fscli "github.com/sammcj/mcp-filesystem/internal/cli"
	"github.com/sammcj/mcp-filesystem/internal/config"
	"github.com/sammcj/mcp-filesystem/internal/registry"
	"github.com/sammcj/mcp-filesystem/internal/sandbox"
	"github.com/sammcj/mcp-filesystem/internal/server"
	"github.com/sammcj/mcp-filesystem/internal/telemetry"
	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sammcj/mcp-filesystem/internal/tools/filesystem"
	"github.com/sammcj/mcp-filesystem/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup
var (
	debugLogFile atomic.Pointer[os.File]
	isStdioMode  atomic.Bool
)

const appName = "mcp-filesystem"

// parseLogLevel parses the LOG_LEVEL environment variable and returns the appropriate logrus level.
// Defaults to WarnLevel if not set or invalid.
func parseLogLevel() logrus.Level {
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return logrus.WarnLevel
	}

	switch strings.ToLower(strings.TrimSpace(logLevelStr)) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discard until the transport is known; stdout may carry the protocol.
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	defer performCleanup()

	app := &cli.Command{
		Name:      appName,
		Usage:     "MCP server exposing sandboxed filesystem operations",
		ArgsUsage: "[allowed directory...]",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags:     rootFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, loadEnvFile(cmd.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("%s version %s\n", appName, Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
			{
				Name:  "cli",
				Usage: "Run filesystem tools directly without an MCP client",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Value: string(fscli.OutputText),
						Usage: "Output format (text or json)",
					},
				},
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List available tools",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							runner, err := newRunner(logger, cmd)
							if err != nil {
								return err
							}
							return runner.ListTools()
						},
					},
					{
						Name:      "help",
						Usage:     "Show the parameters of a tool",
						ArgsUsage: "<tool>",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							if cmd.Args().Len() != 1 {
								return fmt.Errorf("expected exactly one tool name")
							}
							runner, err := newRunner(logger, cmd)
							if err != nil {
								return err
							}
							return runner.HelpTool(cmd.Args().First())
						},
					},
					{
						Name:            "run",
						Usage:           "Run a tool: run <tool> [--param value ...] ['{\"param\": \"value\"}']",
						ArgsUsage:       "<tool> [arguments...]",
						SkipFlagParsing: true,
						Action: func(ctx context.Context, cmd *cli.Command) error {
							if cmd.Args().Len() == 0 {
								return fmt.Errorf("expected a tool name")
							}
							runner, err := newRunner(logger, cmd)
							if err != nil {
								return err
							}
							return runner.RunTool(ctx, cmd.Args().First(), cmd.Args().Tail())
						},
					},
				},
			},
			{
				Name:      "config-validate",
				Usage:     "Validate the configuration file and environment overrides",
				ArgsUsage: "[allowed directory...]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return handleConfigValidate(os.Stdout, cmd)
				},
			},
		},
		Action: func(cliCtx context.Context, cmd *cli.Command) error {
			transport := cmd.String("transport")
			isStdioMode.Store(transport == server.TransportStdio)
			configureLogging(logger, transport)

			cfg, roots, err := loadRuntimeConfig(cmd)
			if err != nil {
				return err
			}

			errorLog := initErrorLogger(logger, transport)

			tracer, err := telemetry.New(cliCtx, logger, Version)
			if err != nil {
				logger.WithError(err).Warn("OTEL: Tracing disabled")
			}
			meter, err := telemetry.NewMetrics(cliCtx, logger, Version)
			if err != nil {
				logger.WithError(err).Warn("OTEL Metrics: Metrics disabled")
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracer.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Debug("OTEL: Shutdown failed")
				}
				if err := meter.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Debug("OTEL Metrics: Shutdown failed")
				}
			}()

			if transport != server.TransportStdio {
				logger.Infof("Starting %s version %s (commit: %s, built: %s)", appName, Version, Commit, BuildDate)
				logger.Infof("Allowed directories: %s", strings.Join(roots.Dirs(), ", "))
			}

			reg := buildRegistry(logger, cfg, roots, errorLog, transport)

			if addr := cmd.String("metrics-addr"); addr != "" {
				go func() {
					if err := server.ServeMetrics(cliCtx, addr, logger); err != nil {
						logger.WithError(err).Error("Metrics listener stopped")
					}
				}()
			}

			srv := server.New(reg, logger, server.Options{
				Name:         appName,
				Version:      Version,
				Transport:    transport,
				Port:         cmd.String("port"),
				BaseURL:      cmd.String("base-url"),
				EndpointPath: cmd.String("endpoint-path"),
				AuthToken:    cmd.String("auth-token"),
				Tracer:       tracer,
				Metrics:      meter,
			})
			return srv.Run(cliCtx)
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		// Stdio clients only read the protocol stream; print nothing there.
		if !isStdioMode.Load() {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		performCleanup()
		os.Exit(1)
	}
}

// rootFlags returns the flags shared by the server and config-validate.
func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Value:   server.TransportStdio,
			Usage:   "Transport type (stdio, sse, or http)",
		},
		&cli.StringFlag{
			Name:  "port",
			Value: "18080",
			Usage: "Port to use for HTTP transports (SSE and Streamable HTTP)",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Value: "http://localhost",
			Usage: "Base URL for HTTP transports",
		},
		&cli.StringFlag{
			Name:  "endpoint-path",
			Value: server.DefaultEndpointPath,
			Usage: "Endpoint path for Streamable HTTP transport",
		},
		&cli.StringFlag{
			Name:    "auth-token",
			Usage:   "Bearer token required by the Streamable HTTP transport (optional)",
			Sources: cli.EnvVars("FILESYSTEM_AUTH_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to YAML configuration file (default: ~/.mcp-filesystem/config.yaml)",
			Sources: cli.EnvVars("FILESYSTEM_CONFIG"),
		},
		&cli.StringSliceFlag{
			Name:  "allowed-dir",
			Usage: "Directory the server may access (repeatable; also FILESYSTEM_ALLOWED_DIRS)",
		},
		&cli.BoolFlag{
			Name:  "read-only",
			Usage: "Only register tools that do not modify the filesystem",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Address for the Prometheus /metrics listener, e.g. 127.0.0.1:9090 (disabled when empty)",
			Sources: cli.EnvVars("FILESYSTEM_METRICS_ADDR"),
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment variables from this file (default: .env if present)",
		},
	}
}

// configureLogging sends logs to ~/.mcp-filesystem/logs/mcp-filesystem.log.
// When the file cannot be opened, stdio mode discards logs and the other
// transports fall back to stderr.
func configureLogging(logger *logrus.Logger, transport string) {
	logLevel := parseLogLevel()
	// Stdio mode logs at least warnings.
	if transport == server.TransportStdio && logLevel < logrus.WarnLevel {
		logLevel = logrus.WarnLevel
	}

	var out io.Writer = os.Stderr
	if transport == server.TransportStdio {
		out = io.Discard
	}

	if file, err := openLogFile(); err == nil {
		debugLogFile.Store(file)
		out = file
	}

	logger.SetOutput(out)
	logrus.SetOutput(out)
	logger.SetLevel(logLevel)
	logrus.SetLevel(logLevel)
	logger.WithField("level", logLevel.String()).Debug("Logging configured")
}

func openLogFile() (*os.File, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	logDir := filepath.Join(homeDir, ".mcp-filesystem", "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, appName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// loadEnvFile loads path, or .env from the working directory when path is
// empty. Only an explicitly named file has to exist.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadRuntimeConfig merges the config file, FILESYSTEM_* variables and the
// command line, then resolves the allowed directories.
func loadRuntimeConfig(cmd *cli.Command) (*config.Config, *sandbox.Roots, error) {
	return loadConfig(cmd, cmd.Args().Slice())
}

func loadConfig(cmd *cli.Command, extraDirs []string) (*config.Config, *sandbox.Roots, error) {
	path, explicit := cmd.String("config"), true
	if path == "" {
		path, explicit = config.DefaultPath(), false
	}

	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, nil, fmt.Errorf("invalid environment override: %w", err)
	}
	if cmd.Bool("read-only") {
		cfg.ReadOnly = true
	}
	cfg.AllowedDirectories = append(cfg.AllowedDirectories, cmd.StringSlice("allowed-dir")...)
	cfg.AllowedDirectories = append(cfg.AllowedDirectories, extraDirs...)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.AllowedDirectories) == 0 {
		return nil, nil, errors.New("no allowed directories: pass them as arguments, with --allowed-dir, FILESYSTEM_ALLOWED_DIRS or allowed_directories in the config file")
	}

	roots, err := sandbox.NewRoots(cfg.AllowedDirectories)
	if err != nil {
		return nil, nil, err
	}
	deny, err := sandbox.NewDenyList(cfg.DenyPatterns)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, roots.WithDenyList(deny), nil
}

// buildRegistry wires the filesystem tools for cfg into a registry.
func buildRegistry(logger *logrus.Logger, cfg *config.Config, roots *sandbox.Roots, errorLog *tools.ErrorLogger, transport string) *registry.Registry {
	pool := worker.New(cfg.Workers, cfg.RateLimit)
	logger.WithField("workers", pool.Size()).Debug("Worker pool created")

	svc := filesystem.NewService(roots, cfg, logger)
	reg := registry.New(logger, registry.Options{
		ReadOnly: cfg.ReadOnly,
		Disabled: registry.ParseDisabledTools(os.Getenv("DISABLED_TOOLS")),
	})
	reg.Register(filesystem.Tools(svc, filesystem.Options{
		Pool:      pool,
		ErrorLog:  errorLog,
		Transport: transport,
	})...)
	return reg
}

// newRunner loads the configuration the server would use and returns a
// runner over the same tool set. Allowed directories come from flags,
// FILESYSTEM_ALLOWED_DIRS or the config file, not positional arguments.
func newRunner(logger *logrus.Logger, cmd *cli.Command) (*fscli.Runner, error) {
	configureLogging(logger, "cli")

	output := fscli.OutputFormat(cmd.String("output"))
	if output != fscli.OutputText && output != fscli.OutputJSON {
		return nil, fmt.Errorf("unsupported output format: %s", output)
	}

	cfg, roots, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	reg := buildRegistry(logger, cfg, roots, initErrorLogger(logger, "cli"), "cli")
	return fscli.NewRunner(reg, logger, os.Stdout, output), nil
}

// initErrorLogger returns the tool error log, enabled by LOG_TOOL_ERRORS=true.
// Old entries are pruned in the background. Failures leave logging disabled.
func initErrorLogger(logger *logrus.Logger, transport string) *tools.ErrorLogger {
	enabled := strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_TOOL_ERRORS")), "true")
	if !enabled {
		return nil
	}

	path, err := tools.DefaultErrorLogPath()
	if err == nil {
		var errorLog *tools.ErrorLogger
		if errorLog, err = tools.NewErrorLogger(path, true, logger); err == nil {
			go func() {
				retention := time.Duration(tools.DefaultLogRetentionDays) * 24 * time.Hour
				if err := errorLog.Prune(retention); err != nil {
					logger.WithError(err).Debug("Failed to prune tool error log")
				}
			}()
			return errorLog
		}
	}

	logger.WithError(err).Debug("Failed to initialise tool error logger")
	if transport != server.TransportStdio {
		logger.WithError(err).Warn("Failed to initialise tool error logger")
	}
	return nil
}

// handleConfigValidate reports the effective configuration or the first
// problem with it.
func handleConfigValidate(w io.Writer, cmd *cli.Command) error {
	cfg, roots, err := loadRuntimeConfig(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(w, "❌ %v\n", err)
		return err
	}

	_, _ = fmt.Fprintln(w, "✅ Configuration is valid")
	_, _ = fmt.Fprintln(w, "\n📊 Configuration Summary")
	_, _ = fmt.Fprintln(w, "========================")
	_, _ = fmt.Fprintf(w, "Allowed directories: %s\n", strings.Join(roots.Dirs(), ", "))
	_, _ = fmt.Fprintf(w, "Max file size: %d bytes\n", cfg.MaxFileSize)
	_, _ = fmt.Fprintf(w, "File permissions: %s\n", cfg.FilePermissions)
	_, _ = fmt.Fprintf(w, "Directory permissions: %s\n", cfg.DirPermissions)
	_, _ = fmt.Fprintf(w, "Max depth: %d\n", cfg.MaxDepth)
	_, _ = fmt.Fprintf(w, "Diff mode: %s\n", cfg.DiffMode)
	_, _ = fmt.Fprintf(w, "Walk errors: %s\n", cfg.WalkErrors)
	_, _ = fmt.Fprintf(w, "Workers: %d\n", worker.New(cfg.Workers, 0).Size())
	_, _ = fmt.Fprintf(w, "Rate limit: %g/s\n", cfg.RateLimit)
	_, _ = fmt.Fprintf(w, "Read only: %t\n", cfg.ReadOnly)
	if len(cfg.DenyPatterns) > 0 {
		_, _ = fmt.Fprintf(w, "Deny patterns: %s\n", strings.Join(cfg.DenyPatterns, ", "))
	}
	return nil
}

func performCleanup() {
	// Silently close; logging here could write to the file being closed.
	if file := debugLogFile.Swap(nil); file != nil {
		_ = file.Close()
	}
}
