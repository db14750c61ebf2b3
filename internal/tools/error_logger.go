package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// ToolErrorLogEntry represents a logged tool error
type ToolErrorLogEntry struct {
	Timestamp string         `json:"timestamp"`
	ToolName  string         `json:"tool_name"`
	Kind      string         `json:"kind,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Error     string         `json:"error"`
	Transport string         `json:"transport,omitempty"`
}

// DefaultLogRetentionDays is the default number of days to retain error logs
const DefaultLogRetentionDays = 60

// ErrorLogger appends failed tool calls as JSON lines. Several server
// processes may share one file, so every append and prune holds an advisory
// lock on a sibling .lock file.
type ErrorLogger struct {
	enabled  bool
	filePath string
	lock     *flock.Flock
	logger   *logrus.Logger
	mu       sync.Mutex
}

// DefaultErrorLogPath returns ~/.mcp-filesystem/logs/tool-errors.log.
func DefaultErrorLogPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".mcp-filesystem", "logs", "tool-errors.log"), nil
}

// NewErrorLogger returns a logger writing to path. A disabled logger
// discards everything.
func NewErrorLogger(path string, enabled bool, logger *logrus.Logger) (*ErrorLogger, error) {
	l := &ErrorLogger{enabled: enabled, filePath: path, logger: logger}
	if !enabled {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	l.lock = flock.New(path + ".lock")
	return l, nil
}

// IsEnabled returns whether error logging is enabled
func (l *ErrorLogger) IsEnabled() bool {
	return l != nil && l.enabled
}

// Path returns the path to the error log file
func (l *ErrorLogger) Path() string {
	return l.filePath
}

// LogToolError logs a tool execution error
func (l *ErrorLogger) LogToolError(toolName, kind string, args map[string]any, message, transport string) {
	if !l.IsEnabled() {
		return
	}

	entry := ToolErrorLogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		ToolName:  toolName,
		Kind:      kind,
		Arguments: redactArguments(args),
		Error:     message,
		Transport: transport,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.warn(err, "Failed to marshal tool error log entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock.Lock(); err != nil {
		l.warn(err, "Failed to lock tool error log")
		return
	}
	defer func() { _ = l.lock.Unlock() }()

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		l.warn(err, "Failed to open tool error log")
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.warn(err, "Failed to write tool error log entry")
	}
}

// Prune removes entries older than retention. Malformed lines and entries
// with unparseable timestamps are kept.
func (l *ErrorLogger) Prune(retention time.Duration) error {
	if !l.IsEnabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock tool error log: %w", err)
	}
	defer func() { _ = l.lock.Unlock() }()

	file, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open tool error log: %w", err)
	}

	var kept []string
	cutoff := time.Now().Add(-retention)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry ToolErrorLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			kept = append(kept, line)
			continue
		}
		ts, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil || ts.After(cutoff) {
			kept = append(kept, line)
		}
	}
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		return fmt.Errorf("error reading log file during pruning: %w", scanErr)
	}

	content := ""
	if len(kept) > 0 {
		content = strings.Join(kept, "\n") + "\n"
	}
	tmpPath := l.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write pruned log file: %w", err)
	}
	if err := os.Rename(tmpPath, l.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace log file: %w", err)
	}
	return nil
}

func (l *ErrorLogger) warn(err error, msg string) {
	if l.logger != nil {
		l.logger.WithError(err).Warn(msg)
	}
}

// redactArguments drops file bodies from logged arguments; paths and flags
// are kept for diagnosis.
func redactArguments(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch k {
		case "content", "edits":
			out[k] = "[redacted]"
		default:
			out[k] = v
		}
	}
	return out
}
