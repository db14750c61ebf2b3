package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sirupsen/logrus"
)

// Options controls which tools a Registry accepts.
type Options struct {
	// ReadOnly drops every tool that does not carry a read-only hint.
	ReadOnly bool
	// Disabled lists tool names to leave out. Matching ignores case and
	// treats '_' and '-' alike.
	Disabled []string
}

// Registry holds the tools exposed by the server.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]tools.Tool
	disabled map[string]bool
	readOnly bool
	logger   *logrus.Logger
}

// New returns an empty registry applying opts to every Register call.
func New(logger *logrus.Logger, opts Options) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &Registry{
		tools:    make(map[string]tools.Tool),
		disabled: make(map[string]bool),
		readOnly: opts.ReadOnly,
		logger:   logger,
	}
	for _, name := range opts.Disabled {
		name = normaliseToolName(name)
		if name != "" {
			r.disabled[name] = true
			logger.WithField("tool", name).Debug("Tool disabled")
		}
	}
	return r
}

// ParseDisabledTools splits a DISABLED_TOOLS style value.
func ParseDisabledTools(value string) []string {
	var names []string
	for name := range strings.SplitSeq(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// normaliseToolName lowercases and replaces underscores with hyphens.
func normaliseToolName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}

// ShouldRegisterTool reports whether tool passes the disabled list and the
// read-only filter.
func (r *Registry) ShouldRegisterTool(tool tools.Tool) bool {
	name := tool.Definition().Name
	if r.disabled[normaliseToolName(name)] {
		r.logger.WithField("tool", name).Debug("Tool disabled via environment variable")
		return false
	}
	if r.readOnly && !tools.IsReadOnly(tool) {
		r.logger.WithField("tool", name).Debug("Tool omitted in read-only mode")
		return false
	}
	return true
}

// Register adds tools that pass ShouldRegisterTool. A later tool with the
// same name replaces an earlier one.
func (r *Registry) Register(ts ...tools.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range ts {
		if !r.ShouldRegisterTool(tool) {
			continue
		}
		name := tool.Definition().Name
		r.tools[name] = tool
		r.logger.WithField("tool", name).Debug("Tool successfully registered")
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []tools.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Tool, 0, len(r.tools))
	for _, name := range r.namesLocked() {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns a sorted list of registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
