// Package cli runs the filesystem tools directly from the command line,
// in-process and without an MCP client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-filesystem/internal/registry"
	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sahilm/fuzzy"
	"github.com/sirupsen/logrus"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// OutputFormat controls how tool results are rendered.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// ErrToolFailed is returned when a tool reports an error result.
var ErrToolFailed = fmt.Errorf("tool returned an error")

// Runner executes CLI commands against a tool registry.
type Runner struct {
	registry *registry.Registry
	logger   *logrus.Logger
	out      io.Writer
	output   OutputFormat
}

// NewRunner creates a Runner writing to out in the given format.
func NewRunner(reg *registry.Registry, logger *logrus.Logger, out io.Writer, output OutputFormat) *Runner {
	return &Runner{registry: reg, logger: logger, out: out, output: output}
}

// ListTools prints all registered tools with the first line of their descriptions.
func (r *Runner) ListTools() error {
	ts := r.registry.Tools()

	if r.output == OutputJSON {
		type jsonEntry struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			ReadOnly    bool   `json:"readOnly"`
		}
		out := make([]jsonEntry, len(ts))
		for i, t := range ts {
			def := t.Definition()
			out[i] = jsonEntry{Name: def.Name, Description: firstLine(def.Description), ReadOnly: tools.IsReadOnly(t)}
		}
		return writeJSON(r.out, out)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, t := range ts {
		def := t.Definition()
		mode := ""
		if !tools.IsReadOnly(t) {
			mode = yellow("writes")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", bold(def.Name), mode, firstLine(def.Description))
	}
	return w.Flush()
}

// HelpTool prints the parameters of a single tool.
func (r *Runner) HelpTool(name string) error {
	tool, ok := r.resolveTool(name)
	if !ok {
		return r.unknownTool(name)
	}
	def := tool.Definition()

	if r.output == OutputJSON {
		return writeJSON(r.out, def)
	}

	_, _ = fmt.Fprintf(r.out, "Tool: %s\n\n", bold(def.Name))
	if def.Description != "" {
		_, _ = fmt.Fprintf(r.out, "%s\n\n", def.Description)
	}

	props := def.InputSchema.Properties
	if len(props) == 0 {
		_, _ = fmt.Fprintln(r.out, "No parameters.")
		return nil
	}
	required := make(map[string]bool, len(def.InputSchema.Required))
	for _, name := range def.InputSchema.Required {
		required[name] = true
	}

	_, _ = fmt.Fprintln(r.out, "Parameters:")
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, pName := range names {
		pMap, ok := props[pName].(map[string]any)
		if !ok {
			continue
		}
		pType, _ := pMap["type"].(string)
		pDesc, _ := pMap["description"].(string)

		reqMark := ""
		if required[pName] {
			reqMark = " (required)"
		}
		_, _ = fmt.Fprintf(w, "  --%s\t%s\t%s%s%s\n", toFlagName(pName), pType, firstLine(pDesc), reqMark, formatEnum(pMap))
	}
	return w.Flush()
}

// RunTool executes a tool by name. args may be a JSON object, --key=value
// or --key value flags, or --flag for booleans; flags win over JSON.
func (r *Runner) RunTool(ctx context.Context, name string, args []string) error {
	tool, ok := r.resolveTool(name)
	if !ok {
		return r.unknownTool(name)
	}

	params, err := parseArgs(args, tool.Definition())
	if err != nil {
		return fmt.Errorf("argument error: %w", err)
	}

	result, err := tool.Execute(ctx, r.logger, params)
	if err != nil {
		return fmt.Errorf("tool error: %w", err)
	}
	return r.renderResult(result)
}

// resolveTool accepts the registered snake_case name or its kebab-case form.
func (r *Runner) resolveTool(name string) (tools.Tool, bool) {
	if tool, ok := r.registry.Get(name); ok {
		return tool, true
	}
	return r.registry.Get(strings.ReplaceAll(name, "-", "_"))
}

// unknownTool suggests the closest registered name.
func (r *Runner) unknownTool(name string) error {
	query := strings.ReplaceAll(name, "-", "_")
	if matches := fuzzy.Find(query, r.registry.Names()); len(matches) > 0 {
		return fmt.Errorf("unknown tool: %s (did you mean %s?)", name, matches[0].Str)
	}
	return fmt.Errorf("unknown tool: %s (run 'mcp-filesystem cli list' to see available tools)", name)
}

func parseArgs(args []string, def mcp.Tool) (map[string]any, error) {
	params := make(map[string]any)
	schema := buildSchemaInfo(def)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(arg), &obj); err != nil {
				return nil, fmt.Errorf("invalid JSON argument: %w", err)
			}
			for k, v := range obj {
				if _, exists := params[k]; !exists {
					params[k] = v
				}
			}
			continue
		}

		if strings.HasPrefix(arg, "--") {
			key, val, err := parseFlag(arg, args, &i, schema)
			if err != nil {
				return nil, err
			}
			params[key] = val
			continue
		}

		return nil, fmt.Errorf("unexpected argument: %s (use --key=value flags or pass a JSON object)", arg)
	}
	return params, nil
}

// schemaInfo maps flag names to parameter names and their JSON Schema types.
type schemaInfo struct {
	typeMap     map[string]string
	flagToParam map[string]string
}

func buildSchemaInfo(def mcp.Tool) schemaInfo {
	info := schemaInfo{
		typeMap:     make(map[string]string, len(def.InputSchema.Properties)),
		flagToParam: make(map[string]string, len(def.InputSchema.Properties)),
	}
	for name, prop := range def.InputSchema.Properties {
		if pm, ok := prop.(map[string]any); ok {
			if t, ok := pm["type"].(string); ok {
				info.typeMap[name] = t
			}
		}
		info.flagToParam[toFlagName(name)] = name
		info.flagToParam[name] = name
	}
	return info
}

func (s schemaInfo) resolveParam(flagName string) string {
	if actual, ok := s.flagToParam[flagName]; ok {
		return actual
	}
	return flagName
}

func parseFlag(arg string, args []string, idx *int, schema schemaInfo) (string, any, error) {
	stripped := strings.TrimPrefix(arg, "--")

	if flagName, rawVal, found := strings.Cut(stripped, "="); found {
		paramName := schema.resolveParam(flagName)
		return paramName, coerceValue(rawVal, schema.typeMap[paramName]), nil
	}

	paramName := schema.resolveParam(stripped)
	if schema.typeMap[paramName] == "boolean" {
		return paramName, true, nil
	}

	*idx++
	if *idx >= len(args) {
		return "", nil, fmt.Errorf("flag --%s requires a value", stripped)
	}
	return paramName, coerceValue(args[*idx], schema.typeMap[paramName]), nil
}

// coerceValue converts raw to the Go type JSON decoding would produce for
// schemaType. Unconvertible values are passed through for the tool to reject.
func coerceValue(raw, schemaType string) any {
	switch schemaType {
	case "number", "integer":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		return raw
	case "array":
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return arr
		}
		parts := strings.Split(raw, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return obj
		}
		return raw
	default:
		return raw
	}
}

func (r *Runner) renderResult(result *mcp.CallToolResult) error {
	if result == nil {
		return nil
	}

	if r.output == OutputJSON {
		if err := writeJSON(r.out, result); err != nil {
			return err
		}
	} else {
		for _, content := range result.Content {
			if text, ok := mcp.AsTextContent(content); ok {
				if result.IsError {
					_, _ = fmt.Fprintln(r.out, red(text.Text))
				} else {
					_, _ = fmt.Fprintln(r.out, text.Text)
				}
				continue
			}
			data, err := json.MarshalIndent(content, "", "  ")
			if err != nil {
				_, _ = fmt.Fprintf(r.out, "%+v\n", content)
			} else {
				_, _ = fmt.Fprintln(r.out, string(data))
			}
		}
	}

	if result.IsError {
		return ErrToolFailed
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	if before, _, found := strings.Cut(s, "\n"); found {
		return before
	}
	return s
}

// toFlagName converts camelCase or snake_case to kebab-case for CLI flags.
func toFlagName(s string) string {
	s = strings.ReplaceAll(s, "_", "-")
	var out strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out.WriteByte('-')
			}
			out.WriteRune(r + ('a' - 'A'))
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func formatEnum(pMap map[string]any) string {
	var vals []string
	switch enum := pMap["enum"].(type) {
	case []string:
		vals = enum
	case []any:
		for _, v := range enum {
			vals = append(vals, fmt.Sprint(v))
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return " [" + strings.Join(vals, "|") + "]"
}
