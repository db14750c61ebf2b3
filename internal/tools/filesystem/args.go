package filesystem

import (
	"math"

	"github.com/sammcj/mcp-filesystem/internal/fileops"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
)

func requireString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", fserr.InvalidArguments("missing required parameter: %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fserr.InvalidArguments("parameter %s must be a string", key)
	}
	return s, nil
}

func requirePath(args map[string]any, key string) (string, error) {
	s, err := requireString(args, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fserr.InvalidArguments("missing required parameter: %s", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key, def string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fserr.InvalidArguments("parameter %s must be a string", key)
	}
	return s, nil
}

func optionalBool(args map[string]any, key string) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fserr.InvalidArguments("parameter %s must be a boolean", key)
	}
	return b, nil
}

// optionalLineCount accepts JSON numbers holding non-negative integers.
func optionalLineCount(args map[string]any, key string) (*int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return nil, fserr.InvalidArguments("parameter %s must be a number", key)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil, fserr.InvalidArguments("parameter %s must be a non-negative integer", key)
	}
	n := int(f)
	return &n, nil
}

func stringList(args map[string]any, key string, required bool) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return nil, fserr.InvalidArguments("missing required parameter: %s", key)
		}
		return nil, nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		return v, nil
	default:
		return nil, fserr.InvalidArguments("parameter %s must be an array of strings", key)
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fserr.InvalidArguments("%s[%d] must be a string", key, i)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseReadFile(args map[string]any) (ReadFileRequest, error) {
	var req ReadFileRequest
	var err error
	if req.Path, err = requirePath(args, "path"); err != nil {
		return req, err
	}
	if req.Head, err = optionalLineCount(args, "head"); err != nil {
		return req, err
	}
	if req.Tail, err = optionalLineCount(args, "tail"); err != nil {
		return req, err
	}
	if req.Head != nil && req.Tail != nil {
		return req, fserr.InvalidArguments("cannot specify both head and tail parameters")
	}
	return req, nil
}

func parseWriteFile(args map[string]any) (WriteFileRequest, error) {
	var req WriteFileRequest
	var err error
	if req.Path, err = requirePath(args, "path"); err != nil {
		return req, err
	}
	if req.Content, err = requireString(args, "content"); err != nil {
		return req, err
	}
	return req, nil
}

func parseEditFile(args map[string]any) (EditFileRequest, error) {
	var req EditFileRequest
	var err error
	if req.Path, err = requirePath(args, "path"); err != nil {
		return req, err
	}
	if req.DryRun, err = optionalBool(args, "dryRun"); err != nil {
		return req, err
	}

	raw, ok := args["edits"]
	if !ok || raw == nil {
		return req, fserr.InvalidArguments("missing required parameter: edits")
	}
	items, ok := raw.([]any)
	if !ok {
		return req, fserr.InvalidArguments("parameter edits must be an array")
	}
	if len(items) == 0 {
		return req, fserr.InvalidArguments("no edits provided")
	}

	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return req, fserr.InvalidArguments("edits[%d] must be an object", i)
		}
		oldText, err := requireString(m, "oldText")
		if err != nil {
			return req, fserr.InvalidArguments("edits[%d]: %s", i, err.Error())
		}
		newText, err := requireString(m, "newText")
		if err != nil {
			return req, fserr.InvalidArguments("edits[%d]: %s", i, err.Error())
		}
		req.Edits = append(req.Edits, fileops.Edit{OldText: oldText, NewText: newText})
	}
	return req, nil
}

func parseMoveFile(args map[string]any) (MoveFileRequest, error) {
	var req MoveFileRequest
	var err error
	if req.Source, err = requirePath(args, "source"); err != nil {
		return req, err
	}
	if req.Destination, err = requirePath(args, "destination"); err != nil {
		return req, err
	}
	return req, nil
}

func parseSearchFiles(args map[string]any) (SearchFilesRequest, error) {
	var req SearchFilesRequest
	var err error
	if req.Path, err = requirePath(args, "path"); err != nil {
		return req, err
	}
	if req.Pattern, err = requireString(args, "pattern"); err != nil {
		return req, err
	}
	if req.ExcludePatterns, err = stringList(args, "excludePatterns", false); err != nil {
		return req, err
	}
	return req, nil
}

func parseListWithSizes(args map[string]any) (ListDirectoryRequest, error) {
	var req ListDirectoryRequest
	var err error
	if req.Path, err = requirePath(args, "path"); err != nil {
		return req, err
	}
	if req.SortBy, err = optionalString(args, "sortBy", fileops.SortByName); err != nil {
		return req, err
	}
	return req, nil
}
