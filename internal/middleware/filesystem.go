package middleware

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Filesystem exposes read/write/edit/list/glob/grep tools over a
// fsbackend.Backend.
type Filesystem struct {
	NoOp
	backend fsbackend.Backend
}

// NewFilesystem builds the Filesystem middleware over backend.
func NewFilesystem(backend fsbackend.Backend) *Filesystem {
	return &Filesystem{backend: backend}
}

func (f *Filesystem) Name() string { return "filesystem" }

func (f *Filesystem) Tools() []toolkit.Tool {
	return []toolkit.Tool{
		&readFileTool{backend: f.backend},
		&writeFileTool{backend: f.backend},
		&editFileTool{backend: f.backend},
		&listFilesTool{backend: f.backend},
		&globFilesTool{backend: f.backend},
		&grepFilesTool{backend: f.backend},
	}
}

type readFileTool struct{ backend fsbackend.Backend }

func (readFileTool) Name() string        { return "read_file" }
func (readFileTool) Kind() toolkit.Kind  { return toolkit.KindRead }
func (readFileTool) Description() string { return "Read a file's contents by path." }
func (readFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}
func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return &toolkit.Result{Output: "Error: 'path' is required", Success: false}, nil
	}
	data, err := t.backend.Read(ctx, path)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error reading %s: %v", path, err), Success: false}, nil
	}
	return &toolkit.Result{Output: string(data), Success: true}, nil
}

type writeFileTool struct{ backend fsbackend.Backend }

func (writeFileTool) Name() string        { return "write_file" }
func (writeFileTool) Kind() toolkit.Kind  { return toolkit.KindEdit }
func (writeFileTool) Description() string { return "Write a file's contents by path, overwriting it." }
func (writeFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}
func (t *writeFileTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return &toolkit.Result{Output: "Error: 'path' is required", Success: false}, nil
	}
	if err := t.backend.Write(ctx, path, []byte(content)); err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error writing %s: %v", path, err), Success: false}, nil
	}
	return &toolkit.Result{Output: fmt.Sprintf("Wrote %d bytes to %s", len(content), path), Success: true}, nil
}

type editFileTool struct{ backend fsbackend.Backend }

func (editFileTool) Name() string { return "edit_file" }
func (editFileTool) Kind() toolkit.Kind { return toolkit.KindEdit }
func (editFileTool) Description() string {
	return "Replace the first occurrence of old_text with new_text in a file."
}
func (editFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string"},
			"old_text": map[string]interface{}{"type": "string"},
			"new_text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}
func (t *editFileTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	p, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if p == "" {
		return &toolkit.Result{Output: "Error: 'path' is required", Success: false}, nil
	}
	data, err := t.backend.Read(ctx, p)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error reading %s: %v", p, err), Success: false}, nil
	}
	current := string(data)
	if !strings.Contains(current, oldText) {
		return &toolkit.Result{Output: fmt.Sprintf("Error: old_text not found in %s", p), Success: false}, nil
	}
	updated := strings.Replace(current, oldText, newText, 1)
	if err := t.backend.Write(ctx, p, []byte(updated)); err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error writing %s: %v", p, err), Success: false}, nil
	}
	return &toolkit.Result{Output: fmt.Sprintf("Edited %s", p), Success: true}, nil
}

type listFilesTool struct{ backend fsbackend.Backend }

func (listFilesTool) Name() string        { return "list_files" }
func (listFilesTool) Kind() toolkit.Kind  { return toolkit.KindRead }
func (listFilesTool) Description() string { return "List files under a path prefix." }
func (listFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"prefix": map[string]interface{}{"type": "string"}},
	}
}
func (t *listFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	prefix, _ := args["prefix"].(string)
	files, err := t.backend.List(ctx, prefix)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error listing %s: %v", prefix, err), Success: false}, nil
	}
	out := ""
	for _, f := range files {
		out += f + "\n"
	}
	return &toolkit.Result{Output: out, Success: true, Metadata: map[string]interface{}{"count": len(files)}}, nil
}

type globFilesTool struct{ backend fsbackend.Backend }

func (globFilesTool) Name() string { return "glob_files" }
func (globFilesTool) Kind() toolkit.Kind { return toolkit.KindRead }
func (globFilesTool) Description() string {
	return "List files under a path prefix whose name matches a glob pattern (e.g. '*.go')."
}
func (globFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prefix":  map[string]interface{}{"type": "string"},
			"pattern": map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}
func (t *globFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	prefix, _ := args["prefix"].(string)
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return &toolkit.Result{Output: "Error: 'pattern' is required", Success: false}, nil
	}
	files, err := t.backend.List(ctx, prefix)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error listing %s: %v", prefix, err), Success: false}, nil
	}
	var matched []string
	for _, f := range files {
		if ok, err := path.Match(pattern, path.Base(f)); err == nil && ok {
			matched = append(matched, f)
		}
	}
	out := ""
	for _, f := range matched {
		out += f + "\n"
	}
	return &toolkit.Result{Output: out, Success: true, Metadata: map[string]interface{}{"count": len(matched)}}, nil
}

type grepFilesTool struct{ backend fsbackend.Backend }

func (grepFilesTool) Name() string { return "grep_files" }
func (grepFilesTool) Kind() toolkit.Kind { return toolkit.KindRead }
func (grepFilesTool) Description() string {
	return "Search files under a path prefix for lines containing a substring."
}
func (grepFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prefix": map[string]interface{}{"type": "string"},
			"query":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}
func (t *grepFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	prefix, _ := args["prefix"].(string)
	query, _ := args["query"].(string)
	if query == "" {
		return &toolkit.Result{Output: "Error: 'query' is required", Success: false}, nil
	}
	files, err := t.backend.List(ctx, prefix)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error listing %s: %v", prefix, err), Success: false}, nil
	}
	var b strings.Builder
	matches := 0
	for _, f := range files {
		data, err := t.backend.Read(ctx, f)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				fmt.Fprintf(&b, "%s:%d:%s\n", f, i+1, line)
				matches++
			}
		}
	}
	return &toolkit.Result{Output: b.String(), Success: true, Metadata: map[string]interface{}{"matches": matches}}, nil
}
