package connector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var localFileAliases = map[string]string{
	"read":   "read_file",
	"write":  "write_file",
	"list":   "list_files",
	"exists": "file_exists",
	"delete": "delete_file",
	"info":   "get_file_info",
}

var localFileCapabilities = []string{
	"read_file", "write_file", "list_files", "file_exists", "delete_file", "get_file_info", "query_json",
	"read", "write", "list", "exists", "delete", "info",
}

// LocalFile reads and writes files below a base directory.
type LocalFile struct {
	baseDir string
}

// NewLocalFile returns a LocalFile rooted at baseDir.
func NewLocalFile(baseDir string) *LocalFile {
	return &LocalFile{baseDir: filepath.Clean(baseDir)}
}

func (c *LocalFile) Type() string { return "file" }

func (c *LocalFile) Capabilities() []string { return localFileCapabilities }

// BaseDir returns the directory every path is resolved against.
func (c *LocalFile) BaseDir() string { return c.baseDir }

func (c *LocalFile) Run(_ context.Context, action string, params Params) (Result, error) {
	if canonical, ok := localFileAliases[action]; ok {
		action = canonical
	}
	switch action {
	case "read_file":
		return c.readFile(params), nil
	case "write_file":
		return c.writeFile(params), nil
	case "list_files":
		return c.listFiles(params), nil
	case "file_exists":
		return c.fileExists(params), nil
	case "delete_file":
		return c.deleteFile(params), nil
	case "get_file_info":
		return c.fileInfo(params), nil
	case "query_json":
		return c.queryJSON(params), nil
	default:
		return Failure("Unknown action: %s", action), nil
	}
}

// Resolve maps a caller-supplied name to a path inside the base directory.
// A leading "data/" is accepted for compatibility with flows that spell out
// the default base directory.
func (c *LocalFile) Resolve(name string) (string, error) {
	if name == "" {
		return "", errors.New("filename is required")
	}
	name = filepath.ToSlash(name)
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "data/")
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", name)
	}
	full := filepath.Join(c.baseDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(c.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the data directory: %s", name)
	}
	return full, nil
}

func (c *LocalFile) readFile(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to the base dir by Resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("File not found: %s", filename)
		}
		return Failure("Error reading file %s: %v", filename, err)
	}
	content := string(data)
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Read %d bytes from %s", len(data), filename),
		Fields: map[string]any{
			"action":     "read_file",
			"filename":   filename,
			"content":    content,
			"size":       utf8.RuneCountInString(content),
			"size_bytes": len(data),
			"path":       path,
			"lines":      countLines(content),
		},
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func (c *LocalFile) writeFile(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	content, _ := params.String("content")
	mode := params.StringOr("mode", "w")

	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case "w":
		flags |= os.O_TRUNC
	case "a":
		flags |= os.O_APPEND
	default:
		return Failure("Invalid mode %q (want w or a)", mode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Failure("Error creating directory for %s: %v", filename, err)
	}
	f, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // path is confined to the base dir by Resolve
	if err != nil {
		return Failure("Error opening file %s: %v", filename, err)
	}
	n, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil {
		return Failure("Error writing file %s: %v", filename, werr)
	}
	if cerr != nil {
		return Failure("Error closing file %s: %v", filename, cerr)
	}
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Wrote %d bytes to %s", n, filename),
		Fields: map[string]any{
			"action":     "write_file",
			"filename":   filename,
			"path":       path,
			"mode":       mode,
			"size_bytes": n,
		},
	}
}

func (c *LocalFile) listFiles(params Params) Result {
	dir := params.StringOr("directory", ".")
	pattern := params.StringOr("pattern", "*")
	root, err := c.Resolve(dir)
	if err != nil {
		return Failure("%s", err)
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return Failure("Invalid pattern %q: %v", pattern, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("Directory not found: %s", dir)
		}
		return Failure("Error listing %s: %v", dir, err)
	}

	files := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, map[string]any{
			"name":     e.Name(),
			"size":     info.Size(),
			"is_dir":   e.IsDir(),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return Success(map[string]any{
		"action":    "list_files",
		"directory": dir,
		"pattern":   pattern,
		"files":     files,
		"count":     len(files),
	})
}

func (c *LocalFile) fileExists(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	info, err := os.Stat(path)
	exists := err == nil
	return Success(map[string]any{
		"action":   "file_exists",
		"filename": filename,
		"exists":   exists,
		"is_file":  exists && info.Mode().IsRegular(),
	})
}

func (c *LocalFile) deleteFile(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("File not found: %s", filename)
		}
		return Failure("Error deleting %s: %v", filename, err)
	}
	return Success(map[string]any{
		"action":   "delete_file",
		"filename": filename,
		"deleted":  true,
	})
}

func (c *LocalFile) fileInfo(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("File not found: %s", filename)
		}
		return Failure("Error reading info for %s: %v", filename, err)
	}
	return Success(map[string]any{
		"action":     "get_file_info",
		"filename":   filename,
		"path":       path,
		"size_bytes": info.Size(),
		"is_dir":     info.IsDir(),
		"mode":       info.Mode().String(),
		"modified":   info.ModTime().UTC().Format(time.RFC3339),
	})
}

func (c *LocalFile) queryJSON(params Params) Result {
	filename := params.First("filename", "path", "file_path")
	query, _ := params.String("query")
	if query == "" {
		return Failure("query is required")
	}
	path, err := c.Resolve(filename)
	if err != nil {
		return Failure("%s", err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is confined to the base dir by Resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failure("File not found: %s", filename)
		}
		return Failure("Error reading file %s: %v", filename, err)
	}
	if !gjson.ValidBytes(data) {
		return Failure("File %s is not valid JSON", filename)
	}
	res := gjson.GetBytes(data, query)
	return Success(map[string]any{
		"action":   "query_json",
		"filename": filename,
		"query":    query,
		"exists":   res.Exists(),
		"value":    res.Value(),
	})
}
