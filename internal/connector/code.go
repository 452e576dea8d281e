package connector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Shopify/go-lua"
)

var codeCapabilities = []string{"execute_code", "execute_script", "create_script", "list_scripts"}

// DefaultCodeTimeout is the wall-clock limit of one code execution.
const DefaultCodeTimeout = 30 * time.Second

// luaHookInterval is the number of VM instructions between deadline checks.
const luaHookInterval = 1000

var scriptNameRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Code runs Lua snippets and stored scripts in a sandboxed interpreter.
// Each execution gets a fresh interpreter state, so nothing leaks between
// runs. The only isolation guarantee is the removal of io, os, package
// loading and debug, plus a wall-clock timeout.
type Code struct {
	scriptsDir string
	timeout    time.Duration
}

// NewCode returns a Code connector storing scripts in scriptsDir.
func NewCode(scriptsDir string, timeout time.Duration) *Code {
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}
	return &Code{scriptsDir: scriptsDir, timeout: timeout}
}

func (c *Code) Type() string { return "code_executor" }

func (c *Code) Capabilities() []string { return codeCapabilities }

func (c *Code) Run(ctx context.Context, action string, params Params) (Result, error) {
	switch action {
	case "execute_code":
		code := params.First("code", "script")
		if code == "" {
			return Failure("code is required"), nil
		}
		return c.execute(ctx, code, params.Map("inputs")), nil
	case "execute_script":
		path, name, err := c.scriptPath(params.First("script_name", "name"))
		if err != nil {
			return Failure("%s", err), nil
		}
		src, err := os.ReadFile(path) //nolint:gosec // name is restricted by scriptNameRegex
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Failure("Script not found: %s", name), nil
			}
			return Failure("Error reading script %s: %v", name, err), nil
		}
		return c.execute(ctx, string(src), params.Map("inputs")).With("script_name", name), nil
	case "create_script":
		return c.createScript(params), nil
	case "list_scripts":
		return c.listScripts(), nil
	default:
		return Failure("Unknown action: %s", action), nil
	}
}

func (c *Code) scriptPath(name string) (string, string, error) {
	name = strings.TrimSuffix(name, ".lua")
	if !scriptNameRegex.MatchString(name) {
		return "", "", fmt.Errorf("invalid script name %q", name)
	}
	return filepath.Join(c.scriptsDir, name+".lua"), name, nil
}

// execute runs src with inputs bound to the global "inputs". The chunk's
// first return value, or else the global "result", becomes the result.
func (c *Code) execute(ctx context.Context, src string, inputs map[string]any) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout strings.Builder
	L := lua.NewState()
	openSandbox(L, &stdout)
	start := time.Now()
	if inputs != nil {
		if err := goToLua(L, inputs); err != nil {
			return c.failed("Invalid inputs", "", err.Error(), start)
		}
		L.SetGlobal("inputs")
	}
	lua.SetDebugHook(L, func(l *lua.State, _ lua.Debug) {
		if ctx.Err() != nil {
			lua.Errorf(l, "execution interrupted")
		}
	}, lua.MaskCount, luaHookInterval)

	if err := lua.LoadString(L, src); err != nil {
		return c.failed("Syntax error", stdout.String(), err.Error(), start)
	}
	err := L.ProtectedCall(0, 1, 0)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return c.failed(fmt.Sprintf("Execution timed out after %g seconds", c.timeout.Seconds()),
			stdout.String(), "timeout", start)
	case ctx.Err() != nil:
		return c.failed("Execution cancelled", stdout.String(), ctx.Err().Error(), start)
	case err != nil:
		return c.failed("Execution failed", stdout.String(), err.Error(), start)
	}

	result, err := luaToGo(L, -1)
	L.Pop(1)
	if err == nil && result == nil {
		L.Global("result")
		result, err = luaToGo(L, -1)
		L.Pop(1)
	}
	if err != nil {
		return c.failed("Unsupported result", stdout.String(), err.Error(), start)
	}

	return Success(map[string]any{
		"stdout":      stdout.String(),
		"stderr":      "",
		"returncode":  0,
		"result":      result,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (c *Code) failed(message, stdout, stderr string, start time.Time) Result {
	return Result{
		Status:  StatusError,
		Message: message,
		Fields: map[string]any{
			"stdout":      stdout,
			"stderr":      stderr,
			"returncode":  1,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	}
}

func (c *Code) createScript(params Params) Result {
	path, name, err := c.scriptPath(params.First("script_name", "name"))
	if err != nil {
		return Failure("%s", err)
	}
	code := params.First("code", "script")
	if code == "" {
		return Failure("code is required")
	}

	L := lua.NewState()
	if err := lua.LoadString(L, code); err != nil {
		return Failure("Syntax error in script %s: %v", name, err)
	}

	if err := os.MkdirAll(c.scriptsDir, 0o755); err != nil {
		return Failure("Error creating scripts directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil { //nolint:gosec // name is restricted by scriptNameRegex
		return Failure("Error writing script %s: %v", name, err)
	}
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Script %s created", name),
		Fields: map[string]any{
			"action":      "create_script",
			"script_name": name,
			"size_bytes":  len(code),
		},
	}
}

func (c *Code) listScripts() Result {
	entries, err := os.ReadDir(c.scriptsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Failure("Error listing scripts: %v", err)
	}
	scripts := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			scripts = append(scripts, strings.TrimSuffix(e.Name(), ".lua"))
		}
	}
	sort.Strings(scripts)
	return Success(map[string]any{
		"action":  "list_scripts",
		"scripts": scripts,
		"count":   len(scripts),
	})
}
