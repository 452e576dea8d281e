package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/ctxutil"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/executor"
	"github.com/ashita-ai/nagare/internal/service/flows"
	"github.com/ashita-ai/nagare/internal/service/runs"
	"github.com/ashita-ai/nagare/internal/storage"
	"github.com/ashita-ai/nagare/internal/testutil"
)

var (
	testDB     *storage.DB
	testServer *Server
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	dataDir, err := os.MkdirTemp("", "nagare-mcp-test")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: data dir: %v\n", err)
		return 1
	}
	defer func() { _ = os.RemoveAll(dataDir) }()

	registry, err := connector.NewRegistry(logger, testDB,
		connector.Registration{Name: "local_file", Connector: connector.NewLocalFile(dataDir)},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: registry: %v\n", err)
		return 1
	}
	defer func() { _ = registry.Close() }()

	flowSvc := flows.New(testDB, nil, logger)
	tracker := runs.New(testDB, logger)
	exec := executor.New(flowSvc, tracker, registry, executor.Config{EnactRetry: true, RetryBaseDelay: time.Millisecond}, logger)
	testServer = New(flowSvc, tracker, exec, registry, logger, "test")

	return m.Run()
}

func ctxWithRole(name string, role model.Role) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{Name: name, Role: role})
}

func editorCtx() context.Context { return ctxWithRole("mcp-editor", model.RoleEditor) }
func viewerCtx() context.Context { return ctxWithRole("mcp-viewer", model.RoleViewer) }

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the text content from a tool result.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func decodeTool[T any](t *testing.T, result *mcplib.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, "tool error: %s", parseToolText(t, result))
	var v T
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &v))
	return v
}

func fileDefinition(name string) string {
	def := model.FlowDefinition{
		Name: name,
		Steps: []model.Step{
			{ID: "write", Name: "Write", Connector: "local_file", Action: "write_file",
				Params: map[string]any{"filename": name + ".txt", "content": "hello"}},
			{ID: "read", Name: "Read", Connector: "local_file", Action: "read_file",
				Params: map[string]any{"filename": name + ".txt"}},
		},
	}
	data, _ := json.Marshal(def)
	return string(data)
}

// mustCreateFlow creates a flow through the tool and returns its detail.
func mustCreateFlow(t *testing.T, definition string) model.FlowDetail {
	t.Helper()
	result, err := testServer.handleCreateFlow(editorCtx(), toolRequest("nagare_create_flow",
		map[string]any{"definition": definition}))
	require.NoError(t, err)
	return decodeTool[model.FlowDetail](t, result)
}

func TestValidateFlowTool(t *testing.T) {
	result, err := testServer.handleValidateFlow(viewerCtx(), toolRequest("nagare_validate_flow",
		map[string]any{"definition": `{"steps": [{"id": "a"}, {"id": "a", "name": "B", "connector": "x"}]}`}))
	require.NoError(t, err)

	resp := decodeTool[model.ValidateResponse](t, result)
	assert.False(t, resp.Valid)
	assert.Equal(t, []string{
		"Missing flow name",
		"Step 0 missing name",
		"Step 0 missing type",
		"Duplicate step ID: a",
	}, resp.Errors)

	result, err = testServer.handleValidateFlow(viewerCtx(), toolRequest("nagare_validate_flow",
		map[string]any{"definition": fileDefinition("mcp-valid")}))
	require.NoError(t, err)
	assert.True(t, decodeTool[model.ValidateResponse](t, result).Valid)
}

func TestValidateFlowToolBadJSON(t *testing.T) {
	result, err := testServer.handleValidateFlow(viewerCtx(), toolRequest("nagare_validate_flow",
		map[string]any{"definition": `{"name": `}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not valid JSON")

	result, err = testServer.handleValidateFlow(viewerCtx(), toolRequest("nagare_validate_flow", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "definition is required")
}

func TestCreateFlowTool(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-create"))
	assert.Positive(t, detail.ID)
	assert.Equal(t, 1, detail.CurrentVersion)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "local_file", detail.Steps[0].Type, "type is filled from connector")

	v, err := testDB.GetFlowVersion(context.Background(), detail.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "mcp-editor", v.Author)
}

func TestCreateFlowToolRejectsInvalid(t *testing.T) {
	result, err := testServer.handleCreateFlow(editorCtx(), toolRequest("nagare_create_flow",
		map[string]any{"definition": `{"name": "no-steps"}`}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "Missing steps")
}

func TestWriteToolsRequireEditor(t *testing.T) {
	tests := []struct {
		name    string
		handler func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error)
		args    map[string]any
	}{
		{"create", testServer.handleCreateFlow, map[string]any{"definition": fileDefinition("mcp-denied")}},
		{"modify", testServer.handleModifyFlow, map[string]any{"flow_id": float64(1), "action": "delete_step", "step_id": "read"}},
		{"execute", testServer.handleExecuteFlow, map[string]any{"flow_id": float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, ctx := range []context.Context{viewerCtx(), context.Background()} {
				result, err := tt.handler(ctx, toolRequest(tt.name, tt.args))
				require.NoError(t, err)
				assert.True(t, result.IsError)
				assert.Contains(t, parseToolText(t, result), "requires the editor role")
			}
		})
	}
}

func TestModifyFlowTool(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-modify"))

	result, err := testServer.handleModifyFlow(editorCtx(), toolRequest("nagare_modify_flow", map[string]any{
		"flow_id":        float64(detail.ID),
		"action":         "insert_step",
		"anchor_step_id": "write",
		"position":       "after",
		"new_step":       `{"id": "list", "name": "List", "connector": "local_file", "action": "list_files"}`,
	}))
	require.NoError(t, err)
	v := decodeTool[model.FlowVersion](t, result)
	assert.Equal(t, 2, v.VersionNo)
	assert.Equal(t, "mcp-editor", v.Author)

	ids := make([]string, 0, len(v.Steps))
	for _, s := range v.Steps {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"write", "list", "read"}, ids)

	result, err = testServer.handleModifyFlow(editorCtx(), toolRequest("nagare_modify_flow", map[string]any{
		"flow_id": float64(detail.ID),
		"action":  "delete_step",
		"step_id": "write",
	}))
	require.NoError(t, err)
	v = decodeTool[model.FlowVersion](t, result)
	assert.Equal(t, 3, v.VersionNo)
	assert.Len(t, v.Steps, 2)
}

func TestModifyFlowToolErrors(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-modify-errors"))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"unknown action", map[string]any{"flow_id": float64(detail.ID), "action": "rename_step"}, "rename_step"},
		{"missing step", map[string]any{"flow_id": float64(detail.ID), "action": "delete_step", "step_id": "ghost"}, `step "ghost" not found`},
		{"missing flow", map[string]any{"flow_id": float64(999999), "action": "delete_step", "step_id": "read"}, "not found"},
		{"bad new_step", map[string]any{"flow_id": float64(detail.ID), "action": "update_step", "step_id": "read", "new_step": "{"}, "not valid JSON"},
		{"no flow id", map[string]any{"action": "delete_step"}, "flow_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := testServer.handleModifyFlow(editorCtx(), toolRequest("nagare_modify_flow", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), tt.want)
		})
	}
}

func TestExecuteAndRunStatusTools(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-exec"))

	result, err := testServer.handleExecuteFlow(editorCtx(), toolRequest("nagare_execute_flow",
		map[string]any{"flow_id": float64(detail.ID)}))
	require.NoError(t, err)
	run := decodeTool[map[string]any](t, result)
	assert.Equal(t, string(model.RunCompleted), run["status"])
	runID := run["run_id"].(float64)

	result, err = testServer.handleRunStatus(viewerCtx(), toolRequest("nagare_run_status",
		map[string]any{"run_id": runID}))
	require.NoError(t, err)
	snap := decodeTool[map[string]any](t, result)
	assert.Equal(t, string(model.RunCompleted), snap["status"])
	steps := snap["steps"].([]any)
	require.Len(t, steps, 2)
	read := steps[1].(map[string]any)
	assert.Equal(t, "read", read["step_id"])
	assert.Equal(t, "hello", read["result"].(map[string]any)["content"])
	assert.Contains(t, snap["summary"], "2 of 2 step(s) completed")
}

func TestExecuteToolStepFailure(t *testing.T) {
	def, _ := json.Marshal(model.FlowDefinition{
		Name: "mcp-exec-fail",
		Steps: []model.Step{
			{ID: "bad", Name: "Bad", Connector: "local_file", Action: "teleport"},
			{ID: "never", Name: "Never", Connector: "local_file", Action: "list_files"},
		},
	})
	detail := mustCreateFlow(t, string(def))

	result, err := testServer.handleExecuteFlow(editorCtx(), toolRequest("nagare_execute_flow",
		map[string]any{"flow_id": float64(detail.ID)}))
	require.NoError(t, err)
	run := decodeTool[map[string]any](t, result)
	assert.Equal(t, string(model.RunFailed), run["status"])
	assert.Equal(t, "bad", run["failed_step"])
}

func TestExecuteToolMissingVersion(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-exec-version"))

	result, err := testServer.handleExecuteFlow(editorCtx(), toolRequest("nagare_execute_flow",
		map[string]any{"flow_id": float64(detail.ID), "version_no": float64(7)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}

func TestRunStatusToolNotFound(t *testing.T) {
	result, err := testServer.handleRunStatus(viewerCtx(), toolRequest("nagare_run_status",
		map[string]any{"run_id": float64(987654)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListAndGetFlowTools(t *testing.T) {
	detail := mustCreateFlow(t, fileDefinition("mcp-list"))

	result, err := testServer.handleListFlows(viewerCtx(), toolRequest("nagare_list_flows",
		map[string]any{"limit": float64(500)}))
	require.NoError(t, err)
	page := decodeTool[model.ListResponse[model.Flow]](t, result)
	assert.Equal(t, 100, page.Limit, "limit is clamped")
	assert.GreaterOrEqual(t, page.Total, 1)

	result, err = testServer.handleGetFlow(viewerCtx(), toolRequest("nagare_get_flow",
		map[string]any{"flow_id": float64(detail.ID)}))
	require.NoError(t, err)
	got := decodeTool[model.FlowDetail](t, result)
	assert.Equal(t, "mcp-list", got.Name)
	assert.Equal(t, 1, got.VersionNo)

	result, err = testServer.handleGetFlow(viewerCtx(), toolRequest("nagare_get_flow",
		map[string]any{"flow_id": float64(999999)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListConnectorsTool(t *testing.T) {
	result, err := testServer.handleListConnectors(viewerCtx(), toolRequest("nagare_list_connectors", nil))
	require.NoError(t, err)
	resp := decodeTool[struct {
		Connectors []model.ConnectorInfo `json:"connectors"`
	}](t, result)
	require.Len(t, resp.Connectors, 1)
	assert.Equal(t, "local_file", resp.Connectors[0].Name)
	assert.Contains(t, resp.Connectors[0].Capabilities, "read_file")
}

func TestServiceErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &model.ValidationError{Problems: []string{"Missing flow name", "Missing steps"}},
			"invalid flow:\n- Missing flow name\n- Missing steps"},
		{"unsupported", &model.UnsupportedActionError{Connector: "sql", Action: "drop", Supported: []string{"query", "execute"}},
			`connector "sql" does not support action "drop"; supported actions: query, execute`},
		{"connector", &connector.NotFoundError{Name: "ftp", Available: []string{"local_file"}},
			`connector "ftp" not found; available connectors: local_file`},
		{"internal", fmt.Errorf("connection reset"), "list flows failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testServer.serviceError("list flows", tt.err)
			assert.True(t, result.IsError)
			assert.Equal(t, tt.want, parseToolText(t, result))
		})
	}
}
