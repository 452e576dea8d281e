package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/ctxutil"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/flows"
)

func (s *Server) registerTools() {
	// nagare_validate_flow — dry-run validation of a definition.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_validate_flow",
			mcplib.WithDescription(`Validate a flow definition without saving it.

WHEN TO USE: Before nagare_create_flow, and whenever you have edited a draft.
Every problem is reported at once, in step order, so fix them all and call
again until valid is true.

WHAT YOU GET BACK:
- valid: whether the definition can be saved
- errors: one message per problem, e.g. "Step 2 missing name"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("definition",
				mcplib.Description(`The flow definition as JSON: {"name": "...", "description": "...", "steps": [{"id": "s1", "name": "...", "connector": "local_file", "action": "read_file", "params": {...}, "onError": "stop"}]}`),
				mcplib.Required(),
			),
		),
		s.handleValidateFlow,
	)

	// nagare_create_flow — persist a new flow as version 1.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_create_flow",
			mcplib.WithDescription(`Create a new flow from a definition. The flow starts at version 1.

The definition is validated first; nothing is written if any problem is
found. Requires the editor role.

WHAT YOU GET BACK: the stored flow with its id, current_version and steps.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("definition",
				mcplib.Description("The flow definition as JSON, in the same shape nagare_validate_flow accepts."),
				mcplib.Required(),
			),
		),
		s.handleCreateFlow,
	)

	// nagare_modify_flow — derive a new version by changing one step.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_modify_flow",
			mcplib.WithDescription(`Change one step of a flow, producing a new version. Earlier versions are kept.

ACTIONS:
- insert_step: new_step placed before or after anchor_step_id
- update_step: step_id replaced by new_step (the id is kept)
- delete_step: step_id removed

Requires the editor role.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("flow_id",
				mcplib.Description("The flow to modify"),
				mcplib.Required(),
			),
			mcplib.WithString("action",
				mcplib.Description("The modification to apply"),
				mcplib.Enum(string(model.OpInsertStep), string(model.OpUpdateStep), string(model.OpDeleteStep)),
				mcplib.Required(),
			),
			mcplib.WithString("step_id",
				mcplib.Description("Target step for update_step and delete_step"),
			),
			mcplib.WithString("anchor_step_id",
				mcplib.Description("Existing step next to which insert_step places the new step"),
			),
			mcplib.WithString("position",
				mcplib.Description("Where insert_step places the new step relative to the anchor"),
				mcplib.Enum(string(model.PositionBefore), string(model.PositionAfter)),
			),
			mcplib.WithString("new_step",
				mcplib.Description("The step as JSON, for insert_step and update_step"),
			),
		),
		s.handleModifyFlow,
	)

	// nagare_execute_flow — run a flow version to completion.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_execute_flow",
			mcplib.WithDescription(`Execute a flow. Steps run in order through their connectors.

A failing step stops the run unless its onError is "continue". The call
returns when the run is finished; use nagare_run_status with the returned
run_id to see per-step results. Requires the editor role.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithNumber("flow_id",
				mcplib.Description("The flow to execute"),
				mcplib.Required(),
			),
			mcplib.WithNumber("version_no",
				mcplib.Description("Version to execute. Defaults to the current version."),
				mcplib.Min(1),
			),
		),
		s.handleExecuteFlow,
	)

	// nagare_run_status — status of a run and its steps.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_run_status",
			mcplib.WithDescription(`Get the status of a run and each of its steps.

Long string values in step results are shortened.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("run_id",
				mcplib.Description("The run to inspect"),
				mcplib.Required(),
			),
		),
		s.handleRunStatus,
	)

	// nagare_list_flows — page through stored flows.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_list_flows",
			mcplib.WithDescription("List stored flows, most recently updated first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum flows to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
			mcplib.WithNumber("offset",
				mcplib.Description("Number of flows to skip"),
				mcplib.Min(0),
			),
		),
		s.handleListFlows,
	)

	// nagare_get_flow — one flow with its steps.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_get_flow",
			mcplib.WithDescription("Get a flow and the steps of its current version, or of a specific version."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("flow_id",
				mcplib.Description("The flow to load"),
				mcplib.Required(),
			),
			mcplib.WithNumber("version_no",
				mcplib.Description("Version to load. Defaults to the current version."),
				mcplib.Min(1),
			),
		),
		s.handleGetFlow,
	)

	// nagare_list_connectors — what steps can dispatch to.
	s.mcpServer.AddTool(
		mcplib.NewTool("nagare_list_connectors",
			mcplib.WithDescription(`List registered connectors and the actions each one supports.

WHEN TO USE: Before writing steps. A step's connector must be one of these
names and its action one of that connector's capabilities.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListConnectors,
	)
}

func (s *Server) handleValidateFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	def, err := parseDefinition(request.GetString("definition", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(flows.Validate(def))
}

func (s *Server) handleCreateFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleEditor) {
		return errorResult("creating flows requires the editor role"), nil
	}
	def, err := parseDefinition(request.GetString("definition", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if def.Author == "" {
		def.Author = ctxutil.SubjectFromContext(ctx)
	}

	detail, err := s.flows.Create(ctx, def)
	if err != nil {
		return s.serviceError("create flow", err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleModifyFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleEditor) {
		return errorResult("modifying flows requires the editor role"), nil
	}
	flowID := int64(request.GetInt("flow_id", 0))
	if flowID <= 0 {
		return errorResult("flow_id is required"), nil
	}

	mod := model.Modification{
		Action:       model.ModificationOp(request.GetString("action", "")),
		StepID:       request.GetString("step_id", ""),
		AnchorStepID: request.GetString("anchor_step_id", ""),
		Position:     model.Position(request.GetString("position", "")),
		Author:       ctxutil.SubjectFromContext(ctx),
	}
	if raw := request.GetString("new_step", ""); raw != "" {
		var step model.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return errorResult(fmt.Sprintf("new_step is not valid JSON: %v", err)), nil
		}
		mod.NewStep = &step
	}

	v, err := s.flows.ApplyModification(ctx, flowID, mod)
	if err != nil {
		return s.serviceError("modify flow", err), nil
	}
	return jsonResult(v)
}

func (s *Server) handleExecuteFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleEditor) {
		return errorResult("executing flows requires the editor role"), nil
	}
	flowID := int64(request.GetInt("flow_id", 0))
	if flowID <= 0 {
		return errorResult("flow_id is required"), nil
	}

	run, err := s.executor.Execute(ctx, flowID, request.GetInt("version_no", 0))
	var stepErr *model.StepExecutionError
	switch {
	case errors.As(err, &stepErr):
		// The run exists and is already marked failed.
		return jsonResult(map[string]any{
			"run_id":      run.ID,
			"flow_id":     run.FlowID,
			"version_no":  run.VersionNo,
			"status":      run.Status,
			"failed_step": stepErr.StepID,
			"error":       stepErr.Message,
		})
	case err != nil:
		return s.serviceError("execute flow", err), nil
	}
	return jsonResult(map[string]any{
		"run_id":     run.ID,
		"flow_id":    run.FlowID,
		"version_no": run.VersionNo,
		"status":     run.Status,
	})
}

func (s *Server) handleRunStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := int64(request.GetInt("run_id", 0))
	if runID <= 0 {
		return errorResult("run_id is required"), nil
	}
	snap, err := s.tracker.StatusSnapshot(ctx, runID)
	if err != nil {
		return s.serviceError("run status", err), nil
	}
	return jsonResult(compactSnapshot(snap))
}

func (s *Server) handleListFlows(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := min(max(request.GetInt("limit", 20), 1), 100)
	offset := max(request.GetInt("offset", 0), 0)

	items, total, err := s.flows.List(ctx, limit, offset)
	if err != nil {
		return s.serviceError("list flows", err), nil
	}
	if items == nil {
		items = []model.Flow{}
	}
	return jsonResult(model.ListResponse[model.Flow]{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetFlow(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	flowID := int64(request.GetInt("flow_id", 0))
	if flowID <= 0 {
		return errorResult("flow_id is required"), nil
	}
	detail, err := s.flows.Detail(ctx, flowID, request.GetInt("version_no", 0))
	if err != nil {
		return s.serviceError("get flow", err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleListConnectors(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(map[string]any{"connectors": s.registry.List()})
}

// parseDefinition decodes a definition supplied as JSON text.
func parseDefinition(raw string) (model.FlowDefinition, error) {
	var def model.FlowDefinition
	if strings.TrimSpace(raw) == "" {
		return def, errors.New("definition is required")
	}
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return def, fmt.Errorf("definition is not valid JSON: %w", err)
	}
	return def, nil
}

// serviceError turns a service failure into a tool error the caller can act
// on. Unexpected failures are logged and reported without detail.
func (s *Server) serviceError(op string, err error) *mcplib.CallToolResult {
	var (
		valErr   *model.ValidationError
		unsup    *model.UnsupportedActionError
		unknown  *model.UnknownOperationError
		notFound *connector.NotFoundError
	)
	switch {
	case errors.As(err, &valErr):
		return errorResult("invalid flow:\n- " + strings.Join(valErr.Problems, "\n- "))
	case errors.As(err, &unsup):
		return errorResult(fmt.Sprintf("connector %q does not support action %q; supported actions: %s",
			unsup.Connector, unsup.Action, strings.Join(unsup.Supported, ", ")))
	case errors.As(err, &unknown):
		return errorResult(unknown.Error())
	case errors.As(err, &notFound):
		return errorResult(fmt.Sprintf("connector %q not found; available connectors: %s",
			notFound.Name, strings.Join(notFound.Available, ", ")))
	case errors.Is(err, model.ErrNotFound):
		return errorResult(err.Error())
	}
	s.logger.Error("mcp: "+op+" failed", "error", err)
	return errorResult(op + " failed")
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
