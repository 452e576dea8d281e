package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// design-flow — walks the agent from a goal to a saved, valid flow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("design-flow",
			mcplib.WithPromptDescription("Design a new flow from a plain-language goal"),
			mcplib.WithArgument("goal",
				mcplib.ArgumentDescription("What the flow should accomplish, e.g. 'read sales.csv and email a summary'"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleDesignFlowPrompt,
	)

	// modify-flow — guides a single-step change to an existing flow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("modify-flow",
			mcplib.WithPromptDescription("Change an existing flow one step at a time"),
			mcplib.WithArgument("flow_id",
				mcplib.ArgumentDescription("The flow to change"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("change",
				mcplib.ArgumentDescription("The change to make, in plain language"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleModifyFlowPrompt,
	)
}

func (s *Server) handleDesignFlowPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	goal := request.Params.Arguments["goal"]
	if goal == "" {
		return nil, fmt.Errorf("goal argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: "Design a flow for: " + truncate(goal, 80),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Design a Nagare flow that accomplishes this goal:

%s

Available connectors and their actions:
%s

Follow these steps:

1. PLAN the steps in order. Each step calls exactly one connector action.
   Give every step a short unique id ("s1", "read_input", ...) and a name.

2. WRITE the definition as JSON:
   {"name": "...", "description": "...", "steps": [
     {"id": "s1", "name": "...", "connector": "<connector>", "action": "<action>",
      "params": {...}, "onError": "stop"}
   ]}
   Use onError "continue" only for steps whose failure should not abort the run.
   Add "retry": {"enabled": true, "max_attempts": 3} to steps that touch flaky systems.

3. CALL nagare_validate_flow with the definition. Fix every reported error and
   validate again until valid is true.

4. CALL nagare_create_flow with the final definition and report the flow id.`,
						goal, s.connectorCatalog()),
				},
			},
		},
	}, nil
}

func (s *Server) handleModifyFlowPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	flowID := request.Params.Arguments["flow_id"]
	change := request.Params.Arguments["change"]
	if flowID == "" || change == "" {
		return nil, fmt.Errorf("flow_id and change arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Modify flow %s", flowID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Apply this change to flow %s:

%s

1. CALL nagare_get_flow with flow_id=%s and read the current steps.

2. EXPRESS the change as one or more single-step modifications:
   - insert_step with anchor_step_id, position ("before" or "after") and new_step
   - update_step with step_id and the complete replacement new_step
   - delete_step with step_id
   new_step is a JSON object with id, name, connector, action and params.

3. CALL nagare_modify_flow once per modification. Each call creates a new
   version; earlier versions stay available.

4. REPORT the resulting version number and the final step order.`, flowID, change, flowID),
				},
			},
		},
	}, nil
}

// connectorCatalog renders the registered connectors as a bullet list.
func (s *Server) connectorCatalog() string {
	var b strings.Builder
	for _, c := range s.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, strings.Join(c.Capabilities, ", "))
	}
	if b.Len() == 0 {
		return "(none registered)\n"
	}
	return b.String()
}
