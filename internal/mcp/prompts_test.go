package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptText(t *testing.T, result *mcplib.GetPromptResult) string {
	t.Helper()
	require.NotEmpty(t, result.Messages)
	assert.Equal(t, mcplib.RoleUser, result.Messages[0].Role)
	tc, ok := result.Messages[0].Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	return tc.Text
}

func TestDesignFlowPrompt(t *testing.T) {
	result, err := testServer.handleDesignFlowPrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "design-flow",
			Arguments: map[string]string{"goal": "copy notes.txt to backup.txt"},
		},
	})
	require.NoError(t, err)

	text := promptText(t, result)
	assert.Contains(t, text, "copy notes.txt to backup.txt")
	assert.Contains(t, text, "- local_file: ", "catalog should list registered connectors")
	assert.Contains(t, text, "read_file")
	assert.Contains(t, text, "nagare_validate_flow")
	assert.Contains(t, text, "nagare_create_flow")
}

func TestDesignFlowPromptMissingGoal(t *testing.T) {
	_, err := testServer.handleDesignFlowPrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: "design-flow", Arguments: map[string]string{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goal")
}

func TestModifyFlowPrompt(t *testing.T) {
	result, err := testServer.handleModifyFlowPrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "modify-flow",
			Arguments: map[string]string{"flow_id": "12", "change": "log before writing"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Description, "12")

	text := promptText(t, result)
	assert.Contains(t, text, "flow_id=12")
	assert.Contains(t, text, "insert_step")
	assert.Contains(t, text, "nagare_modify_flow")
}

func TestModifyFlowPromptMissingArgs(t *testing.T) {
	_, err := testServer.handleModifyFlowPrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: "modify-flow", Arguments: map[string]string{"flow_id": "1"}},
	})
	require.Error(t, err)
}
