package model

// ModificationOp names a step-modification operation.
type ModificationOp string

const (
	OpInsertStep ModificationOp = "insert_step"
	OpUpdateStep ModificationOp = "update_step"
	OpDeleteStep ModificationOp = "delete_step"
)

// Position is where an inserted step lands relative to its anchor.
type Position string

const (
	PositionBefore Position = "before"
	PositionAfter  Position = "after"
)

// Modification is a request to derive a new flow version from the current
// one by inserting, updating or deleting a single step.
type Modification struct {
	Action       ModificationOp `json:"action"`
	AnchorStepID string         `json:"anchor_step_id,omitempty"`
	Position     Position       `json:"position,omitempty"`
	NewStep      *Step          `json:"new_step,omitempty"`
	StepID       string         `json:"step_id,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Author       string         `json:"author,omitempty"`
}
