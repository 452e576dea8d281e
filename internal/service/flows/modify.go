package flows

import (
	"slices"

	"github.com/ashita-ai/nagare/internal/model"
)

// Apply derives a new step list from steps by applying mod. steps is never
// modified. The result is not validated; callers validate it before
// persisting.
//
// insert_step places the new step before or after the first step whose ID
// matches the anchor (after when no position is given). update_step replaces
// the first match in place. delete_step removes every match. A modification
// whose target matches nothing fails with *model.StepNotFoundError.
func Apply(steps []model.Step, mod model.Modification) ([]model.Step, error) {
	switch mod.Action {
	case model.OpInsertStep:
		return insertStep(steps, mod)
	case model.OpUpdateStep:
		return updateStep(steps, mod)
	case model.OpDeleteStep:
		return deleteStep(steps, mod)
	default:
		return nil, &model.UnknownOperationError{Operation: string(mod.Action)}
	}
}

func indexOf(steps []model.Step, id string) int {
	return slices.IndexFunc(steps, func(s model.Step) bool { return s.ID == id })
}

func insertStep(steps []model.Step, mod model.Modification) ([]model.Step, error) {
	var problems []string
	if mod.AnchorStepID == "" {
		problems = append(problems, "anchor_step_id is required for insert_step")
	}
	if mod.NewStep == nil {
		problems = append(problems, "new_step is required for insert_step")
	}
	switch mod.Position {
	case "", model.PositionBefore, model.PositionAfter:
	default:
		problems = append(problems, "position must be before or after")
	}
	if len(problems) > 0 {
		return nil, &model.ValidationError{Problems: problems}
	}

	idx := indexOf(steps, mod.AnchorStepID)
	if idx < 0 {
		return nil, &model.StepNotFoundError{StepID: mod.AnchorStepID}
	}
	if mod.Position != model.PositionBefore {
		idx++
	}
	return slices.Insert(slices.Clone(steps), idx, *mod.NewStep), nil
}

func updateStep(steps []model.Step, mod model.Modification) ([]model.Step, error) {
	var problems []string
	if mod.StepID == "" {
		problems = append(problems, "step_id is required for update_step")
	}
	if mod.NewStep == nil {
		problems = append(problems, "new_step is required for update_step")
	}
	if len(problems) > 0 {
		return nil, &model.ValidationError{Problems: problems}
	}

	idx := indexOf(steps, mod.StepID)
	if idx < 0 {
		return nil, &model.StepNotFoundError{StepID: mod.StepID}
	}
	out := slices.Clone(steps)
	out[idx] = *mod.NewStep
	return out, nil
}

func deleteStep(steps []model.Step, mod model.Modification) ([]model.Step, error) {
	if mod.StepID == "" {
		return nil, &model.ValidationError{Problems: []string{"step_id is required for delete_step"}}
	}
	out := slices.DeleteFunc(slices.Clone(steps), func(s model.Step) bool { return s.ID == mod.StepID })
	if len(out) == len(steps) {
		return nil, &model.StepNotFoundError{StepID: mod.StepID}
	}
	return out, nil
}
