package flows_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/flows"
)

func step(id string) model.Step {
	return model.Step{ID: id, Name: id, Type: "local_file"}
}

func ids(steps []model.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestApplyInsert(t *testing.T) {
	base := []model.Step{step("a"), step("b"), step("c")}
	x := step("x")

	tests := []struct {
		name     string
		anchor   string
		position model.Position
		want     []string
	}{
		{"before first", "a", model.PositionBefore, []string{"x", "a", "b", "c"}},
		{"after first", "a", model.PositionAfter, []string{"a", "x", "b", "c"}},
		{"before middle", "b", model.PositionBefore, []string{"a", "x", "b", "c"}},
		{"after last", "c", model.PositionAfter, []string{"a", "b", "c", "x"}},
		{"default is after", "b", "", []string{"a", "b", "x", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := flows.Apply(base, model.Modification{
				Action: model.OpInsertStep, AnchorStepID: tt.anchor, Position: tt.position, NewStep: &x,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
			assert.Equal(t, []string{"a", "b", "c"}, ids(base), "input must not change")
		})
	}
}

func TestApplyInsertUsesFirstAnchorMatch(t *testing.T) {
	base := []model.Step{step("a"), step("dup"), step("b"), step("dup")}
	x := step("x")
	got, err := flows.Apply(base, model.Modification{
		Action: model.OpInsertStep, AnchorStepID: "dup", Position: model.PositionAfter, NewStep: &x,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "dup", "x", "b", "dup"}, ids(got))
}

func TestApplyInsertErrors(t *testing.T) {
	base := []model.Step{step("a")}
	x := step("x")

	_, err := flows.Apply(base, model.Modification{Action: model.OpInsertStep, AnchorStepID: "zzz", NewStep: &x})
	var nf *model.StepNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "zzz", nf.StepID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = flows.Apply(base, model.Modification{Action: model.OpInsertStep})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 2)

	_, err = flows.Apply(base, model.Modification{Action: model.OpInsertStep, AnchorStepID: "a", NewStep: &x, Position: "sideways"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"position must be before or after"}, ve.Problems)
}

func TestApplyUpdate(t *testing.T) {
	base := []model.Step{step("a"), step("b"), step("b")}
	replacement := model.Step{ID: "b", Name: "renamed", Type: "email"}

	got, err := flows.Apply(base, model.Modification{Action: model.OpUpdateStep, StepID: "b", NewStep: &replacement})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "renamed", got[1].Name)
	assert.Equal(t, "b", got[2].Name, "only the first match is replaced")
	assert.Equal(t, "b", base[1].Name)

	_, err = flows.Apply(base, model.Modification{Action: model.OpUpdateStep, StepID: "zzz", NewStep: &replacement})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = flows.Apply(base, model.Modification{Action: model.OpUpdateStep, StepID: "a"})
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestApplyDelete(t *testing.T) {
	base := []model.Step{step("a"), step("dup"), step("b"), step("dup")}

	got, err := flows.Apply(base, model.Modification{Action: model.OpDeleteStep, StepID: "dup"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got), "all duplicates are removed")
	assert.Len(t, base, 4)

	got, err = flows.Apply([]model.Step{step("only")}, model.Modification{Action: model.OpDeleteStep, StepID: "only"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = flows.Apply(base, model.Modification{Action: model.OpDeleteStep, StepID: "zzz"})
	var nf *model.StepNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestApplyUnknownOperation(t *testing.T) {
	_, err := flows.Apply(nil, model.Modification{Action: "rename_step"})
	var uo *model.UnknownOperationError
	require.ErrorAs(t, err, &uo)
	assert.Equal(t, "rename_step", uo.Operation)
}
