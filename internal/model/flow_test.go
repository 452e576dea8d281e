package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/nagare/internal/model"
)

func TestRetryPolicyAttempts(t *testing.T) {
	var nilPolicy *model.RetryPolicy
	assert.Equal(t, 1, nilPolicy.Attempts())
	assert.Equal(t, 1, (&model.RetryPolicy{MaxAttempts: 5}).Attempts(), "disabled policy dispatches once")
	assert.Equal(t, model.DefaultRetryAttempts, (&model.RetryPolicy{Enabled: true}).Attempts())
	assert.Equal(t, 4, (&model.RetryPolicy{Enabled: true, MaxAttempts: 4}).Attempts())
	assert.Equal(t, model.MaxRetryAttempts, (&model.RetryPolicy{Enabled: true, MaxAttempts: 1000}).Attempts())
}

func TestStepErrorPolicy(t *testing.T) {
	assert.Equal(t, model.OnErrorStop, model.Step{}.ErrorPolicy())
	assert.Equal(t, model.OnErrorStop, model.Step{OnError: "bogus"}.ErrorPolicy())
	assert.Equal(t, model.OnErrorContinue, model.Step{OnError: model.OnErrorContinue}.ErrorPolicy())
}

func TestStepDispatchable(t *testing.T) {
	assert.True(t, model.Step{Connector: "local_file", Action: "read_file"}.Dispatchable())
	assert.False(t, model.Step{Connector: "local_file"}.Dispatchable())
	assert.False(t, model.Step{Action: "read_file"}.Dispatchable())
}

func TestNormalizeSteps(t *testing.T) {
	in := []model.Step{
		{ID: "a", Connector: "local_file"},
		{ID: "b", Type: "custom", Connector: "sql"},
	}
	out := model.NormalizeSteps(in)
	assert.Equal(t, "local_file", out[0].Type)
	assert.Equal(t, "custom", out[1].Type)
	assert.Empty(t, in[0].Type, "input must not be mutated")
	assert.Nil(t, model.NormalizeSteps(nil))
}

func TestNewRunSnapshot(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := model.Run{ID: 7, FlowID: 3, VersionNo: 2, Status: model.RunCompleted, StartedAt: started}
	steps := []model.RunStep{
		{RunID: 7, Position: 0, StepID: "s1", Name: "Read", Status: model.StepCompleted, Result: map[string]any{"status": "success"}},
		{RunID: 7, Position: 1, StepID: "s2", Name: "Write", Status: model.StepPending},
	}

	snap := model.NewRunSnapshot(run, steps)
	assert.Equal(t, int64(7), snap.RunID)
	assert.Equal(t, started, *snap.StartedAt)
	assert.Nil(t, snap.FinishedAt)
	assert.Len(t, snap.Steps, 2)
	assert.Equal(t, "s2", snap.Steps[1].StepID)
	assert.Nil(t, snap.Steps[1].StartedAt)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, model.RunRunning.Terminal())
	assert.True(t, model.RunCompleted.Terminal())
	assert.True(t, model.RunFailed.Terminal())
}

func TestErrorKinds(t *testing.T) {
	err := &model.StepNotFoundError{StepID: "s9"}
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Equal(t, `step "s9" not found`, err.Error())

	cause := errors.New("boom")
	se := &model.StepExecutionError{RunID: 1, StepID: "s1", Message: "boom", Err: cause}
	assert.ErrorIs(t, se, cause)

	ua := &model.UnsupportedActionError{Connector: "sql", Action: "drop", Supported: []string{"query", "insert"}}
	assert.Contains(t, ua.Error(), "query, insert")
}

func TestRoles(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleEditor))
	assert.True(t, model.RoleAtLeast(model.RoleEditor, model.RoleEditor))
	assert.False(t, model.RoleAtLeast(model.RoleViewer, model.RoleEditor))
	assert.False(t, model.RoleAtLeast(model.RoleAdmin, model.Role("root")))

	r, err := model.ParseRole("editor")
	assert.NoError(t, err)
	assert.Equal(t, model.RoleEditor, r)
	_, err = model.ParseRole("owner")
	assert.Error(t, err)
}
