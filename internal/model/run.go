package model

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the lifecycle state of a run step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Run is one execution attempt of a specific flow version.
type Run struct {
	ID         int64      `json:"run_id"`
	FlowID     int64      `json:"flow_id"`
	VersionNo  int        `json:"version_no"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// RunStep is the execution record of one step within a run.
// Position is the zero-based index of the step in the executed version.
type RunStep struct {
	ID         int64          `json:"-"`
	RunID      int64          `json:"run_id"`
	Position   int            `json:"position"`
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	Result     map[string]any `json:"result"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
}

// RunSnapshot is the status view of a run and all of its steps.
type RunSnapshot struct {
	RunID      int64             `json:"run_id"`
	FlowID     int64             `json:"flow_id"`
	VersionNo  int               `json:"version_no"`
	Status     RunStatus         `json:"status"`
	StartedAt  *time.Time        `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	Steps      []RunStepSnapshot `json:"steps"`
}

// RunStepSnapshot is one step inside a RunSnapshot.
type RunStepSnapshot struct {
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	Result     map[string]any `json:"result"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
}

// NewRunSnapshot builds the status view from a run and its ordered steps.
func NewRunSnapshot(run Run, steps []RunStep) RunSnapshot {
	started := run.StartedAt
	snap := RunSnapshot{
		RunID:      run.ID,
		FlowID:     run.FlowID,
		VersionNo:  run.VersionNo,
		Status:     run.Status,
		StartedAt:  &started,
		FinishedAt: run.FinishedAt,
		Steps:      make([]RunStepSnapshot, 0, len(steps)),
	}
	if run.StartedAt.IsZero() {
		snap.StartedAt = nil
	}
	for _, s := range steps {
		snap.Steps = append(snap.Steps, RunStepSnapshot{
			StepID:     s.StepID,
			Name:       s.Name,
			Status:     s.Status,
			Result:     s.Result,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}
	return snap
}

// RunEvent is published on every run or step transition.
type RunEvent struct {
	RunID  int64  `json:"run_id"`
	FlowID int64  `json:"flow_id"`
	StepID string `json:"step_id,omitempty"`
	Status string `json:"status"`
}
