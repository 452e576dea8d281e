package model

import "time"

// OnErrorPolicy governs whether a failed step aborts its run.
type OnErrorPolicy string

const (
	OnErrorStop     OnErrorPolicy = "stop"
	OnErrorContinue OnErrorPolicy = "continue"
)

// DefaultRetryAttempts is used when a step enables retry without a limit.
const DefaultRetryAttempts = 3

// MaxRetryAttempts caps max_attempts regardless of what a definition declares.
const MaxRetryAttempts = 10

// RetryPolicy is the optional retry configuration of a step.
type RetryPolicy struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	MaxAttempts int  `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// Attempts returns the total number of dispatch attempts the policy allows.
func (p *RetryPolicy) Attempts() int {
	if p == nil || !p.Enabled {
		return 1
	}
	switch {
	case p.MaxAttempts <= 0:
		return DefaultRetryAttempts
	case p.MaxAttempts > MaxRetryAttempts:
		return MaxRetryAttempts
	default:
		return p.MaxAttempts
	}
}

// Step is one unit of work in a flow version. Steps are values: a version's
// step list is never mutated after it is persisted.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Type      string         `json:"type,omitempty" yaml:"type,omitempty"`
	Connector string         `json:"connector,omitempty" yaml:"connector,omitempty"`
	Action    string         `json:"action,omitempty" yaml:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Retry     *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	OnError   OnErrorPolicy  `json:"onError,omitempty" yaml:"onError,omitempty"`
}

// ErrorPolicy returns the effective onError policy. Anything other than
// "continue" stops the run.
func (s Step) ErrorPolicy() OnErrorPolicy {
	if s.OnError == OnErrorContinue {
		return OnErrorContinue
	}
	return OnErrorStop
}

// Dispatchable reports whether the step names both a connector and an action.
func (s Step) Dispatchable() bool {
	return s.Connector != "" && s.Action != ""
}

// NormalizeSteps returns a copy of steps with Type filled from Connector
// where it was left empty.
func NormalizeSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.Type == "" {
			s.Type = s.Connector
		}
		out[i] = s
	}
	return out
}

// Flow is the metadata row of a versioned flow.
type Flow struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CurrentVersion int       `json:"current_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FlowVersion is an immutable snapshot of a flow's step list.
type FlowVersion struct {
	FlowID    int64     `json:"flow_id"`
	VersionNo int       `json:"version_no"`
	Steps     []Step    `json:"steps"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// FlowVersionInfo is version metadata without the step list.
type FlowVersionInfo struct {
	FlowID    int64     `json:"flow_id"`
	VersionNo int       `json:"version_no"`
	Author    string    `json:"author"`
	StepCount int       `json:"step_count"`
	CreatedAt time.Time `json:"created_at"`
}

// FlowDefinition is the authoring input for a new flow. It usually comes
// from a generative caller and is validated before anything is written.
type FlowDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Steps       []Step `json:"steps" yaml:"steps"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
}

// FlowDetail is a flow together with the steps of a loaded version.
type FlowDetail struct {
	Flow
	VersionNo int    `json:"version_no"`
	Steps     []Step `json:"steps"`
}

// DeleteFlowResult counts the rows removed by a flow delete.
type DeleteFlowResult struct {
	Flows     int64 `json:"flows"`
	Versions  int64 `json:"versions"`
	Runs      int64 `json:"runs"`
	RunSteps  int64 `json:"run_steps"`
	Artifacts int   `json:"artifacts"`
}
