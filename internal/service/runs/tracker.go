// Package runs tracks run and run-step lifecycles and announces every
// transition on the runs notification channel.
package runs

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/storage"
)

// Tracker persists run state. Every successful transition is followed by a
// best-effort model.RunEvent on storage.ChannelRuns.
type Tracker struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a Tracker.
func New(db *storage.DB, logger *slog.Logger) *Tracker {
	return &Tracker{db: db, logger: logger}
}

// Start materializes a running run and one pending run step per step of the
// version, before any step executes.
func (t *Tracker) Start(ctx context.Context, flowID int64, versionNo int, steps []model.Step) (model.Run, []model.RunStep, error) {
	run, runSteps, err := t.db.CreateRun(ctx, flowID, versionNo, steps)
	if err != nil {
		return model.Run{}, nil, err
	}
	t.publish(ctx, model.RunEvent{RunID: run.ID, FlowID: flowID, Status: string(run.Status)})
	return run, runSteps, nil
}

// Get returns a run.
func (t *Tracker) Get(ctx context.Context, runID int64) (model.Run, error) {
	return t.db.GetRun(ctx, runID)
}

// Steps returns the run's steps in step order, not completion order.
func (t *Tracker) Steps(ctx context.Context, runID int64) ([]model.RunStep, error) {
	return t.db.ListRunSteps(ctx, runID)
}

// StatusSnapshot returns the run with every step's status and result.
func (t *Tracker) StatusSnapshot(ctx context.Context, runID int64) (model.RunSnapshot, error) {
	run, err := t.db.GetRun(ctx, runID)
	if err != nil {
		return model.RunSnapshot{}, err
	}
	steps, err := t.db.ListRunSteps(ctx, runID)
	if err != nil {
		return model.RunSnapshot{}, err
	}
	return model.NewRunSnapshot(run, steps), nil
}

// ListByFlow returns a page of a flow's runs, newest first.
func (t *Tracker) ListByFlow(ctx context.Context, flowID int64, limit, offset int) ([]model.Run, error) {
	return t.db.ListRunsByFlow(ctx, flowID, limit, offset)
}

// StartStep moves the step at position to running.
func (t *Tracker) StartStep(ctx context.Context, run model.Run, position int) (model.RunStep, error) {
	step, err := t.db.StartRunStep(ctx, run.ID, position)
	if err != nil {
		return model.RunStep{}, err
	}
	t.publish(ctx, model.RunEvent{RunID: run.ID, FlowID: run.FlowID, StepID: step.StepID, Status: string(step.Status)})
	return step, nil
}

// FinishStep records the step's terminal status and result.
func (t *Tracker) FinishStep(ctx context.Context, run model.Run, position int, status model.StepStatus, result map[string]any) (model.RunStep, error) {
	step, err := t.db.FinishRunStep(ctx, run.ID, position, status, result)
	if err != nil {
		return model.RunStep{}, err
	}
	t.publish(ctx, model.RunEvent{RunID: run.ID, FlowID: run.FlowID, StepID: step.StepID, Status: string(step.Status)})
	return step, nil
}

// Finish sets the run's terminal status.
func (t *Tracker) Finish(ctx context.Context, runID int64, status model.RunStatus) (model.Run, error) {
	run, err := t.db.FinishRun(ctx, runID, status)
	if err != nil {
		return model.Run{}, err
	}
	t.publish(ctx, model.RunEvent{RunID: run.ID, FlowID: run.FlowID, Status: string(run.Status)})
	return run, nil
}

func (t *Tracker) publish(ctx context.Context, ev model.RunEvent) {
	if err := t.db.PublishRunEvent(ctx, ev); err != nil {
		t.logger.Debug("runs: event not published", "run_id", ev.RunID, "error", err)
	}
}
