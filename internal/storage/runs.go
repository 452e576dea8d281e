package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/nagare/internal/model"
)

const runColumns = `id, flow_id, version_no, status, started_at, finished_at`

const runStepColumns = `id, run_id, position, step_id, name, status, result, started_at, finished_at`

func scanRun(row pgx.Row) (model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.FlowID, &r.VersionNo, &r.Status, &r.StartedAt, &r.FinishedAt)
	return r, err
}

func scanRunStep(row pgx.Row) (model.RunStep, error) {
	var s model.RunStep
	err := row.Scan(&s.ID, &s.RunID, &s.Position, &s.StepID, &s.Name, &s.Status, &s.Result, &s.StartedAt, &s.FinishedAt)
	return s, err
}

// CreateRun inserts a running run for a flow version together with one
// pending run step per step, all in one transaction. Run steps are bulk
// loaded with COPY.
func (db *DB) CreateRun(ctx context.Context, flowID int64, versionNo int, steps []model.Step) (model.Run, []model.RunStep, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Run{}, nil, fmt.Errorf("storage: begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	run, err := scanRun(tx.QueryRow(ctx,
		`INSERT INTO runs (flow_id, version_no, status, started_at)
		 VALUES ($1, $2, $3, now())
		 RETURNING `+runColumns,
		flowID, versionNo, string(model.RunRunning),
	))
	if err != nil {
		return model.Run{}, nil, fmt.Errorf("storage: insert run: %w", err)
	}

	if len(steps) > 0 {
		rows := make([][]any, len(steps))
		for i, s := range steps {
			rows[i] = []any{run.ID, i, s.ID, s.Name, string(model.StepPending)}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"run_steps"},
			[]string{"run_id", "position", "step_id", "name", "status"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return model.Run{}, nil, fmt.Errorf("storage: copy run steps: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Run{}, nil, fmt.Errorf("storage: commit run: %w", err)
	}

	runSteps, err := db.ListRunSteps(ctx, run.ID)
	if err != nil {
		return model.Run{}, nil, err
	}
	return run, runSteps, nil
}

// GetRun returns a run by ID.
func (db *DB) GetRun(ctx context.Context, id int64) (model.Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrRunNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRunsByFlow returns a page of a flow's runs, newest first.
func (db *DB) ListRunsByFlow(ctx context.Context, flowID int64, limit, offset int) ([]model.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE flow_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		flowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunSteps returns a run's steps in step order.
func (db *DB) ListRunSteps(ctx context.Context, runID int64) ([]model.RunStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runStepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list run steps: %w", err)
	}
	defer rows.Close()

	steps := make([]model.RunStep, 0)
	for rows.Next() {
		s, err := scanRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// StartRunStep moves a pending run step to running and stamps started_at.
func (db *DB) StartRunStep(ctx context.Context, runID int64, position int) (model.RunStep, error) {
	step, err := scanRunStep(db.pool.QueryRow(ctx,
		`UPDATE run_steps SET status = $3, started_at = now()
		 WHERE run_id = $1 AND position = $2
		 RETURNING `+runStepColumns,
		runID, position, string(model.StepRunning),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunStep{}, ErrRunStepNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: start run step: %w", err)
	}
	return step, nil
}

// FinishRunStep records a run step's terminal status and result.
func (db *DB) FinishRunStep(ctx context.Context, runID int64, position int, status model.StepStatus, result map[string]any) (model.RunStep, error) {
	step, err := scanRunStep(db.pool.QueryRow(ctx,
		`UPDATE run_steps SET status = $3, result = $4, finished_at = now()
		 WHERE run_id = $1 AND position = $2
		 RETURNING `+runStepColumns,
		runID, position, string(status), result,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunStep{}, ErrRunStepNotFound
		}
		return model.RunStep{}, fmt.Errorf("storage: finish run step: %w", err)
	}
	return step, nil
}

// FinishRun sets a run's terminal status. The status is only ever set once:
// a second call returns ErrRunFinished.
func (db *DB) FinishRun(ctx context.Context, runID int64, status model.RunStatus) (model.Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`UPDATE runs SET status = $2, finished_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running')
		 RETURNING `+runColumns,
		runID, string(status),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := db.GetRun(ctx, runID); gerr != nil {
				return model.Run{}, gerr
			}
			return model.Run{}, ErrRunFinished
		}
		return model.Run{}, fmt.Errorf("storage: finish run: %w", err)
	}
	return run, nil
}
