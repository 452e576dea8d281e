package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/nagare/internal/model"
)

const flowColumns = `id, name, description, current_version, created_at, updated_at`

func scanFlow(row pgx.Row) (model.Flow, error) {
	var f model.Flow
	err := row.Scan(&f.ID, &f.Name, &f.Description, &f.CurrentVersion, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// CreateFlow inserts a flow and its first version in one transaction. The
// caller is responsible for validating steps beforehand.
func (db *DB) CreateFlow(ctx context.Context, name, description string, steps []model.Step, author string) (model.Flow, model.FlowVersion, error) {
	if steps == nil {
		steps = []model.Step{}
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Flow{}, model.FlowVersion{}, fmt.Errorf("storage: begin create flow tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	flow, err := scanFlow(tx.QueryRow(ctx,
		`INSERT INTO flows (name, description, current_version)
		 VALUES ($1, $2, 1)
		 RETURNING `+flowColumns,
		name, description,
	))
	if err != nil {
		return model.Flow{}, model.FlowVersion{}, fmt.Errorf("storage: insert flow: %w", err)
	}

	version := model.FlowVersion{FlowID: flow.ID, VersionNo: 1, Steps: steps, Author: author}
	if err := tx.QueryRow(ctx,
		`INSERT INTO flow_versions (flow_id, version_no, steps, author)
		 VALUES ($1, 1, $2, $3)
		 RETURNING created_at`,
		flow.ID, steps, author,
	).Scan(&version.CreatedAt); err != nil {
		return model.Flow{}, model.FlowVersion{}, fmt.Errorf("storage: insert flow version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Flow{}, model.FlowVersion{}, fmt.Errorf("storage: commit create flow: %w", err)
	}
	return flow, version, nil
}

// GetFlow returns a flow by ID.
func (db *DB) GetFlow(ctx context.Context, id int64) (model.Flow, error) {
	flow, err := scanFlow(db.pool.QueryRow(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Flow{}, ErrFlowNotFound
		}
		return model.Flow{}, fmt.Errorf("storage: get flow: %w", err)
	}
	return flow, nil
}

// ListFlows returns a page of flows, newest first, and the total count.
func (db *DB) ListFlows(ctx context.Context, limit, offset int) ([]model.Flow, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM flows`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count flows: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+flowColumns+` FROM flows ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list flows: %w", err)
	}
	defer rows.Close()

	flows := make([]model.Flow, 0)
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, total, rows.Err()
}

// GetFlowVersion loads one version of a flow. versionNo <= 0 selects the
// flow's current version.
func (db *DB) GetFlowVersion(ctx context.Context, flowID int64, versionNo int) (model.FlowVersion, error) {
	var v model.FlowVersion
	err := db.pool.QueryRow(ctx,
		`SELECT v.flow_id, v.version_no, v.steps, v.author, v.created_at
		 FROM flow_versions v
		 JOIN flows f ON f.id = v.flow_id
		 WHERE v.flow_id = $1
		   AND v.version_no = CASE WHEN $2::int > 0 THEN $2::int ELSE f.current_version END`,
		flowID, versionNo,
	).Scan(&v.FlowID, &v.VersionNo, &v.Steps, &v.Author, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, ferr := db.GetFlow(ctx, flowID); ferr != nil {
				return model.FlowVersion{}, ferr
			}
			return model.FlowVersion{}, ErrFlowVersionNotFound
		}
		return model.FlowVersion{}, fmt.Errorf("storage: get flow version: %w", err)
	}
	if v.Steps == nil {
		v.Steps = []model.Step{}
	}
	return v, nil
}

// ListFlowVersions returns version metadata for a flow in ascending order.
func (db *DB) ListFlowVersions(ctx context.Context, flowID int64) ([]model.FlowVersionInfo, error) {
	if _, err := db.GetFlow(ctx, flowID); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT flow_id, version_no, author, jsonb_array_length(steps), created_at
		 FROM flow_versions WHERE flow_id = $1 ORDER BY version_no`, flowID)
	if err != nil {
		return nil, fmt.Errorf("storage: list flow versions: %w", err)
	}
	defer rows.Close()

	var out []model.FlowVersionInfo
	for rows.Next() {
		var info model.FlowVersionInfo
		if err := rows.Scan(&info.FlowID, &info.VersionNo, &info.Author, &info.StepCount, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan flow version: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// MutateSteps derives the next step list from the current one. It may be
// called more than once if the surrounding transaction is retried, so it
// must not have side effects.
type MutateSteps func(current []model.Step) ([]model.Step, error)

// CreateFlowVersion appends version current_version+1 to a flow and advances
// its pointer. The flow row is locked for the duration of the transaction,
// so concurrent callers serialize and never compute the same version number.
// If mutate returns an error nothing is written and that error is returned.
// A nil description leaves the flow's description unchanged.
func (db *DB) CreateFlowVersion(ctx context.Context, flowID int64, author string, description *string, mutate MutateSteps) (model.FlowVersion, error) {
	var created model.FlowVersion
	err := replayVersionWrite(ctx, db.logger, flowID, versionWriteReplays, versionWriteBackoff, func() error {
		v, err := db.createFlowVersionTx(ctx, flowID, author, description, mutate)
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return model.FlowVersion{}, err
	}
	return created, nil
}

func (db *DB) createFlowVersionTx(ctx context.Context, flowID int64, author string, description *string, mutate MutateSteps) (model.FlowVersion, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.FlowVersion{}, fmt.Errorf("storage: begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int
	err = tx.QueryRow(ctx,
		`SELECT current_version FROM flows WHERE id = $1 FOR UPDATE`, flowID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FlowVersion{}, ErrFlowNotFound
		}
		return model.FlowVersion{}, fmt.Errorf("storage: lock flow: %w", err)
	}

	var steps []model.Step
	err = tx.QueryRow(ctx,
		`SELECT steps FROM flow_versions WHERE flow_id = $1 AND version_no = $2`,
		flowID, current,
	).Scan(&steps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FlowVersion{}, ErrFlowVersionNotFound
		}
		return model.FlowVersion{}, fmt.Errorf("storage: load current steps: %w", err)
	}

	next, err := mutate(steps)
	if err != nil {
		return model.FlowVersion{}, err
	}
	if next == nil {
		next = []model.Step{}
	}

	version := model.FlowVersion{FlowID: flowID, VersionNo: current + 1, Steps: next, Author: author}
	if err := tx.QueryRow(ctx,
		`INSERT INTO flow_versions (flow_id, version_no, steps, author)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		flowID, version.VersionNo, next, author,
	).Scan(&version.CreatedAt); err != nil {
		return model.FlowVersion{}, fmt.Errorf("storage: insert flow version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE flows
		 SET current_version = $2, updated_at = now(), description = COALESCE($3, description)
		 WHERE id = $1`,
		flowID, version.VersionNo, description,
	); err != nil {
		return model.FlowVersion{}, fmt.Errorf("storage: advance current version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.FlowVersion{}, fmt.Errorf("storage: commit version: %w", err)
	}
	return version, nil
}

// DeleteFlow removes a flow with its run steps, runs and versions in one
// transaction. Deleting a missing flow is not an error; the returned counts
// are all zero.
func (db *DB) DeleteFlow(ctx context.Context, flowID int64) (model.DeleteFlowResult, error) {
	var result model.DeleteFlowResult

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM run_steps WHERE run_id IN (SELECT id FROM runs WHERE flow_id = $1)`, &result.RunSteps},
		{`DELETE FROM runs WHERE flow_id = $1`, &result.Runs},
		{`DELETE FROM flow_versions WHERE flow_id = $1`, &result.Versions},
		{`DELETE FROM flows WHERE id = $1`, &result.Flows},
	}
	for _, s := range steps {
		tag, err := tx.Exec(ctx, s.query, flowID)
		if err != nil {
			return model.DeleteFlowResult{}, fmt.Errorf("storage: delete flow %d: %w", flowID, err)
		}
		*s.count = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DeleteFlowResult{}, fmt.Errorf("storage: commit delete: %w", err)
	}
	return result, nil
}
