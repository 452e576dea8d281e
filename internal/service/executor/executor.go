// Package executor runs flow versions step by step.
//
// A run is strictly sequential: each step reaches a terminal status before
// the next one starts. A failed step either stops the run or is skipped
// over, depending on its onError policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/runs"
	"github.com/ashita-ai/nagare/internal/storage"
	"github.com/ashita-ai/nagare/internal/telemetry"
)

// Dispatcher runs a connector action. *connector.Registry implements it.
type Dispatcher interface {
	Run(ctx context.Context, name, action string, params connector.Params) (connector.Result, error)
}

// VersionLoader resolves a flow version. *flows.Service implements it.
type VersionLoader interface {
	LoadVersion(ctx context.Context, flowID int64, versionNo int) (model.FlowVersion, error)
}

// Config tunes step retries.
type Config struct {
	// EnactRetry retries error results of steps that enable retry. When
	// false a declared retry is only logged.
	EnactRetry bool
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// Executor drives runs through the run tracker.
type Executor struct {
	versions   VersionLoader
	tracker    *runs.Tracker
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	inflight sync.WaitGroup
	tracer   trace.Tracer

	runsFinished metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// New creates an Executor.
func New(versions VersionLoader, tracker *runs.Tracker, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Executor {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	meter := telemetry.Meter("nagare/executor")
	finished, _ := meter.Int64Counter("nagare.runs.finished",
		metric.WithDescription("Runs reaching a terminal status"),
	)
	stepDur, _ := meter.Float64Histogram("nagare.steps.duration",
		metric.WithDescription("Wall time of one step including retries (ms)"),
		metric.WithUnit("ms"),
	)
	return &Executor{
		versions:     versions,
		tracker:      tracker,
		dispatcher:   dispatcher,
		cfg:          cfg,
		logger:       logger,
		tracer:       telemetry.Tracer("nagare/executor"),
		runsFinished: finished,
		stepDuration: stepDur,
	}
}

// Execute runs a flow version (current when versionNo <= 0) to completion
// and returns the final run. When a step fails under the stop policy, or a
// connector fails unexpectedly, the returned run is already marked failed
// and the error is a *model.StepExecutionError.
//
// Execution is not tied to ctx cancellation: once started, a run always
// reaches a terminal status.
func (e *Executor) Execute(ctx context.Context, flowID int64, versionNo int) (model.Run, error) {
	run, steps, runSteps, err := e.start(ctx, flowID, versionNo)
	if err != nil {
		return model.Run{}, err
	}
	return e.drive(context.WithoutCancel(ctx), run, steps, runSteps)
}

// ExecuteAsync materializes the run and returns it while the steps execute
// in the background. Use Drain to wait for background runs.
func (e *Executor) ExecuteAsync(ctx context.Context, flowID int64, versionNo int) (model.Run, error) {
	run, steps, runSteps, err := e.start(ctx, flowID, versionNo)
	if err != nil {
		return model.Run{}, err
	}
	bg := context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if _, err := e.drive(bg, run, steps, runSteps); err != nil {
			e.logger.Warn("executor: background run failed", "run_id", run.ID, "error", err)
		}
	}()
	return run, nil
}

// Drain blocks until every background run has finished or ctx is done.
func (e *Executor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: drain: %w", ctx.Err())
	}
}

func (e *Executor) start(ctx context.Context, flowID int64, versionNo int) (model.Run, []model.Step, []model.RunStep, error) {
	v, err := e.versions.LoadVersion(ctx, flowID, versionNo)
	if err != nil {
		return model.Run{}, nil, nil, err
	}
	run, runSteps, err := e.tracker.Start(ctx, flowID, v.VersionNo, v.Steps)
	if err != nil {
		return model.Run{}, nil, nil, fmt.Errorf("executor: start run: %w", err)
	}
	e.logger.Info("run started", "run_id", run.ID, "flow_id", flowID, "version_no", v.VersionNo, "steps", len(v.Steps))
	return run, v.Steps, runSteps, nil
}

func (e *Executor) drive(ctx context.Context, run model.Run, steps []model.Step, runSteps []model.RunStep) (model.Run, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.Int64("nagare.run_id", run.ID),
		attribute.Int64("nagare.flow_id", run.FlowID),
		attribute.Int("nagare.version_no", run.VersionNo),
	))
	defer span.End()

	if len(runSteps) != len(steps) {
		e.logger.Warn("executor: run step count mismatch", "run_id", run.ID, "steps", len(steps), "run_steps", len(runSteps))
	}

	for i, step := range steps {
		stepErr := e.runStep(ctx, run, i, step)
		if stepErr == nil {
			continue
		}
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
		final, err := e.finish(ctx, run, model.RunFailed)
		if err != nil {
			return final, errors.Join(stepErr, err)
		}
		return final, stepErr
	}
	return e.finish(ctx, run, model.RunCompleted)
}

func (e *Executor) finish(ctx context.Context, run model.Run, status model.RunStatus) (model.Run, error) {
	final, err := e.tracker.Finish(ctx, run.ID, status)
	if err != nil {
		return run, fmt.Errorf("executor: finish run %d: %w", run.ID, err)
	}
	e.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	e.logger.Info("run finished", "run_id", run.ID, "flow_id", run.FlowID, "status", status)
	return final, nil
}

// runStep executes one step. A nil return lets the run continue.
func (e *Executor) runStep(ctx context.Context, run model.Run, position int, step model.Step) error {
	log := e.logger.With("run_id", run.ID, "step_id", step.ID, "position", position)

	if _, err := e.tracker.StartStep(ctx, run, position); err != nil {
		if errors.Is(err, storage.ErrRunStepNotFound) {
			log.Warn("executor: run step missing, skipping")
			return nil
		}
		e.recordFailure(ctx, log, run, position, err)
		return &model.StepExecutionError{RunID: run.ID, StepID: step.ID, Message: err.Error(), Err: err}
	}

	ctx, span := e.tracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.String("nagare.step_id", step.ID),
		attribute.String("nagare.connector", step.Connector),
		attribute.String("nagare.action", step.Action),
	))
	defer span.End()

	began := time.Now()
	result, attempts, dispatchErr := e.dispatch(ctx, log, step)
	stepStatus := model.StepCompleted
	if dispatchErr != nil || result.IsError() {
		stepStatus = model.StepFailed
	}
	e.stepDuration.Record(ctx, float64(time.Since(began).Milliseconds()),
		metric.WithAttributes(
			attribute.String("connector", step.Connector),
			attribute.String("status", string(stepStatus)),
		))

	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		e.recordFailure(ctx, log, run, position, dispatchErr)
		log.Error("step raised", "error", dispatchErr)
		return &model.StepExecutionError{RunID: run.ID, StepID: step.ID, Message: dispatchErr.Error(), Err: dispatchErr}
	}

	payload := result.Map()
	if attempts > 1 {
		payload["attempts"] = attempts
	}

	if !result.IsError() {
		if _, err := e.tracker.FinishStep(ctx, run, position, model.StepCompleted, payload); err != nil {
			span.RecordError(err)
			e.recordFailure(ctx, log, run, position, fmt.Errorf("record step result: %w", err))
			return &model.StepExecutionError{RunID: run.ID, StepID: step.ID, Message: err.Error(), Err: err}
		}
		return nil
	}

	span.SetStatus(codes.Error, result.Message)
	if _, err := e.tracker.FinishStep(ctx, run, position, model.StepFailed, payload); err != nil {
		e.recordFailure(ctx, log, run, position, fmt.Errorf("record step result: %w", err))
		return &model.StepExecutionError{RunID: run.ID, StepID: step.ID, Message: err.Error(), Err: err}
	}
	if step.ErrorPolicy() == model.OnErrorContinue {
		log.Warn("step failed, continuing", "message", result.Message)
		return nil
	}
	log.Warn("step failed, stopping run", "message", result.Message)
	return &model.StepExecutionError{RunID: run.ID, StepID: step.ID, Message: result.Message}
}

// recordFailure marks a step failed with a minimal payload so its record
// never outlives the run in a non-terminal status. Errors are only logged.
func (e *Executor) recordFailure(ctx context.Context, log *slog.Logger, run model.Run, position int, cause error) {
	failure := map[string]any{"status": string(connector.StatusError), "message": cause.Error()}
	if _, err := e.tracker.FinishStep(ctx, run, position, model.StepFailed, failure); err != nil {
		log.Error("executor: could not record step failure", "error", err, "cause", cause)
	}
}

// dispatch calls the step's connector, retrying error results when the
// step enables retry. Missing connectors and unsupported actions become
// error results carrying what is available, so the step's onError policy
// applies to them. Any other dispatcher error is returned as is.
func (e *Executor) dispatch(ctx context.Context, log *slog.Logger, step model.Step) (connector.Result, int, error) {
	if !step.Dispatchable() {
		return connector.Result{Status: connector.StatusSuccess, Message: "no action specified"}, 1, nil
	}

	attempts := 1
	if step.Retry != nil && step.Retry.Enabled {
		if e.cfg.EnactRetry {
			attempts = step.Retry.Attempts()
		} else {
			log.Warn("executor: retry declared but not enacted")
		}
	}

	delay := e.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		res, err := e.call(ctx, step)
		if err != nil {
			if res, ok := deterministicFailure(err); ok {
				return res, attempt, nil
			}
			return connector.Result{}, attempt, err
		}
		if !res.IsError() || attempt >= attempts {
			return res, attempt, nil
		}

		log.Info("step returned an error, retrying", "attempt", attempt, "of", attempts, "message", res.Message)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return res, attempt, nil
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}

// call runs one dispatch attempt, converting a panic into an error.
func (e *Executor) call(ctx context.Context, step model.Step) (res connector.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = connector.Result{}, fmt.Errorf("connector %s panicked: %v", step.Connector, r)
		}
	}()
	return e.dispatcher.Run(ctx, step.Connector, step.Action, connector.Params(step.Params))
}

func deterministicFailure(err error) (connector.Result, bool) {
	var nf *connector.NotFoundError
	if errors.As(err, &nf) {
		return connector.Failure("Connector %s not found", nf.Name).With("available_connectors", nf.Available), true
	}
	var ua *model.UnsupportedActionError
	if errors.As(err, &ua) {
		return connector.Failure("Action %s not supported by connector %s", ua.Action, ua.Connector).
			With("supported_actions", ua.Supported), true
	}
	return connector.Result{}, false
}
