package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ashita-ai/nagare/internal/model"
)

func executeResponse(run model.Run) model.ExecuteResponse {
	return model.ExecuteResponse{
		RunID:      run.ID,
		FlowID:     run.FlowID,
		VersionNo:  run.VersionNo,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// HandleExecuteFlow handles POST /v1/flows/{flow_id}/execute.
//
// The body is optional. A step failure under the stop policy is not an HTTP
// error: the run record is the result, returned with status failed and the
// failure message. With ?async=true the response is 202 as soon as the run
// is materialized.
func (h *Handlers) HandleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.ExecuteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}
	versionNo := 0
	if req.VersionNo != nil {
		if *req.VersionNo <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version_no must be positive")
			return
		}
		versionNo = *req.VersionNo
	}

	if queryBool(r, "async") {
		run, err := h.executor.ExecuteAsync(r.Context(), flowID, versionNo)
		if err != nil {
			h.writeServiceError(w, r, err, "flow")
			return
		}
		writeJSON(w, r, http.StatusAccepted, executeResponse(run))
		return
	}

	run, err := h.executor.Execute(r.Context(), flowID, versionNo)
	var stepErr *model.StepExecutionError
	switch {
	case errors.As(err, &stepErr):
		resp := executeResponse(run)
		resp.Error = stepErr.Error()
		writeJSON(w, r, http.StatusOK, resp)
	case err != nil:
		h.writeServiceError(w, r, err, "flow")
	default:
		writeJSON(w, r, http.StatusOK, executeResponse(run))
	}
}

// HandleListRuns handles GET /v1/flows/{flow_id}/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if _, err := h.flows.Get(r.Context(), flowID); err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	limit, offset := queryLimit(r, 50), queryOffset(r)
	items, err := h.tracker.ListByFlow(r.Context(), flowID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list runs", err)
		return
	}
	if items == nil {
		items = []model.Run{}
	}
	writeJSON(w, r, http.StatusOK, items)
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathInt64(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	snap, err := h.tracker.StatusSnapshot(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err, "run")
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// HandleRunEvents handles GET /v1/runs/{run_id}/events (SSE).
//
// The stream opens with a snapshot event and then relays every transition
// of the run. It ends once the run reaches a terminal status.
func (h *Handlers) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := pathInt64(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	// Subscribe before the snapshot so no transition falls between them.
	ch := h.broker.Subscribe(runID)
	defer h.broker.Unsubscribe(ch)

	snap, err := h.tracker.StatusSnapshot(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err, "run")
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		h.writeInternalError(w, r, "failed to encode snapshot", err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	if _, err := w.Write(formatSSE("snapshot", string(data))); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}
	if snap.Status.Terminal() {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			_ = rc.Flush()
			if runFinished(event) {
				return
			}
		}
	}
}

// runFinished reports whether an SSE event is the terminal transition of
// the run itself rather than one of its steps.
func runFinished(event []byte) bool {
	_, data, ok := strings.Cut(string(event), "\ndata: ")
	if !ok {
		return false
	}
	data = strings.TrimRight(data, "\n")
	if gjson.Get(data, "step_id").Exists() {
		return false
	}
	return model.RunStatus(gjson.Get(data, "status").String()).Terminal()
}
