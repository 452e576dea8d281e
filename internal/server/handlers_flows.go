package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/nagare/internal/ctxutil"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/service/flows"
)

// HandleCreateFlow handles POST /v1/flows.
func (h *Handlers) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := decodeJSON(w, r, &def, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if def.Author == "" {
		def.Author = ctxutil.SubjectFromContext(r.Context())
	}

	detail, err := h.flows.Create(r.Context(), def)
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusCreated, detail)
}

// HandleListFlows handles GET /v1/flows.
func (h *Handlers) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	limit, offset := queryLimit(r, 50), queryOffset(r)
	items, total, err := h.flows.List(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list flows", err)
		return
	}
	if items == nil {
		items = []model.Flow{}
	}
	writeJSON(w, r, http.StatusOK, model.ListResponse[model.Flow]{
		Items: items, Total: total, Limit: limit, Offset: offset,
	})
}

// HandleGetFlow handles GET /v1/flows/{flow_id}. ?version=N loads a
// historical version instead of the current one.
func (h *Handlers) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	detail, err := h.flows.Detail(r.Context(), flowID, queryInt(r, "version", 0))
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleListVersions handles GET /v1/flows/{flow_id}/versions.
func (h *Handlers) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	versions, err := h.flows.Versions(r.Context(), flowID)
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleGetVersion handles GET /v1/flows/{flow_id}/versions/{version_no}.
func (h *Handlers) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	versionNo, err := strconv.Atoi(r.PathValue("version_no"))
	if err != nil || versionNo <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid version_no")
		return
	}
	v, err := h.flows.LoadVersion(r.Context(), flowID, versionNo)
	if err != nil {
		h.writeServiceError(w, r, err, "flow version")
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// HandleCreateVersion handles POST /v1/flows/{flow_id}/versions.
func (h *Handlers) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.CreateVersionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Steps == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "steps is required")
		return
	}
	author := req.Author
	if author == "" {
		author = ctxutil.SubjectFromContext(r.Context())
	}

	v, err := h.flows.CreateNewVersion(r.Context(), flowID, req.Steps, req.Description, author)
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusCreated, v)
}

// HandleModifyFlow handles POST /v1/flows/{flow_id}/modify.
func (h *Handlers) HandleModifyFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var mod model.Modification
	if err := decodeJSON(w, r, &mod, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if mod.Author == "" {
		mod.Author = ctxutil.SubjectFromContext(r.Context())
	}

	v, err := h.flows.ApplyModification(r.Context(), flowID, mod)
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusCreated, v)
}

// HandleDeleteFlow handles DELETE /v1/flows/{flow_id}. Deleting a missing
// flow succeeds with zero counts.
func (h *Handlers) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathInt64(r, "flow_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	result, err := h.flows.Delete(r.Context(), flowID)
	if err != nil {
		h.writeServiceError(w, r, err, "flow")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleValidate handles POST /v1/validate. An invalid definition is a
// successful response with valid=false.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := decodeJSON(w, r, &def, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, flows.Validate(def))
}
