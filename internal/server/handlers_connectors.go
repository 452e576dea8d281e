package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/model"
)

// HandleListConnectors handles GET /v1/connectors.
func (h *Handlers) HandleListConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.registry.List())
}

// HandleTestConnector handles POST /v1/connectors/{name}/test.
//
// Without a body it reports the connector's registration. With an action it
// dispatches that action and returns the connector's result as is, so an
// error result is still a 200.
func (h *Handlers) HandleTestConnector(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req model.TestConnectorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	var (
		res connector.Result
		err error
	)
	if req.Action == "" {
		res, err = h.registry.Test(r.Context(), name)
	} else {
		res, err = h.registry.Run(r.Context(), name, req.Action, connector.Params(req.Params))
	}
	if err != nil {
		h.writeServiceError(w, r, err, "connector")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
