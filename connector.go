package nagare

import (
	"context"
	"fmt"

	"github.com/ashita-ai/nagare/internal/connector"
)

// Connector is a step adapter supplied by an embedding program. It is
// registered next to the built-in connectors with WithConnector and is
// dispatched exactly like them.
//
// Run must report expected failures (bad input, a refused remote call) as
// a ConnectorResult with Success false. A returned error means the adapter
// itself broke; the executor then fails the run regardless of the step's
// onError policy.
type Connector interface {
	Type() string
	Capabilities() []string
	Run(ctx context.Context, action string, params map[string]any) (ConnectorResult, error)
}

// ConnectorResult is the outcome of one connector action. Fields are stored
// next to status and message in the run step result.
type ConnectorResult struct {
	Success bool
	Message string
	Fields  map[string]any
}

// connectorAdapter exposes a public Connector through the internal
// connector contract.
type connectorAdapter struct {
	c Connector
}

func (a *connectorAdapter) Type() string           { return a.c.Type() }
func (a *connectorAdapter) Capabilities() []string { return a.c.Capabilities() }

func (a *connectorAdapter) Run(ctx context.Context, action string, params connector.Params) (connector.Result, error) {
	res, err := a.c.Run(ctx, action, map[string]any(params))
	if err != nil {
		return connector.Result{}, fmt.Errorf("connector %s: %w", a.c.Type(), err)
	}
	return toInternalResult(res), nil
}

func toInternalResult(res ConnectorResult) connector.Result {
	status := connector.StatusError
	if res.Success {
		status = connector.StatusSuccess
	}
	return connector.Result{Status: status, Message: res.Message, Fields: res.Fields}
}
