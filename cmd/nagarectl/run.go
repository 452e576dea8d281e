package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashita-ai/nagare/internal/model"
)

// RunCmd groups run commands.
type RunCmd struct {
	Exec   RunExecCmd   `kong:"cmd,help='Executes a flow.'"`
	Status RunStatusCmd `kong:"cmd,help='Shows the status of a run and its steps.'"`
	List   RunListCmd   `kong:"cmd,help='Lists the runs of a flow.'"`
}

// RunExecCmd executes a flow.
type RunExecCmd struct {
	FlowID  int64 `kong:"arg,required,name='flow-id',help='Flow ID.'"`
	Version int   `kong:"help='Version to execute (default: current).'"`
	Async   bool  `kong:"help='Return as soon as the run is created.'"`
}

// Run executes the run exec command. A failed run exits non-zero.
func (cmd RunExecCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var body model.ExecuteRequest
	if cmd.Version > 0 {
		body.VersionNo = &cmd.Version
	}
	path := fmt.Sprintf("/v1/flows/%d/execute", cmd.FlowID)
	if cmd.Async {
		path += "?async=true"
	}
	var res model.ExecuteResponse
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return err
	}
	fmt.Printf("run %d (flow %d v%d): %s\n", res.RunID, res.FlowID, res.VersionNo, res.Status)
	if res.Status == model.RunFailed {
		return fmt.Errorf("run %d failed: %s", res.RunID, res.Error)
	}
	return nil
}

// RunStatusCmd shows a run snapshot.
type RunStatusCmd struct {
	RunID int64 `kong:"arg,required,name='run-id',help='Run ID.'"`
	JSON  bool  `kong:"name='json',help='Print the raw snapshot.'"`
}

// Run executes the run status command.
func (cmd RunStatusCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/runs/%d", cmd.RunID), nil, &raw); err != nil {
		return err
	}
	if cmd.JSON {
		return printJSON(raw)
	}
	var snap model.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	fmt.Printf("run %d (flow %d v%d): %s\n", snap.RunID, snap.FlowID, snap.VersionNo, snap.Status)
	for i, st := range snap.Steps {
		line := fmt.Sprintf("  %2d. %-20s %-10s", i+1, st.StepID, st.Status)
		if msg, ok := st.Result["message"].(string); ok && msg != "" {
			line += "  " + msg
		}
		fmt.Println(line)
	}
	return nil
}

// RunListCmd lists the runs of a flow.
type RunListCmd struct {
	FlowID int64 `kong:"arg,required,name='flow-id',help='Flow ID.'"`
	Limit  int   `kong:"default='20',help='Maximum runs to list.'"`
}

// Run executes the run list command.
func (cmd RunListCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var items []model.Run
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/flows/%d/runs?limit=%d", cmd.FlowID, cmd.Limit), nil, &items); err != nil {
		return err
	}
	for _, r := range items {
		fmt.Printf("%6d  v%-4d %-10s %s\n", r.ID, r.VersionNo, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
