package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/nagare/internal/model"
)

// loadDefinition reads a flow definition from a YAML or JSON file (JSON is
// valid YAML). Unknown keys are rejected so typos surface early.
func loadDefinition(path string) (model.FlowDefinition, error) {
	var def model.FlowDefinition
	err := decodeYAMLFile(path, &def)
	return def, err
}

// loadStep reads a single step from a YAML or JSON file.
func loadStep(path string) (model.Step, error) {
	var step model.Step
	err := decodeYAMLFile(path, &step)
	return step, err
}

func decodeYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ValidateCmd validates a definition file locally.
type ValidateCmd struct {
	File string `kong:"arg,required,help='Path to a flow definition (YAML or JSON).'"`
}

// Run executes the validate command. An invalid definition is reported and
// exits non-zero.
func (cmd ValidateCmd) Run() error {
	def, err := loadDefinition(cmd.File)
	if err != nil {
		return err
	}
	ok, problems := model.ValidateDefinition(def)
	if ok {
		fmt.Printf("%s: valid (%d steps)\n", cmd.File, len(def.Steps))
		return nil
	}
	for _, p := range problems {
		fmt.Printf("%s: %s\n", cmd.File, p)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}

// FlowCmd groups flow commands.
type FlowCmd struct {
	Create   FlowCreateCmd   `kong:"cmd,help='Creates a flow from a definition file.'"`
	List     FlowListCmd     `kong:"cmd,help='Lists flows.'"`
	Show     FlowShowCmd     `kong:"cmd,help='Shows a flow and its steps.'"`
	Versions FlowVersionsCmd `kong:"cmd,help='Lists the versions of a flow.'"`
	Modify   FlowModifyCmd   `kong:"cmd,help='Inserts, updates or deletes one step, creating a new version.'"`
	Delete   FlowDeleteCmd   `kong:"cmd,help='Deletes a flow with its versions and runs.'"`
}

// FlowCreateCmd creates a flow.
type FlowCreateCmd struct {
	File string `kong:"arg,required,help='Path to a flow definition (YAML or JSON).'"`
}

// Run executes the flow create command.
func (cmd FlowCreateCmd) Run(ctx context.Context, g *Globals) error {
	def, err := loadDefinition(cmd.File)
	if err != nil {
		return err
	}
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/flows", def, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// FlowListCmd lists flows.
type FlowListCmd struct {
	Limit  int `kong:"default='50',help='Maximum flows to list.'"`
	Offset int `kong:"default='0',help='Number of flows to skip.'"`
}

// Run executes the flow list command.
func (cmd FlowListCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var page model.ListResponse[model.Flow]
	q := url.Values{"limit": {fmt.Sprint(cmd.Limit)}, "offset": {fmt.Sprint(cmd.Offset)}}
	if err := c.do(ctx, http.MethodGet, "/v1/flows?"+q.Encode(), nil, &page); err != nil {
		return err
	}
	for _, f := range page.Items {
		fmt.Printf("%6d  v%-4d %-32s %s\n", f.ID, f.CurrentVersion, f.Name, f.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("%d of %d flow(s)\n", len(page.Items), page.Total)
	return nil
}

// FlowShowCmd shows one flow.
type FlowShowCmd struct {
	FlowID  int64 `kong:"arg,required,name='flow-id',help='Flow ID.'"`
	Version int   `kong:"help='Version to show (default: current).'"`
}

// Run executes the flow show command.
func (cmd FlowShowCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/flows/%d", cmd.FlowID)
	if cmd.Version > 0 {
		path += fmt.Sprintf("?version=%d", cmd.Version)
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// FlowVersionsCmd lists the versions of a flow.
type FlowVersionsCmd struct {
	FlowID int64 `kong:"arg,required,name='flow-id',help='Flow ID.'"`
}

// Run executes the flow versions command.
func (cmd FlowVersionsCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var versions []model.FlowVersionInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/flows/%d/versions", cmd.FlowID), nil, &versions); err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Printf("v%-4d %3d step(s)  %-20s %s\n", v.VersionNo, v.StepCount, v.Author, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// FlowModifyCmd applies one step modification.
type FlowModifyCmd struct {
	FlowID      int64  `kong:"arg,required,name='flow-id',help='Flow ID.'"`
	Action      string `kong:"required,enum='insert_step,update_step,delete_step',help='Modification to apply.'"`
	StepID      string `kong:"name='step-id',help='Target step for update_step and delete_step.'"`
	Anchor      string `kong:"name='anchor',help='Anchor step for insert_step.'"`
	Position    string `kong:"default='after',enum='before,after',help='Where insert_step places the new step.'"`
	StepFile    string `kong:"name='step-file',type='existingfile',help='YAML or JSON file holding the new step.'"`
	Description string `kong:"help='Replaces the flow description.'"`
}

// modification builds the request body, reading the step file if given.
func (cmd FlowModifyCmd) modification() (model.Modification, error) {
	mod := model.Modification{
		Action:       model.ModificationOp(cmd.Action),
		StepID:       cmd.StepID,
		AnchorStepID: cmd.Anchor,
	}
	if mod.Action == model.OpInsertStep {
		mod.Position = model.Position(cmd.Position)
	}
	if cmd.Description != "" {
		mod.Description = &cmd.Description
	}
	if cmd.StepFile != "" {
		step, err := loadStep(cmd.StepFile)
		if err != nil {
			return mod, err
		}
		mod.NewStep = &step
	} else if mod.Action != model.OpDeleteStep {
		return mod, errors.New("--step-file is required for " + cmd.Action)
	}
	return mod, nil
}

// Run executes the flow modify command.
func (cmd FlowModifyCmd) Run(ctx context.Context, g *Globals) error {
	mod, err := cmd.modification()
	if err != nil {
		return err
	}
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var v model.FlowVersion
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/flows/%d/modify", cmd.FlowID), mod, &v); err != nil {
		return err
	}
	ids := make([]string, 0, len(v.Steps))
	for _, s := range v.Steps {
		ids = append(ids, s.ID)
	}
	fmt.Printf("flow %d is now at version %d: %s\n", v.FlowID, v.VersionNo, strings.Join(ids, " -> "))
	return nil
}

// FlowDeleteCmd deletes a flow.
type FlowDeleteCmd struct {
	FlowID int64 `kong:"arg,required,name='flow-id',help='Flow ID.'"`
}

// Run executes the flow delete command.
func (cmd FlowDeleteCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var res model.DeleteFlowResult
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/flows/%d", cmd.FlowID), nil, &res); err != nil {
		return err
	}
	if res.Flows == 0 {
		fmt.Printf("flow %d did not exist\n", cmd.FlowID)
		return nil
	}
	fmt.Printf("deleted flow %d: %d version(s), %d run(s), %d run step(s), %d artifact(s)\n",
		cmd.FlowID, res.Versions, res.Runs, res.RunSteps, res.Artifacts)
	return nil
}
