package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashita-ai/nagare/internal/model"
)

// ConnectorsCmd groups connector commands.
type ConnectorsCmd struct {
	List ConnectorsListCmd `kong:"cmd,help='Lists registered connectors and their actions.'"`
	Test ConnectorsTestCmd `kong:"cmd,help='Checks a connector or runs one of its actions.'"`
}

// ConnectorsListCmd lists connectors.
type ConnectorsListCmd struct{}

// Run executes the connectors list command.
func (ConnectorsListCmd) Run(ctx context.Context, g *Globals) error {
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var infos []model.ConnectorInfo
	if err := c.do(ctx, http.MethodGet, "/v1/connectors", nil, &infos); err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%-16s %s\n", info.Name, strings.Join(info.Capabilities, ", "))
	}
	return nil
}

// ConnectorsTestCmd runs a connector test.
type ConnectorsTestCmd struct {
	Name   string `kong:"arg,required,help='Connector name.'"`
	Action string `kong:"help='Action to run. Without it the registration is checked.'"`
	Params string `kong:"default='{}',help='Action parameters as a JSON object.'"`
}

// request builds the test request body.
func (cmd ConnectorsTestCmd) request() (model.TestConnectorRequest, error) {
	req := model.TestConnectorRequest{Action: cmd.Action}
	if cmd.Action == "" {
		return req, nil
	}
	if err := json.Unmarshal([]byte(cmd.Params), &req.Params); err != nil {
		return req, fmt.Errorf("--params: %w", err)
	}
	return req, nil
}

// Run executes the connectors test command. An error result exits non-zero.
func (cmd ConnectorsTestCmd) Run(ctx context.Context, g *Globals) error {
	req, err := cmd.request()
	if err != nil {
		return err
	}
	c, err := newClient(ctx, g)
	if err != nil {
		return err
	}
	var res map[string]any
	if err := c.do(ctx, http.MethodPost, "/v1/connectors/"+url.PathEscape(cmd.Name)+"/test", req, &res); err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if res["status"] == "error" {
		return fmt.Errorf("connector %s: %v", cmd.Name, res["message"])
	}
	return nil
}
