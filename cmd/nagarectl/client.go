package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashita-ai/nagare/internal/model"
)

// client is a minimal JSON client for the Nagare HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// apiError is an error envelope returned by the server.
type apiError struct {
	Status int
	Detail model.ErrorDetail
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (%d): %s", e.Detail.Code, e.Status, e.Detail.Message)
	if e.Detail.Details != nil {
		if d, err := json.Marshal(e.Detail.Details); err == nil {
			msg += " " + string(d)
		}
	}
	return msg
}

// newClient returns a client authenticated per g. Without a token it
// exchanges subject and API key for one.
func newClient(ctx context.Context, g *Globals) (*client, error) {
	c := &client{
		base:  strings.TrimRight(g.Server, "/"),
		token: g.Token,
		http:  &http.Client{Timeout: 5 * time.Minute},
	}
	if c.token != "" || g.APIKey == "" {
		return c, nil
	}
	var tok model.AuthTokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/token",
		model.AuthTokenRequest{Subject: g.Subject, APIKey: g.APIKey}, &tok); err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}
	c.token = tok.Token
	return c, nil
}

// do sends body as JSON and decodes the data field of the response envelope
// into out. out may be nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Data  json.RawMessage    `json:"data"`
		Error *model.ErrorDetail `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: decode response: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || env.Error != nil {
		detail := model.ErrorDetail{Code: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			detail = *env.Error
		}
		return &apiError{Status: resp.StatusCode, Detail: detail}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = env.Data
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
