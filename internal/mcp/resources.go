package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriConnectors  = "nagare://connectors"
	uriRecentFlows = "nagare://flows/recent"
	flowURIPrefix  = "nagare://flows/"
)

func (s *Server) registerResources() {
	// nagare://connectors — registered connectors and their capabilities.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriConnectors,
			"Connectors",
			mcplib.WithResourceDescription("Registered connectors and the actions each one supports"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConnectorsResource,
	)

	// nagare://flows/recent — most recently updated flows.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRecentFlows,
			"Recent Flows",
			mcplib.WithResourceDescription("The most recently updated flows"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentFlows,
	)

	// nagare://flows/{id} — one flow with its current steps and version history.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"nagare://flows/{id}",
			"Flow",
			mcplib.WithTemplateDescription("A flow with the steps of its current version and its version history"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleFlowResource,
	)
}

func (s *Server) handleConnectorsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(uriConnectors, s.registry.List())
}

func (s *Server) handleRecentFlows(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	items, _, err := s.flows.List(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent flows: %w", err)
	}
	return jsonResource(uriRecentFlows, items)
}

func (s *Server) handleFlowResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	flowID, err := parseFlowURI(uri)
	if err != nil {
		return nil, err
	}

	detail, err := s.flows.Detail(ctx, flowID, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: flow %d: %w", flowID, err)
	}
	versions, err := s.flows.Versions(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("mcp: flow %d versions: %w", flowID, err)
	}
	return jsonResource(uri, map[string]any{
		"flow":     detail,
		"versions": versions,
	})
}

// parseFlowURI extracts the flow ID from nagare://flows/{id}.
func parseFlowURI(uri string) (int64, error) {
	rest, ok := strings.CutPrefix(uri, flowURIPrefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("mcp: invalid flow URI: %s", uri)
	}
	flowID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || flowID <= 0 {
		return 0, fmt.Errorf("mcp: invalid flow id in URI: %s", uri)
	}
	return flowID, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
