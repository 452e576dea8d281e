// Package flows is the flow store: creation, versioning, step modification
// and deletion of flows. The HTTP API, the MCP server and the CLI all go
// through this service so validation and version mirroring behave the same
// everywhere.
package flows

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/nagare/internal/artifact"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/storage"
	"github.com/ashita-ai/nagare/internal/telemetry"
)

// DefaultAuthor is recorded on versions written without an author.
const DefaultAuthor = "system"

// Service owns every write path that creates a flow version.
type Service struct {
	db        *storage.DB
	artifacts *artifact.Store
	logger    *slog.Logger

	versionsCreated metric.Int64Counter
}

// New creates a flow Service. artifacts may be nil to disable the YAML
// mirror.
func New(db *storage.DB, artifacts *artifact.Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("nagare/flows")
	created, _ := meter.Int64Counter("nagare.flows.versions_created",
		metric.WithDescription("Flow versions written, including version 1 of new flows"),
	)
	return &Service{
		db:              db,
		artifacts:       artifacts,
		logger:          logger,
		versionsCreated: created,
	}
}

func authorOr(author string) string {
	if author == "" {
		return DefaultAuthor
	}
	return author
}

// Create validates def and persists the flow with version 1. Nothing is
// written when validation fails.
func (s *Service) Create(ctx context.Context, def model.FlowDefinition) (model.FlowDetail, error) {
	if err := model.CheckDefinition(def); err != nil {
		return model.FlowDetail{}, err
	}
	steps := model.NormalizeSteps(def.Steps)
	if steps == nil {
		steps = []model.Step{}
	}

	flow, version, err := s.db.CreateFlow(ctx, def.Name, def.Description, steps, authorOr(def.Author))
	if err != nil {
		return model.FlowDetail{}, fmt.Errorf("flows: create: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("nagare.flow_id", flow.ID))
	s.versionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "create")))
	s.mirror(ctx, flow, version)

	s.logger.Info("flow created", "flow_id", flow.ID, "name", flow.Name, "steps", len(steps))
	return model.FlowDetail{Flow: flow, VersionNo: version.VersionNo, Steps: version.Steps}, nil
}

// Get returns the flow metadata.
func (s *Service) Get(ctx context.Context, flowID int64) (model.Flow, error) {
	return s.db.GetFlow(ctx, flowID)
}

// Detail returns a flow with the steps of versionNo (current when <= 0).
func (s *Service) Detail(ctx context.Context, flowID int64, versionNo int) (model.FlowDetail, error) {
	flow, err := s.db.GetFlow(ctx, flowID)
	if err != nil {
		return model.FlowDetail{}, err
	}
	v, err := s.db.GetFlowVersion(ctx, flowID, versionNo)
	if err != nil {
		return model.FlowDetail{}, err
	}
	return model.FlowDetail{Flow: flow, VersionNo: v.VersionNo, Steps: v.Steps}, nil
}

// List returns one page of flows, newest first, and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Flow, int, error) {
	return s.db.ListFlows(ctx, limit, offset)
}

// LoadVersion returns the ordered steps of versionNo (current when <= 0).
func (s *Service) LoadVersion(ctx context.Context, flowID int64, versionNo int) (model.FlowVersion, error) {
	return s.db.GetFlowVersion(ctx, flowID, versionNo)
}

// Versions lists version metadata for a flow, oldest first.
func (s *Service) Versions(ctx context.Context, flowID int64) ([]model.FlowVersionInfo, error) {
	return s.db.ListFlowVersions(ctx, flowID)
}

// CreateNewVersion replaces the flow's step list wholesale. It is the single
// mutation path: ApplyModification is built on it.
func (s *Service) CreateNewVersion(ctx context.Context, flowID int64, steps []model.Step, description *string, author string) (model.FlowVersion, error) {
	return s.writeVersion(ctx, flowID, description, author, "replace", func([]model.Step) ([]model.Step, error) {
		return steps, nil
	})
}

// ApplyModification derives a new version from the current one by applying
// a single insert, update or delete.
func (s *Service) ApplyModification(ctx context.Context, flowID int64, mod model.Modification) (model.FlowVersion, error) {
	if mod.NewStep != nil {
		normalized := model.NormalizeSteps([]model.Step{*mod.NewStep})[0]
		mod.NewStep = &normalized
	}
	return s.writeVersion(ctx, flowID, mod.Description, mod.Author, string(mod.Action), func(current []model.Step) ([]model.Step, error) {
		return Apply(current, mod)
	})
}

// writeVersion validates the derived step list inside the version
// transaction so the check sees the same current version the write extends.
func (s *Service) writeVersion(ctx context.Context, flowID int64, description *string, author, origin string, derive storage.MutateSteps) (model.FlowVersion, error) {
	version, err := s.db.CreateFlowVersion(ctx, flowID, authorOr(author), description,
		func(current []model.Step) ([]model.Step, error) {
			next, err := derive(current)
			if err != nil {
				return nil, err
			}
			next = model.NormalizeSteps(next)
			if err := model.CheckSteps(next); err != nil {
				return nil, err
			}
			return next, nil
		})
	if err != nil {
		return model.FlowVersion{}, err
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("nagare.flow_id", flowID),
		attribute.Int("nagare.version_no", version.VersionNo),
	)
	s.versionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))

	if s.artifacts != nil {
		if flow, err := s.db.GetFlow(ctx, flowID); err != nil {
			s.logger.Warn("flows: mirror skipped", "flow_id", flowID, "error", err)
		} else {
			s.mirror(ctx, flow, version)
		}
	}

	s.logger.Info("flow version created",
		"flow_id", flowID, "version_no", version.VersionNo, "origin", origin, "author", version.Author)
	return version, nil
}

// mirror writes the version document. The relational store is authoritative,
// so a failed write is logged and otherwise ignored.
func (s *Service) mirror(ctx context.Context, flow model.Flow, v model.FlowVersion) {
	if s.artifacts == nil {
		return
	}
	if err := s.artifacts.Put(ctx, artifact.NewDocument(flow, v)); err != nil {
		s.logger.Warn("flows: version mirror failed", "flow_id", flow.ID, "version_no", v.VersionNo, "error", err)
	}
}

// Delete removes the flow with all versions, runs and mirrored documents.
// Deleting a missing flow is a no-op.
func (s *Service) Delete(ctx context.Context, flowID int64) (model.DeleteFlowResult, error) {
	result, err := s.db.DeleteFlow(ctx, flowID)
	if err != nil {
		return model.DeleteFlowResult{}, fmt.Errorf("flows: delete %d: %w", flowID, err)
	}
	if s.artifacts != nil {
		n, err := s.artifacts.DeleteFlow(ctx, flowID)
		result.Artifacts = n
		if err != nil {
			return result, fmt.Errorf("flows: delete %d artifacts: %w", flowID, err)
		}
	}
	if result.Flows > 0 {
		s.logger.Info("flow deleted", "flow_id", flowID,
			"versions", result.Versions, "runs", result.Runs, "artifacts", result.Artifacts)
	}
	return result, nil
}

// Validate checks a raw definition without writing anything.
func Validate(def model.FlowDefinition) model.ValidateResponse {
	ok, problems := model.ValidateDefinition(def)
	if problems == nil {
		problems = []string{}
	}
	return model.ValidateResponse{Valid: ok, Errors: problems}
}
