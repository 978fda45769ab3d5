package artifact

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// Agent info keys read by the downstream notification agent.
const (
	AgentInfoProjectVersionURL = "fortify_pv_url"
	AgentInfoBuildID           = "fortify_build_id"
)

// Service exposes the vulnerability-management operations, each guarded by
// the session's single re-authentication retry.
type Service struct {
	session *Session
	client  artifact.ServiceClient
	agent   artifact.AgentInfoWriter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service.
func NewService(
	session *Session,
	client artifact.ServiceClient,
	agent artifact.AgentInfoWriter,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		session: session,
		client:  client,
		agent:   agent,
		logger:  logger.With("component", "artifact_service"),
		tracer:  tracer,
	}
}

// ListVersions lists every project version, or only those of application
// when it is set.
func (s *Service) ListVersions(ctx context.Context, application string) ([]artifact.ProjectVersion, error) {
	ctx, span := s.tracer.Start(ctx, "artifact_service.list_versions",
		trace.WithAttributes(attribute.String("application", application)))
	defer span.End()

	if application == "" {
		return WithSession(ctx, s.session, "list_versions", s.client.ListVersions)
	}
	return WithSession(ctx, s.session, "list_application_versions",
		func(ctx context.Context, token string) ([]artifact.ProjectVersion, error) {
			return s.client.ListApplicationVersions(ctx, token, application)
		})
}

// Upload uploads the results file at path to ref.
func (s *Service) Upload(ctx context.Context, path string, ref artifact.VersionRef) error {
	ctx, span := s.tracer.Start(ctx, "artifact_service.upload",
		trace.WithAttributes(
			attribute.String("path", path),
			attribute.String("application", ref.Application),
			attribute.String("version", ref.Version),
		))
	defer span.End()

	err := s.session.Do(ctx, "upload_artifact", func(ctx context.Context, token string) error {
		return s.client.UploadArtifact(ctx, token, path, ref)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info(ctx, "Artifact uploaded", "path", path, "application", ref.Application, "version", ref.Version)
	return nil
}

// RegisterBuild resolves the project version URL for ref and records it,
// together with buildID, for the downstream agent.
func (s *Service) RegisterBuild(ctx context.Context, ref artifact.VersionRef, buildID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "artifact_service.register_build",
		trace.WithAttributes(
			attribute.String("application", ref.Application),
			attribute.String("version", ref.Version),
			attribute.String("build_id", buildID),
		))
	defer span.End()

	url, err := WithSession(ctx, s.session, "project_version_url",
		func(ctx context.Context, token string) (string, error) {
			return s.client.ProjectVersionURL(ctx, token, ref)
		})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if err := s.agent.WriteAgentInfo(AgentInfoProjectVersionURL, url); err != nil {
		span.RecordError(err)
		return url, fmt.Errorf("failed to write agent info %s: %w", AgentInfoProjectVersionURL, err)
	}
	if err := s.agent.WriteAgentInfo(AgentInfoBuildID, buildID); err != nil {
		span.RecordError(err)
		return url, fmt.Errorf("failed to write agent info %s: %w", AgentInfoBuildID, err)
	}

	s.logger.Info(ctx, "Build registered", "project_version_url", url, "build_id", buildID)
	return url, nil
}
