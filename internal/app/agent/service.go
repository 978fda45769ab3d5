// Package agent gathers what the build agent needs to notify people about
// scan results and hands it over.
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/contributor"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// AgentInfoGitEmails holds the contributor emails of the scanned repository.
const AgentInfoGitEmails = "git_emails"

var (
	// ErrNoContributorEmails means no contributor exposes a public email.
	ErrNoContributorEmails = errors.New("no contributor emails found")
	// ErrNothingToPublish means the agent info file holds no values yet.
	ErrNothingToPublish = errors.New("agent info is empty")
)

// InfoStore reads and writes the agent info document.
type InfoStore interface {
	artifact.AgentInfoWriter
	artifact.AgentInfoReader
}

// Service records contributor emails and publishes the agent info.
type Service struct {
	emails    contributor.EmailSource
	info      InfoStore
	publisher artifact.AgentNotifier

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service. emails or publisher may be nil when the
// caller only uses the other operation.
func NewService(
	emails contributor.EmailSource,
	info InfoStore,
	publisher artifact.AgentNotifier,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		emails:    emails,
		info:      info,
		publisher: publisher,
		logger:    logger.With("component", "agent_service"),
		tracer:    tracer,
	}
}

// RecordContributorEmails resolves the contributors of the repository at
// repoURL and stores their emails under AgentInfoGitEmails. Nothing is
// written when no email is found.
func (s *Service) RecordContributorEmails(ctx context.Context, repoURL string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "agent_service.record_contributor_emails",
		trace.WithAttributes(attribute.String("repository_url", repoURL)))
	defer span.End()

	repo, err := contributor.ParseRepositoryURL(repoURL)
	if err != nil {
		span.RecordError(err)
		return nil, shared.ConfigurationError("parse_repository_url", err)
	}

	emails, err := s.emails.ContributorEmails(ctx, repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve contributors")
		return nil, classify("contributor_emails", err)
	}
	if len(emails) == 0 {
		span.AddEvent("no_contributor_emails")
		return nil, fmt.Errorf("%s: %w", repo, ErrNoContributorEmails)
	}

	if err := s.info.WriteAgentInfo(AgentInfoGitEmails, emails); err != nil {
		span.RecordError(err)
		return emails, fmt.Errorf("failed to write agent info %s: %w", AgentInfoGitEmails, err)
	}

	span.SetAttributes(attribute.Int("emails", len(emails)))
	s.logger.Info(ctx, "Contributor emails recorded", "repository", repo.String(), "emails", len(emails))
	return emails, nil
}

// Publish sends everything recorded in the agent info to the agent.
func (s *Service) Publish(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "agent_service.publish")
	defer span.End()

	info, err := s.info.Values()
	if err != nil {
		span.RecordError(err)
		return shared.ConfigurationError("read_agent_info", err)
	}
	if len(info) == 0 {
		span.RecordError(ErrNothingToPublish)
		return shared.ConfigurationError("read_agent_info", ErrNothingToPublish)
	}

	if err := s.publisher.PublishAgentInfo(ctx, info); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish agent info")
		return classify("publish_agent_info", err)
	}
	span.SetAttributes(attribute.Int("keys", len(info)))
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if shared.KindOf(err) != shared.KindUnknown {
		return err
	}
	return shared.TransportError(op, err)
}
