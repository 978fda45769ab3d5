package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

var _ artifact.AgentNotifier = (*AgentPublisher)(nil)

// AgentPublisher posts the agent info document to the build agent.
type AgentPublisher struct {
	endpoint   string
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewAgentPublisher creates an AgentPublisher posting to endpoint. A nil
// httpClient uses http.DefaultClient.
func NewAgentPublisher(endpoint string, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) (*AgentPublisher, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AgentPublisher{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "agent_publisher", "host", u.Host),
		tracer:     tracer,
	}, nil
}

// Endpoint returns the agent URL.
func (p *AgentPublisher) Endpoint() string { return p.endpoint }

// PublishAgentInfo posts info once. Failures are transport errors carrying
// the agent's status code when it answered.
func (p *AgentPublisher) PublishAgentInfo(ctx context.Context, info map[string]any) error {
	const op = "publish_agent_info"
	ctx, span := p.tracer.Start(ctx, "agent_publisher.publish",
		trace.WithAttributes(attribute.Int("keys", len(info))))
	defer span.End()

	body, err := json.Marshal(info)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode agent info: %w", err)
	}

	status, err := postJSON(ctx, p.httpClient, p.endpoint, body, nil)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return shared.TransportError(op, err).WithStatus(status)
	}

	p.logger.Info(ctx, "Agent info published", "status", status)
	return nil
}
