// Package notify fans scan lifecycle events out to the configured
// notification sinks.
package notify

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// Sink delivers lifecycle events to a single destination.
type Sink interface {
	// Name identifies the sink in logs and spans.
	Name() string
	// Deliver makes one attempt at delivering evt.
	Deliver(ctx context.Context, evt scanning.LifecycleEvent) error
}

var _ scanning.LifecycleNotifier = (*Hub)(nil)

// Hub delivers every event to all of its sinks. Delivery failures are
// logged and never reach the caller.
type Hub struct {
	sinks []Sink

	logger *logger.Logger
	tracer trace.Tracer
}

// NewHub creates a Hub over sinks. A Hub without sinks drops every event.
func NewHub(logger *logger.Logger, tracer trace.Tracer, sinks ...Sink) *Hub {
	return &Hub{
		sinks:  sinks,
		logger: logger.With("component", "notification_hub"),
		tracer: tracer,
	}
}

// Notify delivers evt to each sink in turn.
func (h *Hub) Notify(ctx context.Context, evt scanning.LifecycleEvent) {
	ctx, span := h.tracer.Start(ctx, "notification_hub.notify",
		trace.WithAttributes(
			attribute.String("event", evt.Type.String()),
			attribute.String("run_id", evt.RunID.String()),
			attribute.String("scan_id", evt.ScanID),
			attribute.Int("sinks", len(h.sinks)),
		))
	defer span.End()

	logr := logger.NewLoggerContext(h.logger.With(
		"event", evt.Type,
		"run_id", evt.RunID.String(),
		"scan_name", evt.ScanName,
	))

	var failed int
	for _, sink := range h.sinks {
		if err := sink.Deliver(ctx, evt); err != nil {
			failed++
			derr := shared.NewError(shared.KindNotificationDelivery, sink.Name(), err)
			span.RecordError(derr)
			logr.Warn(ctx, "Failed to deliver lifecycle notification", "sink", sink.Name(), "error", derr)
			continue
		}
		span.AddEvent("notification_delivered", trace.WithAttributes(attribute.String("sink", sink.Name())))
		logr.Debug(ctx, "Lifecycle notification delivered", "sink", sink.Name())
	}

	if failed > 0 {
		span.SetStatus(codes.Error, "notification delivery failed")
		return
	}
	span.SetStatus(codes.Ok, "notifications_delivered")
}

// Close releases sinks that hold connections.
func (h *Hub) Close() error {
	var errs []error
	for _, sink := range h.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
