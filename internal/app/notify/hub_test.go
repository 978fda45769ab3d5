package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

type mockSink struct{ mock.Mock }

func (m *mockSink) Name() string { return m.Called().String(0) }

func (m *mockSink) Deliver(ctx context.Context, evt scanning.LifecycleEvent) error {
	return m.Called(ctx, evt).Error(0)
}

type closingSink struct {
	mockSink
	closeErr error
	closed   bool
}

func (c *closingSink) Close() error {
	c.closed = true
	return c.closeErr
}

func testEvent() scanning.LifecycleEvent {
	return scanning.LifecycleEvent{
		Type:      scanning.EventScanEnd,
		RunID:     uuid.New(),
		ScanName:  "nightly-1",
		ScanID:    "job-1",
		Status:    scanning.ScanStatusError,
		Outcome:   scanning.OutcomeFailed,
		Timestamp: time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC),
	}
}

func TestHubDeliversToEverySinkDespiteFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelDebug, "test", nil)

	failing := new(mockSink)
	failing.On("Name").Return("webhook")
	failing.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("dial tcp: connection refused")).Once()

	healthy := new(mockSink)
	healthy.On("Name").Return("kafka")
	healthy.On("Deliver", mock.Anything, mock.Anything).Return(nil).Once()

	hub := NewHub(log, noop.NewTracerProvider().Tracer("test"), failing, healthy)
	evt := testEvent()

	assert.NotPanics(t, func() { hub.Notify(context.Background(), evt) })

	failing.AssertCalled(t, "Deliver", mock.Anything, evt)
	healthy.AssertCalled(t, "Deliver", mock.Anything, evt)
	assert.Contains(t, buf.String(), "notification_delivery error")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestHubWithoutSinks(t *testing.T) {
	t.Parallel()
	hub := NewHub(logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.NotPanics(t, func() { hub.Notify(context.Background(), testEvent()) })
	assert.NoError(t, hub.Close())
}

func TestHubCloseClosesClosableSinks(t *testing.T) {
	t.Parallel()

	plain := new(mockSink)
	first := &closingSink{}
	second := &closingSink{closeErr: errors.New("producer already closed")}

	hub := NewHub(logger.Noop(), noop.NewTracerProvider().Tracer("test"), plain, first, second)
	err := hub.Close()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer already closed")
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}
