package scanning

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ahrav/dastctl/internal/domain/scanning"
)

// mockRemoteJobClient implements scanning.RemoteJobClient for testing.
type mockRemoteJobClient struct{ mock.Mock }

func (m *mockRemoteJobClient) ListBuiltinPolicies(ctx context.Context) ([]scanning.PolicyDescriptor, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.([]scanning.PolicyDescriptor), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRemoteJobClient) PolicyExists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRemoteJobClient) GetPolicyByName(ctx context.Context, name string) (scanning.PolicyDescriptor, bool, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(scanning.PolicyDescriptor), args.Bool(1), args.Error(2)
}

func (m *mockRemoteJobClient) UploadPolicy(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockRemoteJobClient) UploadSettings(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockRemoteJobClient) UploadWebmacro(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockRemoteJobClient) CreateJob(ctx context.Context, sub scanning.ScanSubmission) (string, error) {
	args := m.Called(ctx, sub)
	return args.String(0), args.Error(1)
}

func (m *mockRemoteJobClient) GetStatus(ctx context.Context, jobID string) (scanning.ScanStatus, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(scanning.ScanStatus), args.Error(1)
}

func (m *mockRemoteJobClient) GetLog(ctx context.Context, jobID string) (string, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Error(1)
}

func (m *mockRemoteJobClient) GetIssues(ctx context.Context, jobID string) ([]scanning.Issue, error) {
	args := m.Called(ctx, jobID)
	if issues := args.Get(0); issues != nil {
		return issues.([]scanning.Issue), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRemoteJobClient) ExportResults(
	ctx context.Context,
	jobID, scanName string,
	format scanning.ExportFormat,
) (string, error) {
	args := m.Called(ctx, jobID, scanName, format)
	return args.String(0), args.Error(1)
}

func (m *mockRemoteJobClient) ListScans(ctx context.Context, name string) ([]scanning.ScanSummary, error) {
	args := m.Called(ctx, name)
	if scans := args.Get(0); scans != nil {
		return scans.([]scanning.ScanSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingNotifier captures delivered lifecycle events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []scanning.LifecycleEvent
	// ctxErrs holds ctx.Err() observed at delivery time.
	ctxErrs []error
}

func (n *recordingNotifier) Notify(ctx context.Context, evt scanning.LifecycleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
}

func (n *recordingNotifier) types() []scanning.LifecycleEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]scanning.LifecycleEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryIssueSink keeps written records in memory, keyed by scan name.
type memoryIssueSink struct {
	mu       sync.Mutex
	records  map[string][]map[string]any
	closed   map[string]bool
	openErr  error
	writeErr error
}

func newMemoryIssueSink() *memoryIssueSink {
	return &memoryIssueSink{
		records: make(map[string][]map[string]any),
		closed:  make(map[string]bool),
	}
}

func (s *memoryIssueSink) Open(scanName string) (scanning.IssueWriter, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &memoryIssueWriter{sink: s, scanName: scanName}, nil
}

type memoryIssueWriter struct {
	sink     *memoryIssueSink
	scanName string
}

func (w *memoryIssueWriter) Write(record map[string]any) error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.sink.writeErr != nil {
		return w.sink.writeErr
	}
	w.sink.records[w.scanName] = append(w.sink.records[w.scanName], record)
	return nil
}

func (w *memoryIssueWriter) Close() error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.sink.closed[w.scanName] {
		return errors.New("already closed")
	}
	w.sink.closed[w.scanName] = true
	return nil
}
