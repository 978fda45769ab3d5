package scanning

import (
	"context"
	"errors"
)

// ErrArtifactNotFound indicates a local settings, policy or webmacro file
// named for upload does not exist.
var ErrArtifactNotFound = errors.New("local artifact not found")

// ExportFormat is a format scan results can be exported in.
type ExportFormat string

const (
	// ExportFormatFPR is the scan engine's native results format.
	ExportFormatFPR ExportFormat = "fpr"
	// ExportFormatXML is the structured XML report.
	ExportFormatXML ExportFormat = "xml"
)

func (f ExportFormat) String() string { return string(f) }

// ScanSummary is a scan as listed by the scanner service.
type ScanSummary struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status ScanStatus `json:"status"`
}

// RemoteJobClient is the set of scanner-service operations the orchestrator
// depends on. Implementations return errors classified with the shared error
// kinds where they can tell a transport failure apart from a bad request.
type RemoteJobClient interface {
	// ListBuiltinPolicies returns every policy that ships with the scanner.
	ListBuiltinPolicies(ctx context.Context) ([]PolicyDescriptor, error)
	// PolicyExists reports whether a policy with id is currently present.
	PolicyExists(ctx context.Context, id string) (bool, error)
	// GetPolicyByName looks a policy up by its name. found is false when no
	// policy carries that name.
	GetPolicyByName(ctx context.Context, name string) (policy PolicyDescriptor, found bool, err error)

	// UploadPolicy uploads the local policy file called name.
	UploadPolicy(ctx context.Context, name string) error
	// UploadSettings uploads the local settings file called name.
	UploadSettings(ctx context.Context, name string) error
	// UploadWebmacro uploads the local webmacro file called name.
	UploadWebmacro(ctx context.Context, name string) error

	// CreateJob submits a scan and returns the id the service assigned.
	CreateJob(ctx context.Context, sub ScanSubmission) (string, error)
	// GetStatus returns the job's current status.
	GetStatus(ctx context.Context, jobID string) (ScanStatus, error)
	// GetLog returns the job's scan log.
	GetLog(ctx context.Context, jobID string) (string, error)
	// GetIssues returns every finding of the job.
	GetIssues(ctx context.Context, jobID string) ([]Issue, error)
	// ExportResults downloads the job's results in format and returns where
	// they were written.
	ExportResults(ctx context.Context, jobID, scanName string, format ExportFormat) (string, error)

	// ListScans returns scans known to the service, optionally filtered by name.
	ListScans(ctx context.Context, name string) ([]ScanSummary, error)
}

// IssueWriter persists annotated issue records for a single scan.
type IssueWriter interface {
	Write(record map[string]any) error
	Close() error
}

// IssueSink opens the per-scan output an orchestrator run writes issues to.
type IssueSink interface {
	Open(scanName string) (IssueWriter, error)
}

// LifecycleNotifier delivers lifecycle events. Delivery is best-effort and
// implementations must not return errors to the caller.
type LifecycleNotifier interface {
	Notify(ctx context.Context, evt LifecycleEvent)
}
