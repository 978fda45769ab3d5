package scanning

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEventType names a point in the scan lifecycle that external
// consumers are notified about.
type LifecycleEventType string

const (
	// EventScanStart fires right after the scanner accepted the job.
	EventScanStart LifecycleEventType = "scan_start"
	// EventScanEnd fires once per started scan, whatever the outcome.
	EventScanEnd LifecycleEventType = "scan_end"
)

func (t LifecycleEventType) String() string { return string(t) }

// Outcome summarizes how a run ended from the orchestrator's point of view.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// LifecycleEvent is delivered to every notification sink.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"event"`
	RunID     uuid.UUID          `json:"run_id"`
	ScanName  string             `json:"scan_name"`
	ScanID    string             `json:"scan_id"`
	Status    ScanStatus         `json:"status,omitempty"`
	Outcome   Outcome            `json:"outcome,omitempty"`
	Policy    string             `json:"policy,omitempty"`
	Targets   []string           `json:"targets,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewScanStartEvent creates the event fired after submission.
func NewScanStartEvent(runID uuid.UUID, req ScanRequest, job *ScanJob, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:      EventScanStart,
		RunID:     runID,
		ScanName:  req.ScanName(),
		ScanID:    job.ID(),
		Status:    job.Status(),
		Policy:    req.PolicyName(),
		Targets:   req.StartURLs(),
		Timestamp: at,
	}
}

// NewScanEndEvent creates the event fired when the run finishes.
func NewScanEndEvent(runID uuid.UUID, req ScanRequest, job *ScanJob, outcome Outcome, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:      EventScanEnd,
		RunID:     runID,
		ScanName:  req.ScanName(),
		ScanID:    job.ID(),
		Status:    job.Status(),
		Outcome:   outcome,
		Policy:    req.PolicyName(),
		Targets:   req.StartURLs(),
		Timestamp: at,
	}
}
