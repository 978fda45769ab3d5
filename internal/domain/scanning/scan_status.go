package scanning

import (
	"fmt"
	"strings"
)

// ScanStatus represents the state of a remote scan as reported by the scanner service.
type ScanStatus string

const (
	// ScanStatusPending indicates the scan is queued on the scanner and has not started.
	ScanStatusPending ScanStatus = "Pending"

	// ScanStatusRunning indicates the scanner is actively crawling or auditing.
	ScanStatusRunning ScanStatus = "Running"

	// ScanStatusComplete is the only success terminal status.
	ScanStatusComplete ScanStatus = "Complete"

	// ScanStatusError indicates the scan stopped on a scanner-side error.
	ScanStatusError ScanStatus = "Error"

	// ScanStatusCancelled indicates the scan was stopped before completing.
	ScanStatusCancelled ScanStatus = "Cancelled"

	// ScanStatusOther is any status string the scanner reports that we do not know.
	// It is treated as a failure terminal.
	ScanStatusOther ScanStatus = "Other"
)

func (s ScanStatus) String() string { return string(s) }

// ParseScanStatus converts a scanner status string into a ScanStatus.
// The comparison is case-insensitive.
func ParseScanStatus(s string) ScanStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "notrunning", "not running", "queued":
		return ScanStatusPending
	case "running", "paused":
		return ScanStatusRunning
	case "complete", "completed":
		return ScanStatusComplete
	case "error", "failed", "interrupted":
		return ScanStatusError
	case "cancelled", "canceled", "stopped":
		return ScanStatusCancelled
	default:
		return ScanStatusOther
	}
}

// IsTerminal reports whether the remote job will not change status any further.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusPending, ScanStatusRunning:
		return false
	default:
		return true
	}
}

// IsSuccess reports whether s is the success terminal.
func (s ScanStatus) IsSuccess() bool { return s == ScanStatusComplete }

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s ScanStatus) ValidateTransition(target ScanStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid scan status transition from %s to %s", s, target)
	}
	return nil
}

func (s ScanStatus) isValidTransition(target ScanStatus) bool {
	switch s {
	case "":
		// First observation may be anything.
		return true
	case ScanStatusPending:
		return true
	case ScanStatusRunning:
		return target != ScanStatusPending
	default:
		// Terminal states - no further transitions allowed.
		return false
	}
}
