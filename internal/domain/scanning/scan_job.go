package scanning

import (
	"fmt"
	"slices"
	"time"
)

// StatusTransition records one observed status change of a remote job.
type StatusTransition struct {
	From ScanStatus
	To   ScanStatus
	At   time.Time
}

// ScanJob tracks a job on the scanner service for the duration of one run.
// It is never persisted locally.
type ScanJob struct {
	id          string
	status      ScanStatus
	createdAt   time.Time
	transitions []StatusTransition
}

// NewScanJob creates a job for an id the scanner service assigned.
func NewScanJob(id string, createdAt time.Time) *ScanJob {
	return &ScanJob{id: id, createdAt: createdAt}
}

// ID returns the scanner-assigned id.
func (j *ScanJob) ID() string { return j.id }

// Status returns the last observed status. It is empty before the first poll.
func (j *ScanJob) Status() ScanStatus { return j.status }

// CreatedAt returns when the job was submitted.
func (j *ScanJob) CreatedAt() time.Time { return j.createdAt }

// Transitions returns the status changes observed so far.
func (j *ScanJob) Transitions() []StatusTransition { return slices.Clone(j.transitions) }

// ObserveStatus records a polled status. It returns true when the status
// changed. The remote service is the source of truth, so an unexpected
// transition is still recorded and reported through the returned error.
func (j *ScanJob) ObserveStatus(status ScanStatus, at time.Time) (bool, error) {
	if status == j.status {
		return false, nil
	}
	if j.status.IsTerminal() && j.status != "" {
		return false, fmt.Errorf("job %s already reached terminal status %s", j.id, j.status)
	}

	err := j.status.ValidateTransition(status)
	j.transitions = append(j.transitions, StatusTransition{From: j.status, To: status, At: at})
	j.status = status
	return true, err
}

// JobFailureError reports a remote job that ended in a non-success terminal status.
type JobFailureError struct {
	JobID  string
	Status ScanStatus
}

func (e *JobFailureError) Error() string {
	return fmt.Sprintf("scan %s ended with status %s", e.JobID, e.Status)
}
