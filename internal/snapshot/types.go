// Package snapshot defines core types shared across subsystems.
package snapshot

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a screenshot job.
type Status string

// Job status values tracked by the status store. Done and fail are terminal.
const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFail    Status = "fail"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFail
}

// ErrNotFound is returned when a job id has never been registered.
var ErrNotFound = errors.New("job not found")

// Job is the tracked state for one submitted capture request.
type Job struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Submitted time.Time `json:"submitted_at"`
}

// Message is the broker envelope for one capture job. The wire shape is part
// of the queue contract and must stay stable across versions.
type Message struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}
