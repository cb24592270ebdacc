package model

import "codelens/internal/runner/sandbox/result"

// Batch lifecycle states as exposed by the status endpoint.
const (
	BatchStateRunning   = "running"
	BatchStateCompleted = "completed"
	BatchStateCancelled = "cancelled"
)

// BatchStatus is the persisted snapshot of a batch's progress. Results
// accumulate as cases finish, so a client that lost its channel can
// recover everything delivered so far from the status endpoint.
type BatchStatus struct {
	BatchID   string              `json:"batch_id"`
	State     string              `json:"state"`
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Results   []result.TestResult `json:"results,omitempty"`
	CreatedAt int64               `json:"created_at"`
	UpdatedAt int64               `json:"updated_at"`
}

// Final reports whether the batch has finished moving.
func (s BatchStatus) Final() bool {
	return s.State == BatchStateCompleted || s.State == BatchStateCancelled
}

// Batch event types published to the message queue.
const BatchEventCompleted = "batch_completed"

// BatchEvent is the message emitted when a batch reaches a final state.
type BatchEvent struct {
	Type      string      `json:"type"`
	Status    BatchStatus `json:"status"`
	CreatedAt int64       `json:"created_at"`
}
