// Package sandbox turns test cases into isolated, resource-bounded cluster
// Jobs and tracks them to a terminal state.
package sandbox

import (
	"sync/atomic"
	"time"

	"codelens/internal/runner/sandbox/spec"
)

// Phase is the lifecycle state of one sandbox.
type Phase string

const (
	// PhasePending means the Job was accepted but its pod has not started.
	PhasePending Phase = "Pending"
	// PhaseRunning means the container has started.
	PhaseRunning Phase = "Running"
	// PhaseSucceeded means the container exited zero.
	PhaseSucceeded Phase = "Succeeded"
	// PhaseFailed means the container exited non-zero.
	PhaseFailed Phase = "Failed"
	// PhaseTimedOut means the deadline was exceeded and the watcher
	// forced termination.
	PhaseTimedOut Phase = "TimedOut"
	// PhaseSchedulingFailed means the sandbox never started: image pull
	// error, quota, RBAC denial.
	PhaseSchedulingFailed Phase = "SchedulingFailed"
)

// Terminal reports whether no further transition can occur from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut, PhaseSchedulingFailed:
		return true
	default:
		return false
	}
}

// Handle is the orchestrator's record of one sandbox execution.
// Created by the Submitter, mutated only by the Watcher, reclaimed by the
// Sweeper once the decoded result has been delivered.
type Handle struct {
	TestCaseID     string
	BatchID        string
	Category       spec.TestCategory
	JobName        string
	TimeoutSeconds int64

	Phase       Phase
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	// Output holds the captured stdout/stderr, capped at the watcher's
	// byte limit with a truncation marker beyond it.
	Output    string
	Truncated bool

	// FailureReason carries the cluster-side reason for Failed,
	// TimedOut and SchedulingFailed phases.
	FailureReason string

	reclaimed atomic.Bool
}

// Reclaimed reports whether the backing cluster object has been deleted.
func (h *Handle) Reclaimed() bool {
	return h.reclaimed.Load()
}

func (h *Handle) markReclaimed() {
	h.reclaimed.Store(true)
}

// Event is one observed phase transition of a sandbox.
type Event struct {
	Phase Phase
	At    time.Time
}
