// Package result defines decoded test verdicts delivered to the caller.
package result

import "codelens/internal/runner/sandbox/spec"

// TestStatus is the decoded outcome of one test case.
type TestStatus string

const (
	// StatusSuccess means the sandbox ran to completion and the harness
	// reported a passing verdict.
	StatusSuccess TestStatus = "success"
	// StatusFailed means the test itself failed: non-zero exit, assertion
	// failure or exceeded time limit. The normal negative outcome.
	StatusFailed TestStatus = "failed"
	// StatusError means infrastructure got in the way: the sandbox never
	// ran, or its output could not be decoded. Never the user's fault.
	StatusError TestStatus = "error"
)

// TestResult is the immutable verdict for one test case. Derived
// deterministically from a terminal sandbox handle.
type TestResult struct {
	TestCaseID      string            `json:"test_id"`
	Category        spec.TestCategory `json:"category"`
	Status          TestStatus        `json:"status"`
	ExecutionTimeMs *float64          `json:"execution_time_ms,omitempty"`
	MemoryDeltaKB   *float64          `json:"memory_delta_kb,omitempty"`
	Output          string            `json:"output,omitempty"`
	ErrorMessage    string            `json:"error,omitempty"`
}

// Passed reports whether the result is a pass.
func (r TestResult) Passed() bool {
	return r.Status == StatusSuccess
}
