package sandbox

import (
	"encoding/json"
	"strings"

	"codelens/internal/runner/sandbox/result"
)

// ResultMarker prefixes the single line of structured output the harness
// prints after the user's tests finish. Everything before it is ordinary
// test output; everything after it on the same line is the JSON summary.
const ResultMarker = "__CODELENS_RESULT__"

// harnessSummary mirrors the JSON payload printed by the executor images.
type harnessSummary struct {
	Passed          bool     `json:"passed"`
	ExecutionTimeMs *float64 `json:"execution_time_ms"`
	MemoryDeltaKB   *float64 `json:"memory_delta_kb"`
	Error           string   `json:"error"`
}

// Decode turns a terminal handle into a test result. It is pure: it reads
// only the handle and never touches the cluster, so every terminal handle
// decodes to exactly one result.
//
// A sandbox that succeeded without printing the marker line is reported as
// an infrastructure error, never as a silent pass.
func Decode(h *Handle) result.TestResult {
	r := result.TestResult{
		TestCaseID: h.TestCaseID,
		Category:   h.Category,
	}

	switch h.Phase {
	case PhaseTimedOut:
		r.Status = result.StatusFailed
		r.Output = h.Output
		r.ErrorMessage = "execution exceeded time limit"
		return r
	case PhaseSchedulingFailed:
		r.Status = result.StatusError
		r.ErrorMessage = h.FailureReason
		if r.ErrorMessage == "" {
			r.ErrorMessage = "sandbox could not be scheduled"
		}
		return r
	case PhaseSucceeded, PhaseFailed:
		// fall through to marker decoding
	default:
		r.Status = result.StatusError
		r.ErrorMessage = "sandbox did not reach a terminal state"
		return r
	}

	output, summary, found := extractSummary(h.Output)
	r.Output = output

	if !found {
		if h.Phase == PhaseSucceeded {
			r.Status = result.StatusError
			r.ErrorMessage = "no result emitted by test harness"
			if strings.TrimSpace(output) != "" {
				r.ErrorMessage = strings.TrimSpace(output)
			}
			return r
		}
		// The process exited non-zero before the harness printed its
		// summary: a crash in user code, not an infrastructure fault.
		r.Status = result.StatusFailed
		r.ErrorMessage = h.FailureReason
		if r.ErrorMessage == "" {
			r.ErrorMessage = "test process exited before reporting a result"
		}
		return r
	}

	if summary.Passed {
		r.Status = result.StatusSuccess
	} else {
		r.Status = result.StatusFailed
	}
	r.ExecutionTimeMs = summary.ExecutionTimeMs
	r.MemoryDeltaKB = summary.MemoryDeltaKB
	r.ErrorMessage = summary.Error
	return r
}

// extractSummary splits captured output into the user-visible portion and
// the parsed harness summary. When several marker lines appear, the last
// one wins.
func extractSummary(output string) (string, harnessSummary, bool) {
	var (
		summary harnessSummary
		found   bool
		kept    []string
	)
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, ResultMarker)
		if idx < 0 {
			kept = append(kept, line)
			continue
		}
		payload := strings.TrimSpace(line[idx+len(ResultMarker):])
		var s harnessSummary
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			kept = append(kept, line)
			continue
		}
		summary = s
		found = true
		if prefix := strings.TrimRight(line[:idx], " \t"); prefix != "" {
			kept = append(kept, prefix)
		}
	}
	return strings.Join(kept, "\n"), summary, found
}
