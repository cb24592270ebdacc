package model

import (
	"encoding/json"

	appErr "codelens/pkg/errors"
	"codelens/internal/runner/sandbox/result"
	"codelens/internal/runner/sandbox/spec"
)

// Inbound message types.
const (
	MessageTypeRunTests = "run_tests"
	MessageTypePing     = "ping"
)

// Outbound message types.
const (
	MessageTypeTestResult   = "test_result"
	MessageTypeTestResponse = "test_response"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Envelope carries the fields every inbound message has. The payload is
// decoded in a second pass once the type is known.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TestPayload is one test case as submitted by a client.
type TestPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	SourceCode     string `json:"source_code"`
	TestCode       string `json:"test_code"`
	TimeoutSeconds int64  `json:"timeout_seconds,omitempty"`
}

// RunTestsMessage asks for a batch of test cases to be executed.
type RunTestsMessage struct {
	ID    string        `json:"id"`
	Type  string        `json:"type"`
	Tests []TestPayload `json:"tests"`
}

// ToTestCases converts the wire payloads into validated test cases.
func (m *RunTestsMessage) ToTestCases() ([]spec.TestCase, error) {
	if len(m.Tests) == 0 {
		return nil, appErr.New(appErr.NoTestsProvided)
	}
	seen := make(map[string]bool, len(m.Tests))
	cases := make([]spec.TestCase, 0, len(m.Tests))
	for _, p := range m.Tests {
		category, err := spec.ParseCategory(p.Type)
		if err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, appErr.Newf(appErr.DuplicateTestCase, "duplicate test case id %q", p.ID)
		}
		seen[p.ID] = true
		tc := spec.TestCase{
			ID:             p.ID,
			Category:       category,
			Name:           p.Name,
			Title:          p.Title,
			SourceCode:     p.SourceCode,
			TestCode:       p.TestCode,
			TimeoutSeconds: p.TimeoutSeconds,
		}
		if err := tc.Validate(); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

// IndividualTestResult streams one finished test back to the client while
// the rest of the batch is still running.
type IndividualTestResult struct {
	MessageID  string            `json:"message_id"`
	Type       string            `json:"type"`
	TestResult result.TestResult `json:"test_result"`
}

// NewIndividualTestResult wraps a decoded result for streaming.
func NewIndividualTestResult(messageID string, r result.TestResult) IndividualTestResult {
	return IndividualTestResult{
		MessageID:  messageID,
		Type:       MessageTypeTestResult,
		TestResult: r,
	}
}

// GroupedResults splits a batch's results by test category.
type GroupedResults struct {
	UnitTests        []result.TestResult `json:"return_unit_tests"`
	MemoryTests      []result.TestResult `json:"return_memory_tests"`
	PerformanceTests []result.TestResult `json:"return_performance_tests"`
}

// TestResponse is the terminal aggregate for a batch. It is sent exactly
// once, after every streamed result has been delivered.
type TestResponse struct {
	MessageID string         `json:"message_id"`
	Type      string         `json:"type"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Results   GroupedResults `json:"results"`
}

// NewTestResponse groups the batch results by category.
func NewTestResponse(messageID string, results []result.TestResult) TestResponse {
	resp := TestResponse{
		MessageID: messageID,
		Type:      MessageTypeTestResponse,
		Completed: len(results),
		Total:     len(results),
		Results: GroupedResults{
			UnitTests:        []result.TestResult{},
			MemoryTests:      []result.TestResult{},
			PerformanceTests: []result.TestResult{},
		},
	}
	for _, r := range results {
		switch r.Category {
		case spec.CategoryMemory:
			resp.Results.MemoryTests = append(resp.Results.MemoryTests, r)
		case spec.CategoryPerformance:
			resp.Results.PerformanceTests = append(resp.Results.PerformanceTests, r)
		default:
			resp.Results.UnitTests = append(resp.Results.UnitTests, r)
		}
	}
	return resp
}

// PongMessage answers a ping.
type PongMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NewPong builds the reply for a ping envelope.
func NewPong(id string) PongMessage {
	return PongMessage{ID: id, Type: MessageTypePong}
}

// ErrorMessage reports a request-level failure back over the channel.
type ErrorMessage struct {
	MessageID string `json:"message_id,omitempty"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// NewErrorMessage maps an error to its wire form.
func NewErrorMessage(messageID string, err error) ErrorMessage {
	code := appErr.GetCode(err)
	return ErrorMessage{
		MessageID: messageID,
		Type:      MessageTypeError,
		Code:      int(code),
		Message:   code.Message(),
	}
}
