package model_test

import (
	"encoding/json"
	"testing"

	"codelens/internal/runner/model"
	"codelens/internal/runner/sandbox/result"
	"codelens/internal/runner/sandbox/spec"
	appErr "codelens/pkg/errors"
)

func runTestsMessage() model.RunTestsMessage {
	return model.RunTestsMessage{
		ID:   "msg-1",
		Type: model.MessageTypeRunTests,
		Tests: []model.TestPayload{
			{ID: "t-1", Type: "unit", Name: "test_add", TestCode: "assert add(1,2)==3", TimeoutSeconds: 30},
			{ID: "t-2", Type: "memory", Name: "test_mem", TestCode: "assert True"},
			{ID: "t-3", Type: "performance", Name: "test_perf", TestCode: "assert True", TimeoutSeconds: 90},
		},
	}
}

func TestToTestCases(t *testing.T) {
	t.Parallel()
	msg := runTestsMessage()
	cases, err := msg.ToTestCases()
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}
	if cases[0].Category != spec.CategoryUnit || cases[1].Category != spec.CategoryMemory {
		t.Fatalf("categories not preserved: %s %s", cases[0].Category, cases[1].Category)
	}
	if cases[1].TimeoutSeconds != 0 {
		t.Fatalf("omitted timeout should stay zero for profile defaulting, got %d", cases[1].TimeoutSeconds)
	}
}

func TestToTestCasesRejectsEmptyBatch(t *testing.T) {
	t.Parallel()
	msg := model.RunTestsMessage{ID: "msg-2", Type: model.MessageTypeRunTests}
	if _, err := msg.ToTestCases(); !appErr.Is(err, appErr.NoTestsProvided) {
		t.Fatalf("expected no-tests error, got %v", err)
	}
}

func TestToTestCasesRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()
	msg := runTestsMessage()
	msg.Tests[2].ID = "t-1"
	if _, err := msg.ToTestCases(); !appErr.Is(err, appErr.DuplicateTestCase) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestToTestCasesRejectsUnknownCategory(t *testing.T) {
	t.Parallel()
	msg := runTestsMessage()
	msg.Tests[0].Type = "integration"
	if _, err := msg.ToTestCases(); !appErr.Is(err, appErr.InvalidTestCategory) {
		t.Fatalf("expected category error, got %v", err)
	}
}

func TestNewTestResponseGroupsByCategory(t *testing.T) {
	t.Parallel()
	results := []result.TestResult{
		{TestCaseID: "t-1", Category: spec.CategoryUnit, Status: result.StatusSuccess},
		{TestCaseID: "t-2", Category: spec.CategoryMemory, Status: result.StatusFailed},
		{TestCaseID: "t-3", Category: spec.CategoryPerformance, Status: result.StatusError},
		{TestCaseID: "t-4", Category: spec.CategoryUnit, Status: result.StatusFailed},
	}
	resp := model.NewTestResponse("msg-3", results)
	if resp.Type != model.MessageTypeTestResponse {
		t.Fatalf("unexpected type: %s", resp.Type)
	}
	if len(resp.Results.UnitTests) != 2 {
		t.Fatalf("expected 2 unit results, got %d", len(resp.Results.UnitTests))
	}
	if len(resp.Results.MemoryTests) != 1 || len(resp.Results.PerformanceTests) != 1 {
		t.Fatalf("grouping wrong: %d/%d", len(resp.Results.MemoryTests), len(resp.Results.PerformanceTests))
	}

	// Empty groups serialize as arrays, not null.
	empty := model.NewTestResponse("msg-4", nil)
	data, err := json.Marshal(empty)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	var groups map[string]json.RawMessage
	if err := json.Unmarshal(decoded["results"], &groups); err != nil {
		t.Fatalf("unmarshal groups failed: %v", err)
	}
	if string(groups["return_unit_tests"]) != "[]" {
		t.Fatalf("empty group must serialize as [], got %s", groups["return_unit_tests"])
	}
}

func TestErrorMessageCarriesCode(t *testing.T) {
	t.Parallel()
	msg := model.NewErrorMessage("msg-5", appErr.New(appErr.NoTestsProvided))
	if msg.Type != model.MessageTypeError {
		t.Fatalf("unexpected type: %s", msg.Type)
	}
	if msg.Code != int(appErr.NoTestsProvided) {
		t.Fatalf("unexpected code: %d", msg.Code)
	}
	if msg.Message == "" {
		t.Fatalf("error message must not be empty")
	}
}
