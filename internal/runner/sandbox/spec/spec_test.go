package spec_test

import (
	"testing"
	"time"

	"codelens/internal/runner/sandbox/spec"
	appErr "codelens/pkg/errors"
)

func validCase() spec.TestCase {
	return spec.TestCase{
		ID:             "case-1",
		Category:       spec.CategoryUnit,
		Name:           "test_add",
		SourceCode:     "def add(a, b):\n    return a + b",
		TestCode:       "assert add(1, 2) == 3",
		TimeoutSeconds: 30,
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"unit", "memory", "performance"} {
		if _, err := spec.ParseCategory(raw); err != nil {
			t.Fatalf("parse %q failed: %v", raw, err)
		}
	}
	if _, err := spec.ParseCategory("fuzz"); !appErr.Is(err, appErr.InvalidTestCategory) {
		t.Fatalf("expected invalid category error, got %v", err)
	}
}

func TestTestCaseValidate(t *testing.T) {
	t.Parallel()
	if err := validCase().Validate(); err != nil {
		t.Fatalf("valid case rejected: %v", err)
	}

	tc := validCase()
	tc.ID = ""
	if err := tc.Validate(); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}

	tc = validCase()
	tc.TestCode = ""
	if err := tc.Validate(); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for empty test code, got %v", err)
	}

	tc = validCase()
	tc.TimeoutSeconds = -1
	if err := tc.Validate(); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error for negative timeout, got %v", err)
	}

	tc = validCase()
	tc.TimeoutSeconds = 0
	if err := tc.Validate(); err != nil {
		t.Fatalf("zero timeout should fall back to the category default: %v", err)
	}
}

func TestPayloadJoinsSourceAndTest(t *testing.T) {
	t.Parallel()
	tc := validCase()
	want := tc.SourceCode + "\n\n" + tc.TestCode
	if got := tc.Payload(); got != want {
		t.Fatalf("unexpected payload: %q", got)
	}

	tc.SourceCode = ""
	if got := tc.Payload(); got != tc.TestCode {
		t.Fatalf("payload without source should be the test body, got %q", got)
	}
}

func TestStaticProfileRepositoryDefaults(t *testing.T) {
	t.Parallel()
	repo := spec.NewStaticProfileRepository(nil)

	unit, err := repo.GetProfile(spec.CategoryUnit)
	if err != nil {
		t.Fatalf("get unit profile failed: %v", err)
	}
	memory, err := repo.GetProfile(spec.CategoryMemory)
	if err != nil {
		t.Fatalf("get memory profile failed: %v", err)
	}
	if memory.MemoryLimit == unit.MemoryLimit {
		t.Fatalf("memory category should get a higher memory ceiling than unit")
	}
	if _, err := repo.GetProfile(spec.TestCategory("fuzz")); !appErr.Is(err, appErr.InvalidTestCategory) {
		t.Fatalf("expected invalid category error, got %v", err)
	}
}

func TestStaticProfileRepositoryOverrides(t *testing.T) {
	t.Parallel()
	repo := spec.NewStaticProfileRepository([]spec.CategoryProfile{
		{Category: spec.CategoryUnit, Image: "registry.local/executor:v2", DefaultTimeout: 90 * time.Second},
	})
	unit, err := repo.GetProfile(spec.CategoryUnit)
	if err != nil {
		t.Fatalf("get unit profile failed: %v", err)
	}
	if unit.Image != "registry.local/executor:v2" {
		t.Fatalf("image override ignored: %s", unit.Image)
	}
	if unit.DefaultTimeout != 90*time.Second {
		t.Fatalf("timeout override ignored: %s", unit.DefaultTimeout)
	}
	if unit.CPULimit == "" {
		t.Fatalf("unset override fields must keep defaults")
	}
}
