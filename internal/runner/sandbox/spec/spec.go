// Package spec defines test cases, categories and per-category sandbox profiles.
package spec

import (
	"time"

	appErr "codelens/pkg/errors"
)

// TestCategory identifies the kind of generated test.
type TestCategory string

const (
	CategoryUnit        TestCategory = "unit"
	CategoryMemory      TestCategory = "memory"
	CategoryPerformance TestCategory = "performance"
)

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (TestCategory, error) {
	switch TestCategory(raw) {
	case CategoryUnit, CategoryMemory, CategoryPerformance:
		return TestCategory(raw), nil
	default:
		return "", appErr.Newf(appErr.InvalidTestCategory, "unknown test category: %q", raw)
	}
}

// TestCase is one unit of work inside a batch. Immutable once created.
type TestCase struct {
	ID             string
	Category       TestCategory
	Name           string
	Title          string
	SourceCode     string
	TestCode       string
	TimeoutSeconds int64
}

// Payload returns the script the sandbox executes: the user function
// followed by the generated test body.
func (t TestCase) Payload() string {
	if t.SourceCode == "" {
		return t.TestCode
	}
	return t.SourceCode + "\n\n" + t.TestCode
}

// Validate checks required fields before submission.
func (t TestCase) Validate() error {
	if t.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if _, err := ParseCategory(string(t.Category)); err != nil {
		return err
	}
	if t.TestCode == "" {
		return appErr.ValidationError("test_code", "required")
	}
	// Zero means "use the category default"; only negatives are invalid.
	if t.TimeoutSeconds < 0 {
		return appErr.ValidationError("timeout_seconds", "must not be negative")
	}
	return nil
}

// CategoryProfile defines the sandbox image and resource ceilings for one
// test category. Categories differ only by this table, not by code paths.
type CategoryProfile struct {
	Category       TestCategory
	Image          string
	CPULimit       string
	MemoryLimit    string
	DefaultTimeout time.Duration
}

// The memory category gets a higher memory ceiling to tolerate the
// profiler's own overhead.
var defaultProfiles = map[TestCategory]CategoryProfile{
	CategoryUnit: {
		Category:       CategoryUnit,
		Image:          "codelens-test-executor:latest",
		CPULimit:       "500m",
		MemoryLimit:    "256Mi",
		DefaultTimeout: 60 * time.Second,
	},
	CategoryMemory: {
		Category:       CategoryMemory,
		Image:          "codelens-memory-executor:latest",
		CPULimit:       "500m",
		MemoryLimit:    "512Mi",
		DefaultTimeout: 120 * time.Second,
	},
	CategoryPerformance: {
		Category:       CategoryPerformance,
		Image:          "codelens-perf-executor:latest",
		CPULimit:       "1",
		MemoryLimit:    "256Mi",
		DefaultTimeout: 120 * time.Second,
	},
}

// ProfileRepository resolves the execution profile for a category.
type ProfileRepository interface {
	GetProfile(category TestCategory) (CategoryProfile, error)
}

// StaticProfileRepository serves profiles from an in-memory table.
type StaticProfileRepository struct {
	profiles map[TestCategory]CategoryProfile
}

// NewStaticProfileRepository builds a repository from the given profiles,
// falling back to the built-in defaults for categories not overridden.
func NewStaticProfileRepository(overrides []CategoryProfile) *StaticProfileRepository {
	profiles := make(map[TestCategory]CategoryProfile, len(defaultProfiles))
	for cat, prof := range defaultProfiles {
		profiles[cat] = prof
	}
	for _, prof := range overrides {
		if _, err := ParseCategory(string(prof.Category)); err != nil {
			continue
		}
		base := profiles[prof.Category]
		if prof.Image != "" {
			base.Image = prof.Image
		}
		if prof.CPULimit != "" {
			base.CPULimit = prof.CPULimit
		}
		if prof.MemoryLimit != "" {
			base.MemoryLimit = prof.MemoryLimit
		}
		if prof.DefaultTimeout > 0 {
			base.DefaultTimeout = prof.DefaultTimeout
		}
		base.Category = prof.Category
		profiles[prof.Category] = base
	}
	return &StaticProfileRepository{profiles: profiles}
}

// GetProfile returns the profile for a category.
func (r *StaticProfileRepository) GetProfile(category TestCategory) (CategoryProfile, error) {
	prof, ok := r.profiles[category]
	if !ok {
		return CategoryProfile{}, appErr.Newf(appErr.InvalidTestCategory, "no profile for category: %q", category)
	}
	return prof, nil
}
