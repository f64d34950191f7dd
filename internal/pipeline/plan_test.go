package pipeline

import (
	"errors"
	"testing"
)

func TestClipCount(t *testing.T) {
	cases := []struct {
		duration, ceiling, want int
	}{
		{0, 8, 1},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{16, 8, 2},
		{17, 8, 3},
		{24, 8, 3},
		{30, 8, 4},
		{10, 5, 2},
	}

	for _, c := range cases {
		got := ClipCount(c.duration, c.ceiling)
		if got != c.want {
			t.Errorf("ClipCount(%d, %d) = %d, want %d", c.duration, c.ceiling, got, c.want)
		}
	}
}

func TestClipCountCoversDuration(t *testing.T) {
	// Clip count times the ceiling must always cover the target duration.
	for duration := 1; duration <= 60; duration++ {
		count := ClipCount(duration, 8)
		if count*8 < duration {
			t.Errorf("duration %d: %d clips of 8s cover only %ds", duration, count, count*8)
		}
		if (count-1)*8 >= duration {
			t.Errorf("duration %d: %d clips is one too many", duration, count)
		}
	}
}

func TestBuildClipPlanReplicatesPrompt(t *testing.T) {
	plan, err := BuildClipPlan("a fox runs through snow", nil, 16, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(plan))
	}

	for i, spec := range plan {
		if spec.Index != i {
			t.Errorf("clip %d has index %d", i, spec.Index)
		}
		if spec.Prompt != "a fox runs through snow" {
			t.Errorf("clip %d prompt = %q", i, spec.Prompt)
		}
		if spec.DurationSeconds != 8 {
			t.Errorf("clip %d duration = %d, want 8", i, spec.DurationSeconds)
		}
	}
}

func TestBuildClipPlanFromSections(t *testing.T) {
	sections := []string{"the fox wakes", "the fox runs", "the fox rests"}

	plan, err := BuildClipPlan("", sections, 0, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan) != 3 {
		t.Fatalf("expected one clip per section, got %d", len(plan))
	}
	for i, spec := range plan {
		if spec.Prompt != sections[i] {
			t.Errorf("clip %d prompt = %q, want %q", i, spec.Prompt, sections[i])
		}
	}
}

func TestBuildClipPlanRejectsEmptyInput(t *testing.T) {
	_, err := BuildClipPlan("", nil, 8, 8)
	if err == nil {
		t.Fatal("expected error for empty prompt and sections")
	}

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestBuildClipPlanRejectsEmptySection(t *testing.T) {
	_, err := BuildClipPlan("", []string{"opening", ""}, 0, 8)
	if err == nil {
		t.Fatal("expected error for empty section")
	}
}

func TestBuildClipPlanRejectsNegativeDuration(t *testing.T) {
	_, err := BuildClipPlan("prompt", nil, -5, 8)
	if err == nil {
		t.Fatal("expected error for negative duration")
	}
}
