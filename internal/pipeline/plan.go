package pipeline

// ClipSpec is one clip's slot in the chain, before any remote call is made.
type ClipSpec struct {
	Index           int
	Prompt          string
	DurationSeconds int
}

// BuildClipPlan turns the caller's request into an ordered clip plan.
//
// When scriptSections are given, each section becomes one clip. Otherwise the
// single prompt is replicated across ceil(duration/ceiling) clips so the
// target duration is covered. Clip count is always at least 1.
func BuildClipPlan(prompt string, scriptSections []string, durationSeconds, maxClipSeconds int) ([]ClipSpec, error) {
	if maxClipSeconds <= 0 {
		maxClipSeconds = 8
	}
	if len(scriptSections) == 0 && prompt == "" {
		return nil, Validationf("either prompt or scriptSections is required")
	}
	if durationSeconds < 0 {
		return nil, Validationf("duration must be positive, got %d", durationSeconds)
	}

	prompts := scriptSections
	if len(prompts) == 0 {
		repeats := ClipCount(durationSeconds, maxClipSeconds)
		prompts = make([]string, repeats)
		for i := range prompts {
			prompts[i] = prompt
		}
	}

	plan := make([]ClipSpec, len(prompts))
	for i, p := range prompts {
		if p == "" {
			return nil, Validationf("scriptSections[%d] is empty", i)
		}
		plan[i] = ClipSpec{
			Index:           i,
			Prompt:          p,
			DurationSeconds: maxClipSeconds,
		}
	}
	return plan, nil
}

// ClipCount is ceil(duration/ceiling), with a floor of one clip.
func ClipCount(durationSeconds, maxClipSeconds int) int {
	if durationSeconds <= 0 || maxClipSeconds <= 0 {
		return 1
	}
	count := (durationSeconds + maxClipSeconds - 1) / maxClipSeconds
	if count < 1 {
		count = 1
	}
	return count
}
