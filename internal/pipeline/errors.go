package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors. Handlers classify these into HTTP responses; the worker
// uses them to decide whether a failure is chargeable (none of them are).
var (
	// ErrConfiguration means a required service credential is missing.
	ErrConfiguration = errors.New("missing service credential")

	// ErrInsufficientCredits means the user's balance cannot cover the
	// request. No external call is made and nothing is charged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrPollTimeout means a clip exhausted its poll budget. The operation
	// may still complete server-side; callers should poll by operation name
	// rather than resubmit blindly.
	ErrPollTimeout = errors.New("video generation timed out")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// GenerationError means the remote model refused or errored. ContentPolicy
// flags safety-filter rejections so the caller can show a friendlier message.
type GenerationError struct {
	ClipIndex     int
	Message       string
	ContentPolicy bool
}

func (e *GenerationError) Error() string {
	if e.ContentPolicy {
		return fmt.Sprintf("clip %d blocked by content policy: %s", e.ClipIndex, e.Message)
	}
	return fmt.Sprintf("clip %d generation failed: %s", e.ClipIndex, e.Message)
}

// ExtractionError means the local frame-extraction step failed.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("frame extraction failed: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// StitchError means every stitching fallback was exhausted.
type StitchError struct {
	Err error
}

func (e *StitchError) Error() string { return fmt.Sprintf("stitching failed: %v", e.Err) }
func (e *StitchError) Unwrap() error { return e.Err }
