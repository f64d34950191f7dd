package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Enums

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

type InputType string

const (
	InputTextToVideo  InputType = "text-to-video"
	InputImageToVideo InputType = "image-to-video"
)

// Transition identifies which stitching path produced the combined output.
// The stitcher degrades crossfade → fade → concat when ffmpeg rejects the
// transition graph, and callers are told which tier they got.
type Transition string

const (
	TransitionCrossfade Transition = "crossfade"
	TransitionFade      Transition = "fade"
	TransitionConcat    Transition = "concat"
	TransitionNone      Transition = "none" // single clip, passed through untouched
)

// Models

// CreditBalance is one row in the credits table — the only state shared
// across concurrent requests from the same user.
type CreditBalance struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is one row per chargeable action. The row insert and the
// balance decrement happen in the same database transaction.
type CreditTransaction struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Credits     int       `json:"credits"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Generation records one successful generation: prompt, media location,
// model tag, duration, and what it cost.
type Generation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	ClipCount int       `json:"clip_count"`
	// ClipURLs holds every clip's remote URL. VideoURL is the stitched
	// result when Stitched is true; otherwise no combined file exists and
	// the clips stand on their own.
	ClipURLs       pq.StringArray `json:"clip_urls"`
	Stitched       bool           `json:"stitched"`
	DurationSec    float64        `json:"duration_sec"`
	VideoURL       string         `json:"video_url"`
	CreditsCharged int            `json:"credits_charged"`
	CreatedAt      time.Time      `json:"created_at"`
}

// GenerationJob tracks an async generation request through the worker.
type GenerationJob struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Status       JobStatus  `json:"status"`
	ClipCount    int        `json:"clip_count"`
	Prompt       string     `json:"prompt"`
	VideoURL     *string    `json:"video_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// API request/response types

type GenerateRequest struct {
	Prompt         string   `json:"prompt,omitempty"`
	ScriptSections []string `json:"scriptSections,omitempty"`
	AspectRatio    string   `json:"aspectRatio,omitempty"` // Default: "16:9"
	Duration       int      `json:"duration,omitempty"`    // Target total seconds
	SourceImage    string   `json:"sourceImage,omitempty"` // data-URI or URL (image-to-video)
	InputType      string   `json:"inputType,omitempty"`   // text-to-video | image-to-video
	WithAudio      bool     `json:"withAudio,omitempty"`
	CustomAudioURL string   `json:"customAudioUrl,omitempty"`
	AutoScript     bool     `json:"autoScript,omitempty"` // Split the prompt into per-clip sections via the planner
	Async          bool     `json:"async,omitempty"`      // Enqueue instead of generating in-request
}

type GenerateResponse struct {
	OperationNames []string `json:"operationNames"`
	ClipCount      int      `json:"clipCount"`
	VideoURLs      []string `json:"videoUrls,omitempty"`
	AllComplete    bool     `json:"allComplete,omitempty"`
	CreditsCharged int      `json:"creditsCharged,omitempty"`
}

type EnqueueResponse struct {
	JobID     uuid.UUID `json:"jobId"`
	ClipCount int       `json:"clipCount"`
	Status    JobStatus `json:"status"`
}

type StatusRequest struct {
	OperationName  string   `json:"operationName,omitempty"`
	OperationNames []string `json:"operationNames,omitempty"`
}

// OperationStatus is the per-operation slice of a status response.
type OperationStatus struct {
	OperationName string  `json:"operationName"`
	Done          bool    `json:"done"`
	VideoURL      *string `json:"videoUrl,omitempty"`
	Error         *string `json:"error,omitempty"`
}

type StatusResponse struct {
	Status     string            `json:"status"` // processing | complete | failed
	Operations []OperationStatus `json:"operations"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	Total      int               `json:"total"`
}

type CombineRequest struct {
	VideoURLs      []string `json:"videoUrls"`
	CustomAudioURL string   `json:"customAudioUrl,omitempty"`
	ClipDuration   float64  `json:"clipDuration,omitempty"` // Seconds per clip, default 8
}

type CombineResponse struct {
	VideoURL      string     `json:"videoUrl"`
	NumVideos     int        `json:"numVideos"`
	TotalDuration float64    `json:"totalDuration"`
	Transition    Transition `json:"transition"`
}

// AggregateStatus folds per-operation results into the overall
// processing|complete|failed status with partial-failure accounting.
func AggregateStatus(ops []OperationStatus) StatusResponse {
	resp := StatusResponse{Operations: ops, Total: len(ops)}
	for _, op := range ops {
		if !op.Done {
			continue
		}
		if op.Error != nil {
			resp.Failed++
		} else {
			resp.Completed++
		}
	}
	switch {
	case resp.Completed+resp.Failed < resp.Total:
		resp.Status = "processing"
	case resp.Failed == 0:
		resp.Status = "complete"
	default:
		resp.Status = "failed"
	}
	return resp
}
