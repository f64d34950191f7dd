package models

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestAggregateStatusProcessing(t *testing.T) {
	resp := AggregateStatus([]OperationStatus{
		{OperationName: "op-0", Done: true, VideoURL: strPtr("https://host/0.mp4")},
		{OperationName: "op-1", Done: false},
	})

	if resp.Status != "processing" {
		t.Errorf("status = %q, want processing", resp.Status)
	}
	if resp.Completed != 1 || resp.Failed != 0 || resp.Total != 2 {
		t.Errorf("counts = %d/%d/%d, want 1/0/2", resp.Completed, resp.Failed, resp.Total)
	}
}

func TestAggregateStatusComplete(t *testing.T) {
	resp := AggregateStatus([]OperationStatus{
		{OperationName: "op-0", Done: true, VideoURL: strPtr("https://host/0.mp4")},
		{OperationName: "op-1", Done: true, VideoURL: strPtr("https://host/1.mp4")},
	})

	if resp.Status != "complete" {
		t.Errorf("status = %q, want complete", resp.Status)
	}
	if resp.Completed != 2 {
		t.Errorf("completed = %d, want 2", resp.Completed)
	}
}

func TestAggregateStatusPartialFailure(t *testing.T) {
	resp := AggregateStatus([]OperationStatus{
		{OperationName: "op-0", Done: true, VideoURL: strPtr("https://host/0.mp4")},
		{OperationName: "op-1", Done: true, Error: strPtr("generation failed")},
	})

	// One failure among finished operations fails the batch.
	if resp.Status != "failed" {
		t.Errorf("status = %q, want failed", resp.Status)
	}
	if resp.Completed != 1 || resp.Failed != 1 {
		t.Errorf("counts = %d completed, %d failed, want 1/1", resp.Completed, resp.Failed)
	}
}

func TestAggregateStatusEmpty(t *testing.T) {
	resp := AggregateStatus(nil)
	if resp.Status != "complete" {
		t.Errorf("empty batch status = %q, want complete", resp.Status)
	}
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
}

func TestGenerateRequestJSONFieldNames(t *testing.T) {
	raw := []byte(`{
		"prompt": "a fox in snow",
		"scriptSections": ["a", "b"],
		"aspectRatio": "9:16",
		"duration": 16,
		"inputType": "image-to-video",
		"withAudio": true,
		"customAudioUrl": "https://host/track.mp3",
		"autoScript": true,
		"async": true
	}`)

	var req GenerateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if req.Prompt != "a fox in snow" || len(req.ScriptSections) != 2 {
		t.Errorf("prompt/sections not decoded: %+v", req)
	}
	if req.AspectRatio != "9:16" || req.Duration != 16 {
		t.Errorf("aspectRatio/duration not decoded: %+v", req)
	}
	if InputType(req.InputType) != InputImageToVideo {
		t.Errorf("inputType = %q", req.InputType)
	}
	if !req.WithAudio || !req.AutoScript || !req.Async {
		t.Errorf("boolean flags not decoded: %+v", req)
	}
	if req.CustomAudioURL != "https://host/track.mp3" {
		t.Errorf("customAudioUrl = %q", req.CustomAudioURL)
	}
}

func TestJobStatusValues(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusSucceeded,
		JobStatusFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestTransitionValues(t *testing.T) {
	transitions := []Transition{
		TransitionCrossfade,
		TransitionFade,
		TransitionConcat,
		TransitionNone,
	}

	for _, tr := range transitions {
		if tr == "" {
			t.Errorf("empty transition found")
		}
	}
}
