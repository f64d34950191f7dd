package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ClipStatus tracks one clip job through the chain.
type ClipStatus string

const (
	ClipStatusPending ClipStatus = "pending"
	ClipStatusPolling ClipStatus = "polling"
	ClipStatusDone    ClipStatus = "done"
	ClipStatusFailed  ClipStatus = "failed"
)

// Conditioning is the input for one clip submission: a prompt, optionally
// anchored to an image (the caller's for clip 0, the prior clip's extracted
// last frame for every clip after it).
type Conditioning struct {
	Prompt     string
	ImageBytes []byte
	ImageMIME  string
}

// Generator submits clip requests to the remote video model and waits for
// their operations to finish.
type Generator interface {
	Submit(ctx context.Context, cond Conditioning, durationSeconds int, aspectRatio string, generateAudio bool) (string, error)
	Await(ctx context.Context, operationName string) (string, error)
}

// FrameExtractor pulls the final frame out of a finished clip file.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoPath string) ([]byte, string, error)
}

// Downloader fetches a remote clip into the workspace.
type Downloader interface {
	DownloadToFile(ctx context.Context, url, destPath string) error
}

// ClipJob is the in-flight record for one clip in the chain. It lives only
// for the duration of the request: once its output has fed the next clip's
// conditioning and the stitcher, it is discarded.
type ClipJob struct {
	Index         int
	OperationName string
	ImageBytes    []byte
	ImageMIME     string
	VideoURL      string
	LocalPath     string
	Status        ClipStatus
}

// ChainOptions configure a whole clip chain run.
type ChainOptions struct {
	AspectRatio    string
	GenerateAudio  bool
	FirstFrame     []byte // Caller's conditioning image (image-to-video only)
	FirstFrameMIME string
	InterClipDelay time.Duration // Pause between submissions (burst-limit relief)
}

// Orchestrator drives the sequential clip chain:
//
//	GeneratingClip(i) → ExtractingFrame(i) → GeneratingClip(i+1) → ... → AllClipsDone
//
// Clip i+1 is always conditioned on clip i's extracted last frame, which is
// what gives visual continuity across clip boundaries — and why the chain is
// strictly sequential. Any clip failure aborts the rest of the chain.
type Orchestrator struct {
	gen      Generator
	frames   FrameExtractor
	download Downloader
}

func NewOrchestrator(gen Generator, frames FrameExtractor, download Downloader) *Orchestrator {
	return &Orchestrator{gen: gen, frames: frames, download: download}
}

// Run executes the chain for the given plan. On success every returned job
// has Status done, a remote VideoURL, and a downloaded LocalPath inside ws.
func (o *Orchestrator) Run(ctx context.Context, ws *Workspace, plan []ClipSpec, opts ChainOptions) ([]ClipJob, error) {
	if len(plan) == 0 {
		return nil, Validationf("empty clip plan")
	}

	jobs := make([]ClipJob, len(plan))
	for i := range plan {
		jobs[i] = ClipJob{Index: i, Status: ClipStatusPending}
	}

	// Clip 0 is conditioned on the caller's image when one was supplied.
	jobs[0].ImageBytes = opts.FirstFrame
	jobs[0].ImageMIME = opts.FirstFrameMIME

	for i := range plan {
		if i > 0 && opts.InterClipDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("clip chain cancelled: %w", ctx.Err())
			case <-time.After(opts.InterClipDelay):
			}
		}

		job := &jobs[i]
		cond := Conditioning{
			Prompt:     plan[i].Prompt,
			ImageBytes: job.ImageBytes,
			ImageMIME:  job.ImageMIME,
		}

		log.Printf("[Pipeline] clip %d/%d: submitting (imageConditioned=%v)", i+1, len(plan), len(cond.ImageBytes) > 0)

		opName, err := o.gen.Submit(ctx, cond, plan[i].DurationSeconds, opts.AspectRatio, opts.GenerateAudio)
		if err != nil {
			job.Status = ClipStatusFailed
			return nil, clipError(i, err)
		}
		job.OperationName = opName
		job.Status = ClipStatusPolling

		videoURL, err := o.gen.Await(ctx, opName)
		if err != nil {
			job.Status = ClipStatusFailed
			return nil, clipError(i, err)
		}
		job.VideoURL = videoURL

		localPath := ws.Path(fmt.Sprintf("clip_%d.mp4", i))
		if err := o.download.DownloadToFile(ctx, videoURL, localPath); err != nil {
			job.Status = ClipStatusFailed
			return nil, fmt.Errorf("clip %d download failed: %w", i, err)
		}
		job.LocalPath = localPath
		job.Status = ClipStatusDone

		// Hand the last frame forward as the next clip's conditioning image.
		if i < len(plan)-1 {
			frame, mime, err := o.frames.ExtractLastFrame(ctx, localPath)
			if err != nil {
				job.Status = ClipStatusFailed
				return nil, fmt.Errorf("clip %d: %w", i, err)
			}
			jobs[i+1].ImageBytes = frame
			jobs[i+1].ImageMIME = mime
		}

		log.Printf("[Pipeline] clip %d/%d: done (operation=%s)", i+1, len(plan), opName)
	}

	return jobs, nil
}

// clipError stamps the failing clip's index onto generation errors so the
// caller knows where the chain broke.
func clipError(index int, err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		genErr.ClipIndex = index
		return genErr
	}
	if errors.Is(err, ErrPollTimeout) {
		return fmt.Errorf("clip %d: %w", index, err)
	}
	if errors.Is(err, ErrConfiguration) {
		return err
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return fmt.Errorf("clip %d: %w", index, err)
}
