package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipsmith/clipsmith/internal/db"
	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/services"
	"github.com/clipsmith/clipsmith/internal/storage"
)

// The engine talks to its collaborators through narrow interfaces so the
// pipeline can be exercised against fakes. Production wiring passes the
// concrete services via New.

// Charge is an open credit reservation. Commit finalizes the decrement and
// writes the history row; Release rolls back a reservation that was never
// committed.
type Charge interface {
	Commit(ctx context.Context, meta db.TransactionMeta) error
	Release()
}

// Store is the slice of the database the engine touches: the credit gate
// and the generation history.
type Store interface {
	CheckCredits(ctx context.Context, userID uuid.UUID, required int) error
	ReserveCredits(ctx context.Context, userID uuid.UUID, credits int) (Charge, error)
	CreateGeneration(ctx context.Context, gen *models.Generation) error
}

// VideoGenerator submits and polls clip generation operations.
type VideoGenerator interface {
	pipeline.Generator
	CheckOperation(ctx context.Context, operationName string) (models.OperationStatus, error)
	Model() string
}

// Stitcher covers the local video work: frame extraction for chaining,
// the crossfade stitch, audio muxing, and duration probing.
type Stitcher interface {
	pipeline.FrameExtractor
	Stitch(ctx context.Context, clipPaths []string, clipDuration, overlapSeconds float64, outputPath string) (*services.StitchResult, error)
	ReplaceAudioTrack(ctx context.Context, videoPath, audioPath, outputPath string) error
	VideoDuration(ctx context.Context, videoPath string) (float64, error)
}

// Fetcher pulls remote clips and images down, to file or into memory.
type Fetcher interface {
	pipeline.Downloader
	Download(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore uploads finished videos and mints their public URLs.
type ObjectStore interface {
	UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error
	GetPublicURL(path string) string
	GenerateStoragePath(sessionID uuid.UUID, filename string) string
}

// PromptSplitter breaks one prompt into per-clip script sections.
type PromptSplitter interface {
	SplitPrompt(ctx context.Context, prompt string, clipCount int) ([]string, error)
}

// Engine runs the generation-and-stitching pipeline end to end: clip plan,
// sequential chain, crossfade stitch, storage upload, and the credit charge.
// Both the synchronous handlers and the async worker drive it.
type Engine struct {
	store    Store
	veo      VideoGenerator
	planner  PromptSplitter // nil when no OpenAI key is configured
	ffmpeg   Stitcher
	download Fetcher
	storage  ObjectStore
	opts     Options
}

type Options struct {
	TempDir          string
	MaxClipSeconds   int
	InterClipDelay   time.Duration
	CrossfadeSeconds float64
	CreditsPerClip   int
}

func New(database *db.DB, veo *services.VeoService, planner *services.PlannerService,
	ffmpeg *services.FFmpegService, download *services.DownloadService,
	stor *storage.Storage, opts Options) *Engine {

	if opts.MaxClipSeconds <= 0 {
		opts.MaxClipSeconds = 8
	}
	if opts.CrossfadeSeconds <= 0 {
		opts.CrossfadeSeconds = 1.5
	}
	if opts.CreditsPerClip <= 0 {
		opts.CreditsPerClip = 10
	}

	// A nil *PlannerService must stay a nil interface, not a typed nil.
	var splitter PromptSplitter
	if planner != nil {
		splitter = planner
	}

	return &Engine{
		store:    dbStore{database},
		veo:      veo,
		planner:  splitter,
		ffmpeg:   ffmpeg,
		download: download,
		storage:  stor,
		opts:     opts,
	}
}

// dbStore adapts *db.DB to Store: ReserveCredits returns a concrete
// *db.Reservation, which satisfies Charge.
type dbStore struct {
	*db.DB
}

func (s dbStore) ReserveCredits(ctx context.Context, userID uuid.UUID, credits int) (Charge, error) {
	res, err := s.DB.ReserveCredits(ctx, userID, credits)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BuildPlan expands the request into the ordered clip plan. With autoScript
// and a configured planner, the single prompt is split into per-clip script
// sections; planner failures fall back to prompt replication.
func (e *Engine) BuildPlan(ctx context.Context, req models.GenerateRequest) ([]pipeline.ClipSpec, error) {
	sections := req.ScriptSections

	if len(sections) == 0 && req.AutoScript && e.planner != nil {
		clipCount := pipeline.ClipCount(req.Duration, e.opts.MaxClipSeconds)
		if clipCount > 1 {
			split, err := e.planner.SplitPrompt(ctx, req.Prompt, clipCount)
			if err != nil {
				log.Printf("[Engine] Script planner failed, replicating prompt: %v", err)
			} else {
				sections = split
			}
		}
	}

	return pipeline.BuildClipPlan(req.Prompt, sections, req.Duration, e.opts.MaxClipSeconds)
}

// ResolvePlan builds the clip plan once and pins the resolved per-clip
// prompts on the request, so a queued copy of the request replays the same
// plan without invoking the script planner a second time.
func (e *Engine) ResolvePlan(ctx context.Context, req *models.GenerateRequest) ([]pipeline.ClipSpec, error) {
	plan, err := e.BuildPlan(ctx, *req)
	if err != nil {
		return nil, err
	}

	if len(req.ScriptSections) == 0 && len(plan) > 0 {
		sections := make([]string, len(plan))
		for i, clip := range plan {
			sections[i] = clip.Prompt
		}
		req.ScriptSections = sections
	}

	return plan, nil
}

// GenerateClips runs the synchronous clip chain for the generate endpoint.
// Credits are charged once, only after every clip completed.
func (e *Engine) GenerateClips(ctx context.Context, userID uuid.UUID, req models.GenerateRequest) (*models.GenerateResponse, error) {
	plan, err := e.BuildPlan(ctx, req)
	if err != nil {
		return nil, err
	}

	credits := len(plan) * e.opts.CreditsPerClip
	if err := e.store.CheckCredits(ctx, userID, credits); err != nil {
		return nil, err
	}

	ws, err := pipeline.NewWorkspace(e.opts.TempDir)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	jobs, err := e.runChain(ctx, ws, plan, req)
	if err != nil {
		return nil, err
	}

	operationNames := make([]string, len(jobs))
	videoURLs := make([]string, len(jobs))
	for i, job := range jobs {
		operationNames[i] = job.OperationName
		videoURLs[i] = job.VideoURL
	}

	if err := e.charge(ctx, userID, credits, fmt.Sprintf("Generated %d video clip(s) (%s)", len(jobs), e.veo.Model())); err != nil {
		return nil, err
	}

	// No stitch happened on this path: every clip URL is recorded and
	// VideoURL stays empty.
	gen := &models.Generation{
		ID:             uuid.New(),
		UserID:         userID,
		Prompt:         firstPrompt(req, plan),
		Model:          e.veo.Model(),
		ClipCount:      len(jobs),
		ClipURLs:       videoURLs,
		Stitched:       false,
		DurationSec:    float64(len(plan) * e.opts.MaxClipSeconds),
		CreditsCharged: credits,
	}
	if err := e.store.CreateGeneration(ctx, gen); err != nil {
		log.Printf("[Engine] Failed to record generation: %v", err)
	}

	return &models.GenerateResponse{
		OperationNames: operationNames,
		ClipCount:      len(jobs),
		VideoURLs:      videoURLs,
		AllComplete:    true,
		CreditsCharged: credits,
	}, nil
}

// RunJob is the async path: chain, stitch, upload, charge, record. Returns
// the public URL of the stitched video.
func (e *Engine) RunJob(ctx context.Context, userID uuid.UUID, req models.GenerateRequest) (string, error) {
	plan, err := e.BuildPlan(ctx, req)
	if err != nil {
		return "", err
	}

	credits := len(plan) * e.opts.CreditsPerClip
	if err := e.store.CheckCredits(ctx, userID, credits); err != nil {
		return "", err
	}

	ws, err := pipeline.NewWorkspace(e.opts.TempDir)
	if err != nil {
		return "", err
	}
	defer ws.Cleanup()

	jobs, err := e.runChain(ctx, ws, plan, req)
	if err != nil {
		return "", err
	}

	clipPaths := make([]string, len(jobs))
	for i, job := range jobs {
		clipPaths[i] = job.LocalPath
	}

	finalPath, _, duration, err := e.stitchLocal(ctx, ws, clipPaths, float64(e.opts.MaxClipSeconds), req.CustomAudioURL)
	if err != nil {
		return "", err
	}

	storagePath := e.storage.GenerateStoragePath(uuid.MustParse(ws.SessionID), "final.mp4")
	if err := e.storage.UploadFile(ctx, storagePath, finalPath, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to upload stitched video: %w", err)
	}
	publicURL := e.storage.GetPublicURL(storagePath)

	if err := e.charge(ctx, userID, credits, fmt.Sprintf("Generated and stitched %d-clip video (%s)", len(jobs), e.veo.Model())); err != nil {
		return "", err
	}

	clipURLs := make([]string, len(jobs))
	for i, job := range jobs {
		clipURLs[i] = job.VideoURL
	}

	gen := &models.Generation{
		ID:             uuid.New(),
		UserID:         userID,
		Prompt:         firstPrompt(req, plan),
		Model:          e.veo.Model(),
		ClipCount:      len(jobs),
		ClipURLs:       clipURLs,
		Stitched:       true,
		DurationSec:    duration,
		VideoURL:       publicURL,
		CreditsCharged: credits,
	}
	if err := e.store.CreateGeneration(ctx, gen); err != nil {
		log.Printf("[Engine] Failed to record generation: %v", err)
	}

	return publicURL, nil
}

// Combine downloads already-complete clips and stitches them into one video.
// No credits are charged: they were paid when the clips were generated.
func (e *Engine) Combine(ctx context.Context, userID uuid.UUID, req models.CombineRequest) (*models.CombineResponse, error) {
	if len(req.VideoURLs) == 0 {
		return nil, pipeline.Validationf("videoUrls is required")
	}

	clipDuration := req.ClipDuration
	if clipDuration <= 0 {
		clipDuration = float64(e.opts.MaxClipSeconds)
	}

	// Single clip: nothing to stitch, hand the URL back untouched.
	if len(req.VideoURLs) == 1 {
		return &models.CombineResponse{
			VideoURL:      req.VideoURLs[0],
			NumVideos:     1,
			TotalDuration: clipDuration,
			Transition:    models.TransitionNone,
		}, nil
	}

	ws, err := pipeline.NewWorkspace(e.opts.TempDir)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	clipPaths := make([]string, len(req.VideoURLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range req.VideoURLs {
		i, url := i, url
		clipPaths[i] = ws.Path(fmt.Sprintf("clip_%d.mp4", i))
		g.Go(func() error {
			return e.download.DownloadToFile(gctx, url, clipPaths[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to download clips: %w", err)
	}

	finalPath, transition, duration, err := e.stitchLocal(ctx, ws, clipPaths, clipDuration, req.CustomAudioURL)
	if err != nil {
		return nil, err
	}

	storagePath := e.storage.GenerateStoragePath(uuid.MustParse(ws.SessionID), "combined.mp4")
	if err := e.storage.UploadFile(ctx, storagePath, finalPath, "video/mp4"); err != nil {
		return nil, fmt.Errorf("failed to upload combined video: %w", err)
	}

	return &models.CombineResponse{
		VideoURL:      e.storage.GetPublicURL(storagePath),
		NumVideos:     len(req.VideoURLs),
		TotalDuration: duration,
		Transition:    transition,
	}, nil
}

// CheckStatus fetches each operation once and aggregates the results.
func (e *Engine) CheckStatus(ctx context.Context, operationNames []string) (*models.StatusResponse, error) {
	ops := make([]models.OperationStatus, len(operationNames))
	for i, name := range operationNames {
		status, err := e.veo.CheckOperation(ctx, name)
		if err != nil {
			return nil, err
		}
		ops[i] = status
	}
	resp := models.AggregateStatus(ops)
	return &resp, nil
}

// runChain resolves the conditioning image and drives the orchestrator.
func (e *Engine) runChain(ctx context.Context, ws *pipeline.Workspace, plan []pipeline.ClipSpec, req models.GenerateRequest) ([]pipeline.ClipJob, error) {
	var firstFrame []byte
	var firstFrameMIME string

	if models.InputType(req.InputType) == models.InputImageToVideo {
		if req.SourceImage == "" {
			return nil, pipeline.Validationf("sourceImage is required for image-to-video")
		}
		var err error
		firstFrame, firstFrameMIME, err = e.resolveSourceImage(ctx, req.SourceImage)
		if err != nil {
			return nil, err
		}
	}

	// Clips are generated silent when an external audio track will be muxed
	// in afterwards; otherwise the model's generated audio is kept.
	generateAudio := req.WithAudio && req.CustomAudioURL == ""

	orch := pipeline.NewOrchestrator(e.veo, e.ffmpeg, e.download)
	return orch.Run(ctx, ws, plan, pipeline.ChainOptions{
		AspectRatio:    req.AspectRatio,
		GenerateAudio:  generateAudio,
		FirstFrame:     firstFrame,
		FirstFrameMIME: firstFrameMIME,
		InterClipDelay: e.opts.InterClipDelay,
	})
}

// stitchLocal stitches downloaded clips and muxes the custom audio track
// over the result when one was supplied.
func (e *Engine) stitchLocal(ctx context.Context, ws *pipeline.Workspace, clipPaths []string, clipDuration float64, customAudioURL string) (string, models.Transition, float64, error) {
	outputPath := ws.Path("stitched.mp4")
	transition := models.TransitionNone
	duration := clipDuration

	if len(clipPaths) == 1 {
		outputPath = clipPaths[0]
	} else {
		result, err := e.ffmpeg.Stitch(ctx, clipPaths, clipDuration, e.opts.CrossfadeSeconds, outputPath)
		if err != nil {
			return "", "", 0, err
		}
		transition = result.Transition
		duration = services.StitchedDuration(len(clipPaths), clipDuration, e.opts.CrossfadeSeconds)
		if transition == models.TransitionConcat {
			duration = float64(len(clipPaths)) * clipDuration
		}
	}

	if customAudioURL != "" {
		audioPath := ws.Path("custom_audio")
		if err := e.download.DownloadToFile(ctx, customAudioURL, audioPath); err != nil {
			return "", "", 0, fmt.Errorf("failed to download custom audio: %w", err)
		}
		muxedPath := ws.Path("stitched_audio.mp4")
		if err := e.ffmpeg.ReplaceAudioTrack(ctx, outputPath, audioPath, muxedPath); err != nil {
			return "", "", 0, err
		}
		outputPath = muxedPath
	}

	// Prefer the measured duration when ffprobe is available.
	if measured, err := e.ffmpeg.VideoDuration(ctx, outputPath); err == nil && measured > 0 {
		duration = measured
	}

	return outputPath, transition, duration, nil
}

// charge reserves and commits the credit decrement plus its history row.
func (e *Engine) charge(ctx context.Context, userID uuid.UUID, credits int, description string) error {
	reservation, err := e.store.ReserveCredits(ctx, userID, credits)
	if err != nil {
		return err
	}
	defer reservation.Release()

	return reservation.Commit(ctx, db.TransactionMeta{
		ActionType:  "video_generation",
		Description: description,
	})
}

// resolveSourceImage accepts a data URI or a plain URL.
func (e *Engine) resolveSourceImage(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "data:") {
		rest := strings.TrimPrefix(source, "data:")
		semi := strings.Index(rest, ";base64,")
		if semi < 0 {
			return nil, "", pipeline.Validationf("sourceImage data URI must be base64-encoded")
		}
		mime := rest[:semi]
		payload := rest[semi+len(";base64,"):]
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", pipeline.Validationf("sourceImage data URI is not valid base64")
		}
		return data, mime, nil
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err := e.download.Download(ctx, source)
		if err != nil {
			return nil, "", fmt.Errorf("failed to download source image: %w", err)
		}
		return data, http.DetectContentType(data), nil
	}

	return nil, "", pipeline.Validationf("sourceImage must be a data URI or URL")
}

func firstPrompt(req models.GenerateRequest, plan []pipeline.ClipSpec) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	if len(plan) > 0 {
		return plan[0].Prompt
	}
	return ""
}
