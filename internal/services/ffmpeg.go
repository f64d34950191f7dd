package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
)

// ---------------------------------------------------------------------------
// FFmpegService
// Frame extraction and clip stitching via the ffmpeg/ffprobe binaries.
// All intermediate files live in the caller's workspace directory.
// ---------------------------------------------------------------------------

const (
	// Seek offset before end-of-file for last-frame extraction. Seeking to
	// the literal last frame trips decoder edge cases on some encoders, so
	// we grab a frame a quarter second early.
	lastFrameSeekOffset = "-0.25"

	// defaultOverlapSeconds is the crossfade window between adjacent clips.
	defaultOverlapSeconds = 1.5
)

type FFmpegService struct{}

func NewFFmpegService() *FFmpegService {
	return &FFmpegService{}
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ExtractLastFrame decodes one frame near the end of the clip into a JPEG
// and returns its bytes. The intermediate image file is removed regardless
// of outcome.
func (s *FFmpegService) ExtractLastFrame(ctx context.Context, videoPath string) ([]byte, string, error) {
	framePath := videoPath + ".lastframe.jpg"
	defer os.Remove(framePath)

	args := []string{
		"-sseof", lastFrameSeekOffset,
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		framePath,
	}

	if err := runFFmpeg(ctx, args); err != nil {
		return nil, "", &pipeline.ExtractionError{Err: fmt.Errorf("ffmpeg exited: %w", err)}
	}

	frame, err := os.ReadFile(framePath)
	if err != nil {
		return nil, "", &pipeline.ExtractionError{Err: fmt.Errorf("no output frame: %w", err)}
	}

	return frame, "image/jpeg", nil
}

// StitchResult reports the path of the combined video and which transition
// tier actually produced it.
type StitchResult struct {
	OutputPath string
	Transition models.Transition
}

// Stitch combines 2+ clips of fixed duration into one video, cross-fading
// each adjacent pair over overlapSeconds. Audio tracks are cross-faded too
// when every clip carries one; silent clips get a video-only graph.
//
// Fallback ladder: dissolve graph → plain fade graph → (5+ clips only) naive
// concatenation. Failures below the last rung surface as StitchError.
func (s *FFmpegService) Stitch(ctx context.Context, clipPaths []string, clipDuration, overlapSeconds float64, outputPath string) (*StitchResult, error) {
	if len(clipPaths) < 2 {
		return nil, pipeline.Validationf("stitching requires at least 2 clips, got %d", len(clipPaths))
	}
	if overlapSeconds <= 0 {
		overlapSeconds = defaultOverlapSeconds
	}

	// Clips arrive silent when generated without audio, and the transition
	// graph must not reference audio streams the inputs do not carry.
	withAudio := s.clipsHaveAudio(ctx, clipPaths)

	log.Printf("[FFmpeg] Stitching %d clips (clipDuration=%.1fs, overlap=%.1fs, audio=%v)", len(clipPaths), clipDuration, overlapSeconds, withAudio)

	if err := runFFmpeg(ctx, crossfadeArgs(clipPaths, clipDuration, overlapSeconds, "dissolve", outputPath, withAudio)); err == nil {
		return &StitchResult{OutputPath: outputPath, Transition: models.TransitionCrossfade}, nil
	} else {
		log.Printf("[FFmpeg] Dissolve transition graph failed, retrying with plain fade: %v", err)
	}

	if err := runFFmpeg(ctx, crossfadeArgs(clipPaths, clipDuration, overlapSeconds, "fade", outputPath, withAudio)); err == nil {
		return &StitchResult{OutputPath: outputPath, Transition: models.TransitionFade}, nil
	} else if len(clipPaths) < 5 {
		return nil, &pipeline.StitchError{Err: fmt.Errorf("transition graph failed for %d clips: %w", len(clipPaths), err)}
	} else {
		log.Printf("[FFmpeg] Fade transition graph failed for %d clips, falling back to concatenation: %v", len(clipPaths), err)
	}

	if err := s.ConcatenateClips(ctx, clipPaths, outputPath); err != nil {
		return nil, &pipeline.StitchError{Err: err}
	}
	return &StitchResult{OutputPath: outputPath, Transition: models.TransitionConcat}, nil
}

// crossfadeArgs builds the full ffmpeg invocation for an N-clip transition
// chain. One general algorithm parameterized by clip count — N=2 and N=3 are
// just small instances of it. Silent inputs get a video-only graph.
func crossfadeArgs(clipPaths []string, clipDuration, overlapSeconds float64, transition string, outputPath string, withAudio bool) []string {
	args := []string{}
	for _, path := range clipPaths {
		args = append(args, "-i", path)
	}

	filter := buildTransitionFilter(len(clipPaths), clipDuration, overlapSeconds, transition, withAudio)
	n := len(clipPaths)

	args = append(args,
		"-filter_complex", filter,
		"-map", fmt.Sprintf("[vx%d]", n-1),
	)
	if withAudio {
		args = append(args,
			"-map", fmt.Sprintf("[ax%d]", n-1),
			"-c:a", "aac",
			"-b:a", "192k",
		)
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
	)
	args = append(args, qualityArgs(n)...)
	args = append(args, "-y", outputPath)
	return args
}

// buildTransitionFilter constructs the filter graph: a chain of xfade (video)
// and, when the inputs carry audio, acrossfade (audio) filters. Each merge
// consumes overlapSeconds of the running timeline, so the offset for pair k
// is k*(clipDuration-overlap) — computed cumulatively against the
// already-shortened timeline.
func buildTransitionFilter(clipCount int, clipDuration, overlapSeconds float64, transition string, withAudio bool) string {
	var parts []string

	offsets := crossfadeOffsets(clipCount, clipDuration, overlapSeconds)

	lastVideo := "0:v"
	lastAudio := "0:a"
	for i := 1; i < clipCount; i++ {
		parts = append(parts, fmt.Sprintf("[%s][%d:v]xfade=transition=%s:duration=%.3f:offset=%.3f[vx%d]",
			lastVideo, i, transition, overlapSeconds, offsets[i-1], i))
		lastVideo = fmt.Sprintf("vx%d", i)

		if withAudio {
			parts = append(parts, fmt.Sprintf("[%s][%d:a]acrossfade=d=%.3f:c1=exp:c2=exp[ax%d]",
				lastAudio, i, overlapSeconds, i))
			lastAudio = fmt.Sprintf("ax%d", i)
		}
	}

	return strings.Join(parts, ";")
}

// clipsHaveAudio reports whether every clip carries an audio stream. Mixed
// or audio-less inputs stitch video-only; a probe failure assumes audio so
// the graph degrades the same way it did before probing existed.
func (s *FFmpegService) clipsHaveAudio(ctx context.Context, clipPaths []string) bool {
	for _, path := range clipPaths {
		count, err := audioStreamCount(ctx, path)
		if err != nil {
			log.Printf("[FFmpeg] Audio probe failed for %s, assuming audio present: %v", filepath.Base(path), err)
			continue
		}
		if count == 0 {
			return false
		}
	}
	return true
}

// audioStreamCount returns the number of audio streams in a media file.
func audioStreamCount(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe audio probe failed: %w", err)
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}

// crossfadeOffsets returns the xfade offset for each adjacent pair. For pair
// k (1-based) the offset is k*(D-V): monotonically increasing, measured on
// the combined timeline after prior merges shortened it.
func crossfadeOffsets(clipCount int, clipDuration, overlapSeconds float64) []float64 {
	offsets := make([]float64, 0, clipCount-1)
	current := clipDuration - overlapSeconds
	for i := 1; i < clipCount; i++ {
		if current < 0 {
			current = 0
		}
		offsets = append(offsets, current)
		current += clipDuration - overlapSeconds
	}
	return offsets
}

// StitchedDuration is the output length for clipCount clips of clipDuration
// seconds overlapped by overlapSeconds: C*D - (C-1)*V.
func StitchedDuration(clipCount int, clipDuration, overlapSeconds float64) float64 {
	if clipCount < 1 {
		return 0
	}
	return float64(clipCount)*clipDuration - float64(clipCount-1)*overlapSeconds
}

// qualityArgs picks the encode tier by clip count: short chains get the slow
// high-quality preset, long chains trade bitrate for bounded render time.
func qualityArgs(clipCount int) []string {
	switch {
	case clipCount <= 3:
		return []string{"-preset", "slow", "-crf", "18"}
	case clipCount <= 6:
		return []string{"-preset", "medium", "-crf", "20"}
	default:
		return []string{"-preset", "veryfast", "-crf", "23"}
	}
}

// ConcatenateClips joins clips hard-cut with the concat demuxer, no
// re-encoding. Used as the final stitching fallback.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, path := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", path)
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	if err := runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// ReplaceAudioTrack muxes an external audio track over the stitched video,
// discarding whatever audio the video carried. The video stream is copied
// as-is; -shortest trims to the shorter stream.
func (s *FFmpegService) ReplaceAudioTrack(ctx context.Context, videoPath, audioPath, outputPath string) error {
	log.Printf("[FFmpeg] Muxing external audio track over %s", filepath.Base(videoPath))

	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		outputPath,
	}

	if err := runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg audio mux failed: %w", err)
	}

	return nil
}

// VideoDuration returns the duration of a video file in seconds using ffprobe.
func (s *FFmpegService) VideoDuration(ctx context.Context, videoPath string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe video duration failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse video duration: %w", err)
	}

	return durationSec, nil
}
