package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/clipsmith/clipsmith/internal/db"
	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/services"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	balance     int
	reserves    int
	commits     int
	releases    int
	history     []db.TransactionMeta
	generations []models.Generation
}

func (s *fakeStore) CheckCredits(ctx context.Context, userID uuid.UUID, required int) error {
	if s.balance < required {
		return pipeline.ErrInsufficientCredits
	}
	return nil
}

func (s *fakeStore) ReserveCredits(ctx context.Context, userID uuid.UUID, credits int) (Charge, error) {
	if s.balance < credits {
		return nil, pipeline.ErrInsufficientCredits
	}
	s.reserves++
	return &fakeCharge{store: s, credits: credits}, nil
}

func (s *fakeStore) CreateGeneration(ctx context.Context, gen *models.Generation) error {
	s.generations = append(s.generations, *gen)
	return nil
}

type fakeCharge struct {
	store   *fakeStore
	credits int
	done    bool
}

func (c *fakeCharge) Commit(ctx context.Context, meta db.TransactionMeta) error {
	if c.done {
		return fmt.Errorf("charge already finalized")
	}
	c.done = true
	c.store.balance -= c.credits
	c.store.commits++
	c.store.history = append(c.store.history, meta)
	return nil
}

func (c *fakeCharge) Release() {
	if c.done {
		return
	}
	c.done = true
	c.store.releases++
}

type fakeGenerator struct {
	submits      int
	failAtSubmit int // 1-based; 0 means never fail
}

func (g *fakeGenerator) Submit(ctx context.Context, cond pipeline.Conditioning, durationSeconds int, aspectRatio string, generateAudio bool) (string, error) {
	g.submits++
	if g.failAtSubmit > 0 && g.submits == g.failAtSubmit {
		return "", &pipeline.GenerationError{Message: "model rejected the request"}
	}
	return fmt.Sprintf("operations/test-%d", g.submits), nil
}

func (g *fakeGenerator) Await(ctx context.Context, operationName string) (string, error) {
	return "https://videos.example/" + operationName + ".mp4", nil
}

func (g *fakeGenerator) CheckOperation(ctx context.Context, operationName string) (models.OperationStatus, error) {
	return models.OperationStatus{OperationName: operationName, Done: true}, nil
}

func (g *fakeGenerator) Model() string { return "veo-test" }

type fakeStitcher struct {
	stitches int
}

func (f *fakeStitcher) ExtractLastFrame(ctx context.Context, videoPath string) ([]byte, string, error) {
	return []byte{0xFF, 0xD8}, "image/jpeg", nil
}

func (f *fakeStitcher) Stitch(ctx context.Context, clipPaths []string, clipDuration, overlapSeconds float64, outputPath string) (*services.StitchResult, error) {
	f.stitches++
	if err := os.WriteFile(outputPath, []byte("stitched"), 0644); err != nil {
		return nil, err
	}
	return &services.StitchResult{OutputPath: outputPath, Transition: models.TransitionCrossfade}, nil
}

func (f *fakeStitcher) ReplaceAudioTrack(ctx context.Context, videoPath, audioPath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("muxed"), 0644)
}

func (f *fakeStitcher) VideoDuration(ctx context.Context, videoPath string) (float64, error) {
	return 0, errors.New("probe unavailable")
}

type fakeFetcher struct {
	downloads int
}

func (f *fakeFetcher) DownloadToFile(ctx context.Context, url, destPath string) error {
	f.downloads++
	return os.WriteFile(destPath, []byte(url), 0644)
}

func (f *fakeFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	return []byte(url), nil
}

type fakeObjectStore struct {
	uploads []string
}

func (f *fakeObjectStore) UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error {
	f.uploads = append(f.uploads, storagePath)
	return nil
}

func (f *fakeObjectStore) GetPublicURL(path string) string {
	return "https://cdn.example/" + path
}

func (f *fakeObjectStore) GenerateStoragePath(sessionID uuid.UUID, filename string) string {
	return sessionID.String() + "/" + filename
}

type fakeSplitter struct {
	calls int
}

func (f *fakeSplitter) SplitPrompt(ctx context.Context, prompt string, clipCount int) ([]string, error) {
	f.calls++
	sections := make([]string, clipCount)
	for i := range sections {
		sections[i] = fmt.Sprintf("%s, scene %d", prompt, i+1)
	}
	return sections, nil
}

func testEngine(t *testing.T, store *fakeStore) (*Engine, *fakeGenerator, *fakeStitcher, *fakeStore) {
	t.Helper()
	gen := &fakeGenerator{}
	stitcher := &fakeStitcher{}
	eng := &Engine{
		store:    store,
		veo:      gen,
		ffmpeg:   stitcher,
		download: &fakeFetcher{},
		storage:  &fakeObjectStore{},
		opts: Options{
			TempDir:          t.TempDir(),
			MaxClipSeconds:   8,
			CrossfadeSeconds: 1.5,
			CreditsPerClip:   10,
		},
	}
	return eng, gen, stitcher, store
}

// ---------------------------------------------------------------------------
// Credit-gate behavior
// ---------------------------------------------------------------------------

func TestGenerateClipsInsufficientCredits(t *testing.T) {
	eng, gen, _, store := testEngine(t, &fakeStore{balance: 5})
	userID := uuid.New()

	// 24s at 8s per clip is 3 clips, 30 credits against a balance of 5.
	_, err := eng.GenerateClips(context.Background(), userID, models.GenerateRequest{
		Prompt:   "a storm rolling in over the bay",
		Duration: 24,
	})
	if !errors.Is(err, pipeline.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}

	if gen.submits != 0 {
		t.Errorf("submits = %d, want 0: generation must not start without credits", gen.submits)
	}
	if store.reserves != 0 {
		t.Errorf("reserves = %d, want 0", store.reserves)
	}
	if store.balance != 5 {
		t.Errorf("balance = %d, want 5 (unchanged)", store.balance)
	}
	if len(store.generations) != 0 {
		t.Errorf("generation rows = %d, want 0", len(store.generations))
	}
}

func TestGenerateClipsChargesExactlyOnce(t *testing.T) {
	eng, gen, _, store := testEngine(t, &fakeStore{balance: 100})
	userID := uuid.New()

	resp, err := eng.GenerateClips(context.Background(), userID, models.GenerateRequest{
		Prompt:   "a storm rolling in over the bay",
		Duration: 24,
	})
	if err != nil {
		t.Fatalf("GenerateClips: %v", err)
	}

	if resp.ClipCount != 3 {
		t.Errorf("clipCount = %d, want 3", resp.ClipCount)
	}
	if resp.CreditsCharged != 30 {
		t.Errorf("creditsCharged = %d, want 30", resp.CreditsCharged)
	}
	if gen.submits != 3 {
		t.Errorf("submits = %d, want 3", gen.submits)
	}

	if store.reserves != 1 || store.commits != 1 {
		t.Errorf("reserves/commits = %d/%d, want 1/1", store.reserves, store.commits)
	}
	if store.releases != 0 {
		t.Errorf("releases = %d, want 0 after a committed charge", store.releases)
	}
	if store.balance != 70 {
		t.Errorf("balance = %d, want 70", store.balance)
	}
	if len(store.history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(store.history))
	}
	if store.history[0].ActionType != "video_generation" {
		t.Errorf("actionType = %q", store.history[0].ActionType)
	}
}

func TestGenerateClipsFailedChainChargesNothing(t *testing.T) {
	eng, gen, _, store := testEngine(t, &fakeStore{balance: 100})
	gen.failAtSubmit = 2

	_, err := eng.GenerateClips(context.Background(), uuid.New(), models.GenerateRequest{
		Prompt:   "a storm rolling in over the bay",
		Duration: 24,
	})
	if err == nil {
		t.Fatal("expected chain failure")
	}

	if store.reserves != 0 {
		t.Errorf("reserves = %d, want 0 after chain failure", store.reserves)
	}
	if store.balance != 100 {
		t.Errorf("balance = %d, want 100 (unchanged)", store.balance)
	}
	if len(store.generations) != 0 {
		t.Errorf("generation rows = %d, want 0", len(store.generations))
	}
}

// ---------------------------------------------------------------------------
// History rows
// ---------------------------------------------------------------------------

func TestGenerateClipsRecordsUnstitchedRow(t *testing.T) {
	eng, _, _, store := testEngine(t, &fakeStore{balance: 100})

	resp, err := eng.GenerateClips(context.Background(), uuid.New(), models.GenerateRequest{
		Prompt:   "a storm rolling in over the bay",
		Duration: 16,
	})
	if err != nil {
		t.Fatalf("GenerateClips: %v", err)
	}

	if len(store.generations) != 1 {
		t.Fatalf("generation rows = %d, want 1", len(store.generations))
	}
	row := store.generations[0]
	if row.Stitched {
		t.Error("row marked stitched: this path never stitches")
	}
	if row.VideoURL != "" {
		t.Errorf("videoURL = %q, want empty without a stitched file", row.VideoURL)
	}
	if len(row.ClipURLs) != 2 {
		t.Fatalf("clipURLs = %d entries, want 2", len(row.ClipURLs))
	}
	for i, url := range row.ClipURLs {
		if url != resp.VideoURLs[i] {
			t.Errorf("clipURLs[%d] = %q, want %q", i, url, resp.VideoURLs[i])
		}
	}
}

func TestRunJobStitchesAndRecords(t *testing.T) {
	eng, _, stitcher, store := testEngine(t, &fakeStore{balance: 100})
	userID := uuid.New()

	publicURL, err := eng.RunJob(context.Background(), userID, models.GenerateRequest{
		Prompt:   "a storm rolling in over the bay",
		Duration: 16,
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	if stitcher.stitches != 1 {
		t.Errorf("stitches = %d, want 1", stitcher.stitches)
	}
	if !strings.HasPrefix(publicURL, "https://cdn.example/") || !strings.HasSuffix(publicURL, "/final.mp4") {
		t.Errorf("publicURL = %q", publicURL)
	}

	if store.reserves != 1 || store.commits != 1 {
		t.Errorf("reserves/commits = %d/%d, want 1/1", store.reserves, store.commits)
	}
	if store.balance != 80 {
		t.Errorf("balance = %d, want 80", store.balance)
	}

	if len(store.generations) != 1 {
		t.Fatalf("generation rows = %d, want 1", len(store.generations))
	}
	row := store.generations[0]
	if !row.Stitched {
		t.Error("row not marked stitched")
	}
	if row.VideoURL != publicURL {
		t.Errorf("videoURL = %q, want %q", row.VideoURL, publicURL)
	}
	if len(row.ClipURLs) != 2 {
		t.Errorf("clipURLs = %d entries, want 2", len(row.ClipURLs))
	}
	// 2 clips of 8s with a 1.5s crossfade.
	if row.DurationSec != 14.5 {
		t.Errorf("durationSec = %v, want 14.5", row.DurationSec)
	}
}

// ---------------------------------------------------------------------------
// Plan resolution
// ---------------------------------------------------------------------------

func TestResolvePlanRunsPlannerOnce(t *testing.T) {
	eng, _, _, _ := testEngine(t, &fakeStore{balance: 100})
	splitter := &fakeSplitter{}
	eng.planner = splitter

	req := models.GenerateRequest{
		Prompt:     "a storm rolling in over the bay",
		Duration:   24,
		AutoScript: true,
	}

	plan, err := eng.ResolvePlan(context.Background(), &req)
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("plan = %d clips, want 3", len(plan))
	}
	if splitter.calls != 1 {
		t.Fatalf("planner calls = %d, want 1", splitter.calls)
	}
	if len(req.ScriptSections) != 3 {
		t.Fatalf("scriptSections = %d, want 3 pinned on the request", len(req.ScriptSections))
	}

	// A queued copy of the resolved request replays the same plan without
	// touching the planner again.
	replayed, err := eng.BuildPlan(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildPlan on resolved request: %v", err)
	}
	if splitter.calls != 1 {
		t.Errorf("planner calls = %d after replay, want still 1", splitter.calls)
	}
	if len(replayed) != len(plan) {
		t.Fatalf("replayed plan = %d clips, want %d", len(replayed), len(plan))
	}
	for i := range plan {
		if replayed[i].Prompt != plan[i].Prompt {
			t.Errorf("clip %d prompt = %q, want %q", i, replayed[i].Prompt, plan[i].Prompt)
		}
	}
}
