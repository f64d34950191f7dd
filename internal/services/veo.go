package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
)

// ---------------------------------------------------------------------------
// Veo video generation client + operation poller.
// Uses the Google Gen AI SDK. Submission returns the operation name so the
// chain orchestrator and the status endpoint can both poll by name.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel     = "veo-3.0-generate-preview"
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 120 // 5s * 120 ≈ 10 minutes per clip

	// Consecutive network-level poll failures tolerated before giving up.
	maxPollFetchErrors = 3
)

type VeoService struct {
	apiKey       string
	model        string
	pollInterval time.Duration
	maxAttempts  int
}

func NewVeoService(apiKey, model string, pollInterval time.Duration, maxAttempts int) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &VeoService{
		apiKey:       apiKey,
		model:        model,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

func (s *VeoService) Model() string { return s.model }

func (s *VeoService) newClient(ctx context.Context) (*genai.Client, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", pipeline.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// Submit starts one clip generation and returns the operation name.
// The conditioning image (when present) is passed as the clip's first frame.
func (s *VeoService) Submit(ctx context.Context, cond pipeline.Conditioning, durationSeconds int, aspectRatio string, generateAudio bool) (string, error) {
	if cond.Prompt == "" && len(cond.ImageBytes) == 0 {
		return "", pipeline.Validationf("either a prompt or a conditioning image is required")
	}

	client, err := s.newClient(ctx)
	if err != nil {
		return "", err
	}

	var image *genai.Image
	if len(cond.ImageBytes) > 0 {
		image = &genai.Image{
			ImageBytes: cond.ImageBytes,
			MIMEType:   cond.ImageMIME,
		}
	}

	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspectRatio,
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
		DurationSeconds:  genai.Ptr(int32(durationSeconds)),
		GenerateAudio:    genai.Ptr(generateAudio),
	}

	log.Printf("[Veo] Submitting clip (model=%s, promptLen=%d, imageSize=%d bytes, duration=%ds, audio=%v)",
		s.model, len(cond.Prompt), len(cond.ImageBytes), durationSeconds, generateAudio)

	operation, err := client.Models.GenerateVideos(ctx, s.model, cond.Prompt, image, config)
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)
	return operation.Name, nil
}

// Await polls the named operation until it completes, fails permanently, or
// the attempt budget runs out. Returns the result video URL with the access
// key appended when the API requires one.
func (s *VeoService) Await(ctx context.Context, operationName string) (string, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return "", err
	}

	op := &genai.GenerateVideosOperation{Name: operationName}
	fetch := func(ctx context.Context) (*operationState, error) {
		next, err := client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, err
		}
		op = next
		return newOperationState(op), nil
	}

	state, err := awaitOperation(ctx, fetch, s.pollInterval, s.maxAttempts)
	if err != nil {
		return "", err
	}

	uri := extractVideoURI(state.response)
	if uri == "" {
		return "", &pipeline.GenerationError{Message: "no video URL in response"}
	}
	return ensureAccessKey(uri, s.apiKey), nil
}

// CheckOperation performs a single, non-blocking status fetch for the
// check-status endpoint.
func (s *VeoService) CheckOperation(ctx context.Context, operationName string) (models.OperationStatus, error) {
	status := models.OperationStatus{OperationName: operationName}

	client, err := s.newClient(ctx)
	if err != nil {
		return status, err
	}

	op, err := client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: operationName}, nil)
	if err != nil {
		return status, fmt.Errorf("failed to fetch operation %s: %w", operationName, err)
	}

	state := newOperationState(op)
	if !state.done {
		return status, nil
	}

	status.Done = true
	if opErr := state.permanentError(); opErr != nil {
		msg := opErr.Error()
		status.Error = &msg
		return status, nil
	}
	if state.hasError() {
		// Transient remote state: report as still processing.
		status.Done = false
		return status, nil
	}

	uri := extractVideoURI(state.response)
	if uri == "" {
		msg := "no video URL in response"
		status.Error = &msg
		return status, nil
	}
	uri = ensureAccessKey(uri, s.apiKey)
	status.VideoURL = &uri
	return status, nil
}

// ---------------------------------------------------------------------------
// Poll loop
// ---------------------------------------------------------------------------

// operationState is the poller's view of one fetched operation, decoupled
// from the SDK types so the loop is testable.
type operationState struct {
	done       bool
	errCode    int
	errStatus  string
	errMessage string
	response   map[string]interface{}
}

func newOperationState(op *genai.GenerateVideosOperation) *operationState {
	state := &operationState{done: op.Done}

	if len(op.Error) > 0 {
		if code, ok := op.Error["code"].(float64); ok {
			state.errCode = int(code)
		}
		if status, ok := op.Error["status"].(string); ok {
			state.errStatus = status
		}
		if msg, ok := op.Error["message"].(string); ok {
			state.errMessage = msg
		} else {
			raw, _ := json.Marshal(op.Error)
			state.errMessage = string(raw)
		}
	}

	if op.Response != nil {
		// Round-trip through JSON so result extraction can probe the
		// response shape generically regardless of SDK version.
		raw, err := json.Marshal(op.Response)
		if err == nil {
			_ = json.Unmarshal(raw, &state.response)
		}
	}

	return state
}

func (st *operationState) hasError() bool {
	return st.errCode != 0 || st.errStatus != "" || st.errMessage != ""
}

// permanentError classifies a done-with-error state. Transient codes return
// nil so the poll loop keeps going; everything else is a GenerationError.
func (st *operationState) permanentError() error {
	if !st.hasError() {
		return nil
	}
	if isTransientOpError(st.errCode, st.errStatus) {
		return nil
	}
	return &pipeline.GenerationError{
		Message:       st.errMessage,
		ContentPolicy: isContentPolicyError(st.errStatus, st.errMessage),
	}
}

// isTransientOpError matches the documented retryable codes: HTTP 429/503 and
// their gRPC equivalents RESOURCE_EXHAUSTED (8) and UNAVAILABLE (14). This is
// an explicit allowlist, not message matching.
func isTransientOpError(code int, status string) bool {
	switch code {
	case 429, 503, 8, 14:
		return true
	}
	switch status {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "RATE_LIMIT_EXCEEDED":
		return true
	}
	return false
}

func isContentPolicyError(status, message string) bool {
	if status == "SAFETY" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "content policy")
}

// awaitOperation runs the poll/sleep/repeat loop. Transient remote error
// states are logged and absorbed; network-level fetch failures are tolerated
// up to maxPollFetchErrors in a row; attempt exhaustion is ErrPollTimeout.
func awaitOperation(ctx context.Context, fetch func(context.Context) (*operationState, error), interval time.Duration, maxAttempts int) (*operationState, error) {
	fetchErrors := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("polling cancelled: %w", ctx.Err())
			case <-time.After(interval):
			}
		}

		state, err := fetch(ctx)
		if err != nil {
			fetchErrors++
			if fetchErrors >= maxPollFetchErrors {
				return nil, fmt.Errorf("failed to poll operation after %d consecutive errors: %w", fetchErrors, err)
			}
			log.Printf("[Veo] Poll %d fetch failed (tolerating %d/%d): %v", attempt, fetchErrors, maxPollFetchErrors, err)
			continue
		}
		fetchErrors = 0

		if !state.done {
			continue
		}

		if state.hasError() {
			if permErr := state.permanentError(); permErr != nil {
				return nil, permErr
			}
			log.Printf("[Veo] Poll %d: transient remote error (code=%d status=%s), continuing", attempt, state.errCode, state.errStatus)
			continue
		}

		return state, nil
	}

	return nil, fmt.Errorf("exceeded %d poll attempts: %w", maxAttempts, pipeline.ErrPollTimeout)
}

// ---------------------------------------------------------------------------
// Result extraction
// ---------------------------------------------------------------------------

// videoURIProbe inspects a parsed operation response and returns a video URI
// or "". Probes run in priority order; the first non-empty match wins. The
// response schema nests the result differently across API versions, hence
// the ordered probes rather than one hardcoded path.
type videoURIProbe func(map[string]interface{}) string

var videoURIProbes = []videoURIProbe{
	// Primary: generateVideoResponse.generatedSamples[0].video.uri
	func(resp map[string]interface{}) string {
		inner, ok := resp["generateVideoResponse"].(map[string]interface{})
		if !ok {
			return ""
		}
		return sampleURI(inner["generatedSamples"])
	},
	// Secondary: generatedVideos[0].video.uri
	func(resp map[string]interface{}) string {
		return sampleURI(resp["generatedVideos"])
	},
	// Last resort: a direct video field on the response itself.
	func(resp map[string]interface{}) string {
		return videoURI(resp["video"])
	},
}

func extractVideoURI(resp map[string]interface{}) string {
	if resp == nil {
		return ""
	}
	for _, probe := range videoURIProbes {
		if uri := probe(resp); uri != "" {
			return uri
		}
	}
	return ""
}

func sampleURI(v interface{}) string {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	entry, ok := list[0].(map[string]interface{})
	if !ok {
		return ""
	}
	return videoURI(entry["video"])
}

func videoURI(v interface{}) string {
	video, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"uri", "url"} {
		if uri, ok := video[key].(string); ok && uri != "" {
			return uri
		}
	}
	return ""
}

// ensureAccessKey appends the API key as a query parameter when the download
// host embeds credentials that way and the URL doesn't already carry one.
func ensureAccessKey(rawURL, apiKey string) string {
	if apiKey == "" || !strings.Contains(rawURL, "generativelanguage.googleapis.com") {
		return rawURL
	}
	if strings.Contains(rawURL, "key=") {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "key=" + apiKey
}
