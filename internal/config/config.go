package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Object storage (HTTP endpoint for stitched output uploads)
	StorageEndpoint string
	StorageToken    string
	StorageBucket   string

	// Gemini / Veo (video generation)
	GeminiKey string
	VeoModel  string // Veo model identifier (default: veo-3.0-generate-preview)

	// OpenAI (script-section planning when the caller asks for autoScript)
	OpenAIKey string

	// Generation limits
	MaxClipSeconds    int     // Per-clip duration ceiling
	PollIntervalSec   int     // Seconds between operation status checks
	PollMaxAttempts   int     // Attempt ceiling per clip before Timeout
	InterClipDelaySec int     // Pause between clip submissions (burst-limit relief)
	CrossfadeSeconds  float64 // Overlap window for the stitcher

	// Credits
	CreditsPerClip int

	// Worker
	TempDir           string
	MaxConcurrentJobs int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageEndpoint:    getEnv("STORAGE_ENDPOINT", ""),
		StorageToken:       getEnv("STORAGE_TOKEN", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "clipsmith-videos"),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		VeoModel:           getEnv("VEO_MODEL", "veo-3.0-generate-preview"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		MaxClipSeconds:     getEnvInt("MAX_CLIP_SECONDS", 8),
		PollIntervalSec:    getEnvInt("POLL_INTERVAL_SECONDS", 5),
		PollMaxAttempts:    getEnvInt("POLL_MAX_ATTEMPTS", 120),
		InterClipDelaySec:  getEnvInt("INTER_CLIP_DELAY_SECONDS", 2),
		CrossfadeSeconds:   getEnvFloat("CROSSFADE_SECONDS", 1.5),
		CreditsPerClip:     getEnvInt("CREDITS_PER_CLIP", 10),
		TempDir:            getEnv("TEMP_DIR", "/tmp/clipsmith"),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 5),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.StorageEndpoint == "" || cfg.StorageToken == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT and STORAGE_TOKEN are required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
