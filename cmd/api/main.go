package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipsmith/clipsmith/internal/api"
	"github.com/clipsmith/clipsmith/internal/config"
	"github.com/clipsmith/clipsmith/internal/db"
	"github.com/clipsmith/clipsmith/internal/engine"
	"github.com/clipsmith/clipsmith/internal/queue"
	"github.com/clipsmith/clipsmith/internal/services"
	"github.com/clipsmith/clipsmith/internal/storage"
	"github.com/clipsmith/clipsmith/internal/worker"
)

func main() {
	log.Println("Starting Clipsmith API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue (optional: sync-only deployments skip it)
	var q *queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		log.Println("Connected to Redis queue")
	}

	// Initialize storage
	stor := storage.New(cfg.StorageEndpoint, cfg.StorageToken, cfg.StorageBucket)
	log.Println("Initialized object storage")

	// Initialize services
	veoSvc := services.NewVeoService(cfg.GeminiKey, cfg.VeoModel,
		time.Duration(cfg.PollIntervalSec)*time.Second, cfg.PollMaxAttempts)
	log.Printf("Veo video generation enabled (model: %s)", cfg.VeoModel)

	var plannerSvc *services.PlannerService
	if cfg.OpenAIKey != "" {
		plannerSvc = services.NewPlannerService(cfg.OpenAIKey)
		log.Println("Script planner enabled (autoScript)")
	}

	ffmpegSvc := services.NewFFmpegService()
	downloadSvc := services.NewDownloadService()

	eng := engine.New(database, veoSvc, plannerSvc, ffmpegSvc, downloadSvc, stor, engine.Options{
		TempDir:          cfg.TempDir,
		MaxClipSeconds:   cfg.MaxClipSeconds,
		InterClipDelay:   time.Duration(cfg.InterClipDelaySec) * time.Second,
		CrossfadeSeconds: cfg.CrossfadeSeconds,
		CreditsPerClip:   cfg.CreditsPerClip,
	})

	// Create API handler
	handler := api.NewHandler(database, q, eng)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled && q != nil {
		log.Println("Worker enabled, starting background processing...")

		w := worker.New(database, q, eng)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
