package worker

import (
	"context"
	"log"
	"time"

	"github.com/clipsmith/clipsmith/internal/db"
	"github.com/clipsmith/clipsmith/internal/engine"
	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/queue"
)

// Worker processes queued generation jobs: each job runs the full pipeline
// (clip chain, stitch, upload) and the job row tracks its progress.
type Worker struct {
	db     *db.DB
	queue  *queue.Queue
	engine *engine.Engine
}

func New(database *db.DB, q *queue.Queue, eng *engine.Engine) *Worker {
	return &Worker{
		db:     database,
		queue:  q,
		engine: eng,
	}
}

// Start begins processing jobs with the given concurrency.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing: %v", err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (user: %s)", job.ID, job.UserID)

			if err := w.db.UpdateGenerationJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
				log.Printf("Failed to update job status: %v", err)
			}

			if err := w.handleGenerate(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
				w.db.UpdateGenerationJobError(ctx, job.ID, err.Error())
			} else {
				log.Printf("Job %s completed successfully", job.ID)
			}
		}
	}
}

// handleGenerate runs the whole generate-and-stitch pipeline for one job.
func (w *Worker) handleGenerate(ctx context.Context, job *queue.Job) error {
	videoURL, err := w.engine.RunJob(ctx, job.UserID, job.Request)
	if err != nil {
		return err
	}

	return w.db.SetGenerationJobResult(ctx, job.ID, videoURL)
}
