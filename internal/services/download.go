package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Clip downloader
// Generated clips come back as remote URLs; downloads get a bounded timeout
// and a few exponential-backoff retries before the chain gives up.
// ---------------------------------------------------------------------------

const (
	downloadTimeout    = 2 * time.Minute
	downloadMaxRetries = 3
	downloadBaseDelay  = 1 * time.Second
	downloadMaxDelay   = 15 * time.Second
)

type DownloadService struct {
	client *http.Client
}

func NewDownloadService() *DownloadService {
	return &DownloadService{
		client: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// DownloadToFile fetches url into destPath, retrying transient failures.
func (s *DownloadService) DownloadToFile(ctx context.Context, url, destPath string) error {
	data, err := s.Download(ctx, url)
	if err != nil {
		return err
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write download to %s: %w", destPath, err)
	}
	return nil
}

// Download fetches url into memory with retries.
func (s *DownloadService) Download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= downloadMaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			log.Printf("[Download] Retry %d/%d (waiting %v)...", attempt, downloadMaxRetries, delay)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		data, retryable, err := s.fetch(dlCtx, url)
		cancel()
		if err == nil {
			return data, nil
		}

		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Printf("[Download] Attempt %d failed (retryable): %v", attempt+1, err)
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", downloadMaxRetries+1, lastErr)
}

func (s *DownloadService) fetch(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, isRetryableNetErr(err), fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, isRetryableStatus(resp.StatusCode),
			fmt.Errorf("download failed with status %d: %s", resp.StatusCode, string(body))
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read download body: %w", err)
	}
	return data, false, nil
}

// backoffDelay is base * 2^(attempt-1) capped at the max, plus 0-25% jitter.
func backoffDelay(attempt int) time.Duration {
	delay := float64(downloadBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(downloadMaxDelay) {
		delay = float64(downloadMaxDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
