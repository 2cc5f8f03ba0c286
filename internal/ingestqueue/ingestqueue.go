// Package ingestqueue drains the capture wrapper's on-disk queue
// directory: one conversation per `conversation_<ISO_ts>_<rand>.json`
// file, POSTed to the memory service's HTTP API and archived (not
// deleted) only on a 2xx response, so a crash mid-drain always leaves
// the file for the next pass rather than losing it — at-least-once,
// matching the wrapper's own retry contract.
package ingestqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Drainer POSTs queued conversation files to a memory-service endpoint
// and archives them on success.
type Drainer struct {
	QueueDir    string
	ArchiveDir  string
	Endpoint    string // base URL, e.g. "http://localhost:8420"
	HTTPClient  *http.Client
	Log         zerolog.Logger
}

// New builds a Drainer rooted at queueDir, archiving processed files
// into queueDir/processed and posting to endpoint+"/conversation/store".
func New(queueDir, endpoint string, log zerolog.Logger) *Drainer {
	return &Drainer{
		QueueDir:   queueDir,
		ArchiveDir: filepath.Join(queueDir, "processed"),
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Log:        log,
	}
}

// DrainResult summarizes one pass over the queue directory.
type DrainResult struct {
	Succeeded int
	Failed    int
}

// DrainOnce processes every `conversation_*.json` file currently in the
// queue directory once, in directory-listing order, and returns without
// blocking — the caller decides whether to loop.
func (d *Drainer) DrainOnce(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	if _, err := os.Stat(d.QueueDir); os.IsNotExist(err) {
		return result, nil
	}

	matches, err := filepath.Glob(filepath.Join(d.QueueDir, "conversation_*.json"))
	if err != nil {
		return result, fmt.Errorf("ingestqueue: glob queue dir: %w", err)
	}
	if len(matches) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(d.ArchiveDir, 0o755); err != nil {
		return result, fmt.Errorf("ingestqueue: create archive dir: %w", err)
	}

	for _, path := range matches {
		if err := d.processFile(ctx, path); err != nil {
			d.Log.Error().Err(err).Str("file", path).Msg("ingestqueue: failed to process queue file")
			result.Failed++
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

func (d *Drainer) processFile(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	url := d.Endpoint + "/conversation/store"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("store returned %d: %s", resp.StatusCode, string(detail))
	}

	archivePath := filepath.Join(d.ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, archivePath); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	d.Log.Info().Str("file", filepath.Base(path)).Msg("ingestqueue: drained queue file")
	return nil
}

// CheckHealth reports whether the memory service's /health endpoint is
// reachable and returning 200, used to skip a drain pass while the
// service is down rather than burn retries against it.
func (d *Drainer) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Run drains the queue on a fixed interval until ctx is done, skipping
// a pass whenever the health check fails rather than accumulating
// failed attempts against a down service.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.CheckHealth(ctx) {
				d.Log.Warn().Msg("ingestqueue: memory service unhealthy, skipping drain pass")
				continue
			}
			result, err := d.DrainOnce(ctx)
			if err != nil {
				d.Log.Error().Err(err).Msg("ingestqueue: drain pass failed")
				continue
			}
			if result.Succeeded > 0 || result.Failed > 0 {
				d.Log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("ingestqueue: drain pass complete")
			}
		}
	}
}
