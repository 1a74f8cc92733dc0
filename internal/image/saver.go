// Package image downloads generated results to local files. Generated
// images live on the backend's storage host; the client only keeps
// bytes the user explicitly asked to save.
package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/petsphoto/pawgen/internal/security"
	"github.com/petsphoto/pawgen/pkg/models"
)

type Saver struct {
	httpClient *http.Client
}

func NewSaver() *Saver {
	return &Saver{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SaveResult downloads a completed job's image to path. An empty path
// derives a filename from the job id.
func (s *Saver) SaveResult(ctx context.Context, job *models.GenerationJob, path string) (string, error) {
	url, err := job.ResultURL()
	if err != nil {
		return "", err
	}
	if err := security.ValidateResultURL(url); err != nil {
		return "", fmt.Errorf("refusing to download result: %w", err)
	}

	if path == "" {
		path = ResultFilename(job.ID, time.Now())
	}
	if err := security.ValidateSavePath(path); err != nil {
		return "", err
	}

	data, err := s.download(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}

	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func (s *Saver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// ResultFilename derives a local name for a downloaded result.
func ResultFilename(jobID string, t time.Time) string {
	return fmt.Sprintf("avatar-%s-%s.png",
		security.SanitizeFilename(jobID), t.Format("20060102-150405"))
}
