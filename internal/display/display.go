package display

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/petsphoto/pawgen/internal/security"
	"github.com/petsphoto/pawgen/pkg/models"
)

const defaultTimeout = 60 * time.Second

// Displayer renders avatar images inline using the kitty graphics
// protocol.
type Displayer struct {
	out        io.Writer
	httpClient *http.Client
}

func New(out io.Writer) *Displayer {
	return &Displayer{
		out: out,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// ShowFile renders an avatar already saved to disk.
func (d *Displayer) ShowFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return d.show(data)
}

// ShowResult renders a completed job's result straight from its URL.
func (d *Displayer) ShowResult(ctx context.Context, job *models.GenerationJob) error {
	url, err := job.ResultURL()
	if err != nil {
		return err
	}
	if err := security.ValidateResultURL(url); err != nil {
		return err
	}

	data, err := d.download(ctx, url)
	if err != nil {
		return err
	}
	return d.show(data)
}

func (d *Displayer) show(data []byte) error {
	enc := NewKittyEncoder(d.out)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

func (d *Displayer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// IsTerminalSupported reports whether the running terminal understands
// the kitty graphics protocol.
func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
