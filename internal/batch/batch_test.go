package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petsphoto/pawgen/internal/api"
	"github.com/petsphoto/pawgen/internal/image"
	"github.com/petsphoto/pawgen/internal/poll"
	"github.com/petsphoto/pawgen/internal/security"
	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "tok-batch", nil }

func jpegBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return data
}

// fakeBackend assigns sequential ids and completes every job on the
// first status poll.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	var uploads, jobs atomic.Int64
	mux := http.NewServeMux()
	var srv *httptest.Server

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}

	mux.HandleFunc("POST /api/v1/images/upload", func(w http.ResponseWriter, _ *http.Request) {
		id := fmt.Sprintf("img-%d", uploads.Add(1))
		writeJSON(w, models.UploadedImage{ID: id, Filename: id + ".jpg", FileSize: 4096})
	})
	mux.HandleFunc("POST /api/v1/generations/", func(w http.ResponseWriter, r *http.Request) {
		var req models.GenerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generation request: %v", err)
		}
		writeJSON(w, models.GenerationJob{
			ID:            fmt.Sprintf("job-%d", jobs.Add(1)),
			SourceImageID: req.SourceImageID,
			StyleID:       req.StyleID,
			Status:        models.StatusPending,
			CreatedAt:     time.Now(),
		})
	})
	mux.HandleFunc("GET /api/v1/generations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		now := time.Now()
		writeJSON(w, models.GenerationJob{
			ID:             id,
			Status:         models.StatusCompleted,
			ResultImageURL: srv.URL + "/results/" + id + ".png",
			CreditsCost:    1,
			CreatedAt:      now,
			CompletedAt:    &now,
		})
	})
	mux.HandleFunc("GET /results/", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write(jpegBytes(2048)); err != nil {
			t.Errorf("write result: %v", err)
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProcessor(t *testing.T) (*Processor, *bytes.Buffer) {
	t.Helper()

	security.SetSkipValidation(true)
	t.Cleanup(func() { security.SetSkipValidation(false) })

	srv := fakeBackend(t)
	client, err := api.New(&api.Config{
		BaseURL: srv.URL,
		Tokens:  staticTokens{},
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}

	st, err := store.NewWithPath(filepath.Join(t.TempDir(), "batch.db"))
	if err != nil {
		t.Fatalf("NewWithPath() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	out := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	poller := poll.New(client, 10*time.Millisecond, zerolog.Nop())

	return NewProcessor(client, poller, image.NewSaver(), st, out, errBuf), out
}

func writePhotos(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, jpegBytes(4096), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestCollectPhotos(t *testing.T) {
	dir := t.TempDir()
	writePhotos(t, dir, "rex.jpg", "bella.PNG", "milo.webp")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	photos, err := CollectPhotos(dir)
	if err != nil {
		t.Fatalf("CollectPhotos() error = %v", err)
	}
	if len(photos) != 3 {
		t.Fatalf("CollectPhotos() returned %d files, want 3: %v", len(photos), photos)
	}
	for _, p := range photos {
		if strings.HasSuffix(p, ".txt") {
			t.Errorf("non-photo file collected: %s", p)
		}
	}
}

func TestCollectPhotos_Empty(t *testing.T) {
	_, err := CollectPhotos(t.TempDir())
	if err == nil {
		t.Fatal("CollectPhotos() on empty dir succeeded, want error")
	}
}

func TestProcessor_Sequential(t *testing.T) {
	proc, out := testProcessor(t)

	srcDir := t.TempDir()
	photos := writePhotos(t, srcDir, "rex.jpg", "bella.jpg")
	outDir := t.TempDir()

	results, err := proc.Process(context.Background(), photos, &Options{
		StyleID:   "style-cartoon",
		StyleName: "Cartoon",
		OutputDir: outDir,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Process() returned %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Error != nil {
			t.Errorf("result %d error = %v", res.Index, res.Error)
			continue
		}
		if _, err := os.Stat(res.Path); err != nil {
			t.Errorf("result file missing: %v", err)
		}
	}

	if !strings.Contains(out.String(), "[1/2]") || !strings.Contains(out.String(), "[2/2]") {
		t.Errorf("progress output = %q", out.String())
	}

	// Every job lands in the journal.
	jobs, err := proc.store.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("journal has %d jobs, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != models.StatusCompleted {
			t.Errorf("journal job %s status = %v, want completed", job.ID, job.Status)
		}
	}
}

func TestProcessor_Parallel(t *testing.T) {
	proc, _ := testProcessor(t)

	srcDir := t.TempDir()
	photos := writePhotos(t, srcDir, "a.jpg", "b.jpg", "c.jpg", "d.jpg")

	results, err := proc.Process(context.Background(), photos, &Options{
		StyleID:   "style-oil",
		OutputDir: t.TempDir(),
		Parallel:  3,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, res := range results {
		if res.Error != nil {
			t.Errorf("result %d error = %v", res.Index, res.Error)
			continue
		}
		if seen[res.JobID] {
			t.Errorf("job id %s assigned twice", res.JobID)
		}
		seen[res.JobID] = true
	}
	if len(seen) != 4 {
		t.Errorf("got %d distinct jobs, want 4", len(seen))
	}
}

func TestProcessor_StopOnError(t *testing.T) {
	proc, _ := testProcessor(t)

	srcDir := t.TempDir()
	good := writePhotos(t, srcDir, "rex.jpg")
	missing := filepath.Join(srcDir, "ghost.jpg")

	results, err := proc.Process(context.Background(), []string{missing, good[0]}, &Options{
		StyleID:     "style-cartoon",
		OutputDir:   t.TempDir(),
		StopOnError: true,
	})
	if err == nil {
		t.Fatal("Process() with missing photo succeeded, want error")
	}
	if results[0].Error == nil {
		t.Error("first result has no error")
	}
	if results[1].JobID != "" {
		t.Error("second photo was processed after stop")
	}
}

func TestProcessor_ContinueOnError(t *testing.T) {
	proc, _ := testProcessor(t)

	srcDir := t.TempDir()
	good := writePhotos(t, srcDir, "rex.jpg")
	missing := filepath.Join(srcDir, "ghost.jpg")

	results, err := proc.Process(context.Background(), []string{missing, good[0]}, &Options{
		StyleID:   "style-cartoon",
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if results[0].Error == nil {
		t.Error("first result has no error")
	}
	if results[1].Error != nil {
		t.Errorf("second result error = %v, want nil", results[1].Error)
	}
}
