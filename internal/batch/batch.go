package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petsphoto/pawgen/internal/api"
	"github.com/petsphoto/pawgen/internal/image"
	"github.com/petsphoto/pawgen/internal/poll"
	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

// Result is the outcome of one photo in a batch run.
type Result struct {
	Index    int
	Source   string
	JobID    string
	Path     string
	Credits  int
	Error    error
	Duration time.Duration
}

type Options struct {
	StyleID     string
	StyleName   string
	OutputDir   string
	Parallel    int
	StopOnError bool
}

// Processor runs the upload-generate-wait-save pipeline over a set of
// photos, journaling every job.
type Processor struct {
	api    *api.Client
	poller *poll.Poller
	saver  *image.Saver
	store  *store.Store
	out    io.Writer
	errOut io.Writer
	outMu  sync.Mutex
}

func NewProcessor(client *api.Client, poller *poll.Poller, saver *image.Saver, st *store.Store, out, errOut io.Writer) *Processor {
	return &Processor{
		api:    client,
		poller: poller,
		saver:  saver,
		store:  st,
		out:    out,
		errOut: errOut,
	}
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) Process(ctx context.Context, sources []string, opts *Options) ([]Result, error) {
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, sources, opts)
	}
	return p.processParallel(ctx, sources, opts)
}

func (p *Processor) processSequential(ctx context.Context, sources []string, opts *Options) ([]Result, error) {
	results := make([]Result, len(sources))
	total := len(sources)

	for i, source := range sources {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		results[i] = p.processOne(ctx, source, opts, i+1, total)

		if results[i].Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at photo %d: %w", i+1, results[i].Error)
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, sources []string, opts *Options) ([]Result, error) {
	results := make([]Result, len(sources))
	total := len(sources)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)

	for i, source := range sources {
		g.Go(func() error {
			results[i] = p.processOne(gctx, source, opts, i+1, total)
			if results[i].Error != nil && opts.StopOnError {
				return fmt.Errorf("photo %d failed: %w", i+1, results[i].Error)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (p *Processor) processOne(ctx context.Context, source string, opts *Options, num, total int) Result {
	start := time.Now()
	result := Result{Index: num - 1, Source: source}

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return fail(fmt.Errorf("failed to read %s: %w", source, err))
	}

	img, err := p.api.UploadImage(ctx, filepath.Base(source), data)
	if err != nil {
		return fail(err)
	}

	job, err := p.api.CreateGeneration(ctx, &models.GenerationRequest{
		SourceImageID: img.ID,
		StyleID:       opts.StyleID,
	})
	if err != nil {
		return fail(err)
	}
	result.JobID = job.ID
	p.recordJob(ctx, job, opts.StyleName)

	p.printf("[%d/%d] %s submitted as %s\n", num, total, filepath.Base(source), job.ID)

	final, err := p.poller.Wait(ctx, job.ID)
	if err != nil {
		return fail(err)
	}
	p.finishJob(ctx, final)

	if final.Status == models.StatusFailed {
		return fail(fmt.Errorf("generation failed: %s", final.ErrorMessage))
	}

	path, err := p.saver.SaveResult(ctx, final, outputPath(source, opts))
	if err != nil {
		return fail(err)
	}

	result.Path = path
	result.Credits = final.CreditsCost
	result.Duration = time.Since(start)
	p.printf("[%d/%d] saved %s\n", num, total, path)
	return result
}

func outputPath(source string, opts *Options) string {
	if opts.OutputDir == "" {
		return ""
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(opts.OutputDir, fmt.Sprintf("%s-%s.png", stem, opts.StyleID))
}

func (p *Processor) recordJob(ctx context.Context, job *models.GenerationJob, styleName string) {
	rec := &store.JobRecord{
		ID:            job.ID,
		SourceImageID: job.SourceImageID,
		StyleID:       job.StyleID,
		StyleName:     styleName,
		Status:        job.Status,
		CreditsCost:   job.CreditsCost,
		CreatedAt:     job.CreatedAt,
	}
	if err := p.store.RecordJob(ctx, rec); err != nil {
		p.outMu.Lock()
		fmt.Fprintf(p.errOut, "Warning: failed to record job %s: %v\n", job.ID, err)
		p.outMu.Unlock()
	}
}

func (p *Processor) finishJob(ctx context.Context, job *models.GenerationJob) {
	completed := time.Now()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	err := p.store.FinishJob(ctx, job.ID, job.Status, job.ResultImageURL, job.ErrorMessage, completed)
	if err != nil {
		p.outMu.Lock()
		fmt.Fprintf(p.errOut, "Warning: failed to record result for %s: %v\n", job.ID, err)
		p.outMu.Unlock()
	}
}
