// Package poll watches one in-flight generation job until it reaches a
// terminal state and notifies observers exactly once. The whole
// lifecycle is a single state machine driven by a single timer; there
// are no separate "has fired" guards to keep in sync.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petsphoto/pawgen/pkg/models"
)

// DefaultInterval is the fixed delay between status fetches.
const DefaultInterval = 3 * time.Second

// Phase is the poller's lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePolling   Phase = "polling"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Fetcher fetches the current snapshot of a job.
type Fetcher interface {
	GetGeneration(ctx context.Context, jobID string) (*models.GenerationJob, error)
}

// Poller observes at most one job at a time. Watching a new job
// supersedes the previous watch; callbacks are scoped to the job id
// they were armed for, so a superseded job can never fire them late.
type Poller struct {
	fetch    Fetcher
	interval time.Duration
	log      zerolog.Logger

	onCompleted func(*models.GenerationJob)
	onFailed    func(*models.GenerationJob)

	mu     sync.Mutex
	phase  Phase
	jobID  string
	gen    uint64
	cancel context.CancelFunc
	last   *models.GenerationJob
}

func New(fetch Fetcher, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetch:    fetch,
		interval: interval,
		log:      logger,
		phase:    PhaseIdle,
	}
}

// OnCompleted registers the completion callback. It fires exactly once
// per watched job that reaches completed.
func (p *Poller) OnCompleted(fn func(*models.GenerationJob)) {
	p.mu.Lock()
	p.onCompleted = fn
	p.mu.Unlock()
}

// OnFailed registers the failure callback. It fires exactly once per
// watched job that reaches failed, carrying the final snapshot.
func (p *Poller) OnFailed(fn func(*models.GenerationJob)) {
	p.mu.Lock()
	p.onFailed = fn
	p.mu.Unlock()
}

// Watch begins polling jobID. An empty id returns the poller to idle
// with no network activity. Switching ids cancels the previous watch
// and re-arms notification for the new job independently.
func (p *Poller) Watch(ctx context.Context, jobID string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	gen := p.gen
	p.jobID = jobID
	p.last = nil

	if jobID == "" {
		p.phase = PhaseIdle
		p.mu.Unlock()
		return
	}

	p.phase = PhasePolling
	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(watchCtx, jobID, gen)
}

// Stop returns the poller to idle without notifying anyone.
func (p *Poller) Stop() {
	p.Watch(context.Background(), "")
}

// Phase reports the current lifecycle state.
func (p *Poller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Current returns the watched job id and the most recent snapshot.
func (p *Poller) Current() (string, *models.GenerationJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID, p.last
}

// run is the watch loop: one immediate fetch, then one fetch per tick.
// It exits on cancellation or on the first terminal snapshot. There is
// no maximum duration; a job the backend never finishes is polled until
// the context is cancelled.
func (p *Poller) run(ctx context.Context, jobID string, gen uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.tick(ctx, jobID, gen); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick performs one status fetch and applies the result to the state
// machine. It reports whether the watch is finished.
func (p *Poller) tick(ctx context.Context, jobID string, gen uint64) bool {
	job, err := p.fetch.GetGeneration(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient failure: keep the schedule, try again next tick.
		p.log.Debug().Err(err).Str("job_id", jobID).Msg("poll fetch failed")
		return false
	}

	p.mu.Lock()
	if gen != p.gen {
		// A newer Watch superseded this loop while the fetch was in
		// flight; its result must not leak into the new watch.
		p.mu.Unlock()
		return true
	}
	p.last = job

	if !job.Status.IsTerminal() {
		p.mu.Unlock()
		return false
	}

	var notify func(*models.GenerationJob)
	switch job.Status {
	case models.StatusCompleted:
		p.phase = PhaseCompleted
		notify = p.onCompleted
	case models.StatusFailed:
		p.phase = PhaseFailed
		notify = p.onFailed
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	if notify != nil {
		notify(job)
	}
	return true
}

// Wait polls synchronously until the job reaches a terminal state and
// returns the final snapshot. It shares the poller's interval and
// transient-error semantics but bypasses the callback machinery; the
// only way out of a never-terminating job is ctx.
func (p *Poller) Wait(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		job, err := p.fetch.GetGeneration(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Debug().Err(err).Str("job_id", jobID).Msg("poll fetch failed")
		} else if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
