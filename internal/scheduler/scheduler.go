// Package scheduler runs the periodic jobs of the tracker: terrestrial and
// satellite ingestion plus rule evaluation, each on its own interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task. Errors are logged, never fatal to the loop.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs. Start launches one goroutine per
// job; Stop ends the loops and waits for in-flight runs to finish.
type Scheduler struct {
	jobs []Job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, stop: make(chan struct{})}
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	slog.Info("job scheduled", "job", job.Name, "interval", job.Interval)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				slog.Error("job failed", "job", job.Name, "error", err)
				continue
			}
			slog.Debug("job done", "job", job.Name, "took", time.Since(start))
		}
	}
}

// Stop ends the loops and blocks until in-flight runs return. The context
// handed to Run stays live, so a run caught mid-write finishes its writes
// instead of aborting on context.Canceled. Cancelling the Start context is
// the hard-stop path.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
