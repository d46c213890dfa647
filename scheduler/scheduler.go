// Package scheduler runs the server's periodic maintenance jobs.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one run of a periodic task. ctx is cancelled when the job is
// removed or the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs named jobs on fixed intervals. A run never overlaps the
// previous run of the same job, and a panicking run does not stop the job.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
	stopped bool
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Every registers job to run every interval, replacing any job with the
// same name.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if interval <= 0 {
		s.logger.Warn("scheduler job disabled", zap.String("name", name), zap.Duration("interval", interval))
		return
	}
	if old, ok := s.jobs[name]; ok {
		old.cancel()
		delete(s.jobs, name)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = e

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, name, job)
			}
		}
	}()
	s.logger.Info("scheduler job registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler job panicked", zap.String("job", name), zap.Any("recover", r))
		}
	}()
	start := time.Now()
	job(ctx)
	s.logger.Debug("scheduler job ran", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Remove stops a job and waits for a run in progress to finish.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()
	if ok {
		e.cancel()
		<-e.done
	}
}

// Stop cancels every job and waits for them to return. It is safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.jobs = make(map[string]*entry)
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
