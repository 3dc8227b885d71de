package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned by Submit when the queue buffer is exhausted.
	ErrQueueFull = errors.New("job queue full")
	// ErrDuplicateJob is returned when a job with the same ID is already queued or running.
	ErrDuplicateJob = errors.New("job already submitted")
	// ErrStopped is returned by Submit after the workers have shut down.
	ErrStopped = errors.New("scheduler stopped")
)

// Scheduler queues jobs and executes them on a fixed pool of workers.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]Job   // queued or running jobs by ID
	states  map[string]State // job ID -> state
	logger  *slog.Logger
	workers int
	stopped bool

	// Work queue (buffered channel)
	queue chan Job

	done chan struct{}
}

// SchedulerConfig configures a new scheduler.
type SchedulerConfig struct {
	Logger    *slog.Logger
	QueueSize int // Size of job queue buffer (default 1000)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Scheduler{
		jobs:   make(map[string]Job),
		states: make(map[string]State),
		queue:  make(chan Job, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Submit enqueues a job. It never blocks: a full queue returns ErrQueueFull.
func (s *Scheduler) Submit(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[job.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID())
	}

	select {
	case s.queue <- job:
	default:
		s.logger.Warn("queue full, rejecting job", "job_id", job.ID(), "type", job.Type())
		return ErrQueueFull
	}

	s.jobs[job.ID()] = job
	s.states[job.ID()] = StateQueued
	s.logger.Info("job submitted", "job_id", job.ID(), "type", job.Type())
	return nil
}

// RunWorkers starts numWorkers goroutines that process the queue until ctx
// is cancelled. Jobs still queued at that point are abandoned. Call Wait to
// block until shutdown has finished.
func (s *Scheduler) RunWorkers(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s.mu.Lock()
	s.workers = numWorkers
	s.mu.Unlock()

	s.logger.Info("starting worker pool", "count", numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			s.workerLoop(ctx, workerNum)
		}(i)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		s.drain()
		s.logger.Info("all workers stopped")
		close(s.done)
	}()
}

// Wait blocks until the workers started by RunWorkers have stopped.
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) workerLoop(ctx context.Context, workerNum int) {
	logger := s.logger.With("worker_num", workerNum)
	logger.Debug("worker started")

	for {
		// Prefer shutdown over picking up more work.
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		default:
		}

		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case job := <-s.queue:
			s.process(ctx, job, logger)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, job Job, logger *slog.Logger) {
	s.mu.Lock()
	s.states[job.ID()] = StateRunning
	s.mu.Unlock()

	jobLogger := logger.With("job_id", job.ID(), "type", job.Type())

	defer func() {
		if r := recover(); r != nil {
			jobLogger.Error("job panicked", "panic", r)
		}
		s.mu.Lock()
		delete(s.jobs, job.ID())
		delete(s.states, job.ID())
		s.mu.Unlock()
	}()

	jobCtx := ContextWithDeps(ctx, Dependencies{Logger: jobLogger})

	jobLogger.Info("job started")
	if err := job.Execute(jobCtx); err != nil {
		jobLogger.Error("job failed", "error", err)
		return
	}
	jobLogger.Info("job completed")
}

// drain abandons every job left in the queue once the workers are gone.
func (s *Scheduler) drain() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	for {
		select {
		case job := <-s.queue:
			s.logger.Warn("abandoning queued job", "job_id", job.ID(), "type", job.Type())
			if a, ok := job.(Abandoner); ok {
				a.Abandon("server shutting down")
			}
			s.mu.Lock()
			delete(s.jobs, job.ID())
			delete(s.states, job.ID())
			s.mu.Unlock()
		default:
			return
		}
	}
}
