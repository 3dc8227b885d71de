package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/epubify/internal/task"
)

// statusWriteTimeout bounds each status write. Writes outlive the run's
// context so that a cancelled run can still record its failure.
const statusWriteTimeout = 10 * time.Second

// errTaskDeleted stops a run whose record was deleted while it was working.
var errTaskDeleted = errors.New("task deleted during conversion")

// progressReporter is the single writer of one task's status. Writes are
// serialized and processing progress never moves backwards. Once a write
// finds the record gone, onGone runs and later writes are dropped.
type progressReporter struct {
	mu        sync.Mutex
	recorder  task.Recorder
	taskID    string
	logger    *slog.Logger
	last      int
	processed int
	gone      bool
	onGone    func()
}

func newProgressReporter(recorder task.Recorder, taskID string, logger *slog.Logger) *progressReporter {
	return &progressReporter{recorder: recorder, taskID: taskID, logger: logger}
}

// update records a processing checkpoint. It returns errTaskDeleted when the
// record no longer exists.
func (p *progressReporter) update(ctx context.Context, progress int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(ctx, task.StatusProcessing, progress, message)
	if p.gone {
		return errTaskDeleted
	}
	return nil
}

// deleted reports whether a write found the record gone.
func (p *progressReporter) deleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gone
}

// pageDone records one more processed page out of total.
func (p *progressReporter) pageDone(ctx context.Context, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	progress := 40 + p.processed*40/total
	p.write(ctx, task.StatusProcessing, progress, fmt.Sprintf("Processing page %d/%d...", p.processed, total))
}

func (p *progressReporter) complete(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(ctx, task.StatusCompleted, 100, "Conversion completed successfully!")
}

func (p *progressReporter) fail(ctx context.Context, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(ctx, task.StatusFailed, 0, "Conversion failed: "+cause.Error())
}

// write must be called with p.mu held.
func (p *progressReporter) write(ctx context.Context, status task.Status, progress int, message string) {
	if p.gone {
		return
	}
	if status == task.StatusProcessing {
		if progress < p.last {
			progress = p.last
		}
		p.last = progress
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	err := p.recorder.Write(wctx, p.taskID, status, progress, message)
	if errors.Is(err, task.ErrNotFound) {
		p.gone = true
		p.logger.Info("task record gone, stopping conversion", "status", status, "progress", progress)
		if p.onGone != nil {
			p.onGone()
		}
		return
	}
	if err != nil {
		level := slog.LevelWarn
		if status.Terminal() && !errors.Is(err, task.ErrTerminal) {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "failed to record task status",
			"status", status, "progress", progress, "error", err)
		return
	}
	p.logger.Info("task status", "status", status, "progress", progress, "message", message)
}
