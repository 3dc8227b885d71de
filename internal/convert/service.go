package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/epubify/internal/epub"
	"github.com/jackzampolin/epubify/internal/jobs"
	"github.com/jackzampolin/epubify/internal/task"
)

// QueuedMessage is the status message of a freshly submitted task.
const QueuedMessage = "Conversion queued"

// Queue accepts conversion jobs for asynchronous execution.
type Queue interface {
	Submit(ctx context.Context, job jobs.Job) error
}

// StatusView is the caller-facing state of a task.
type StatusView struct {
	TaskID      string      `json:"task_id"`
	Status      task.Status `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	DownloadURL string      `json:"download_url,omitempty"`
}

// ArchiveFile locates a finished EPUB for download.
type ArchiveFile struct {
	Path      string
	Name      string
	MediaType string
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Recorder  task.Recorder
	Converter *Converter
	Queue     Queue
	Logger    *slog.Logger
}

// Service implements task submission, status, download and deletion on top
// of a Recorder, a Converter and a job Queue.
type Service struct {
	recorder  task.Recorder
	converter *Converter
	queue     Queue
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Recorder == nil || cfg.Converter == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("recorder, converter and queue are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		recorder:  cfg.Recorder,
		converter: cfg.Converter,
		queue:     cfg.Queue,
		logger:    logger,
	}, nil
}

// Converter returns the converter that runs queued tasks.
func (s *Service) Converter() *Converter {
	return s.converter
}

// Submit validates req, records a pending task and queues its conversion.
// Invalid input creates no record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	source, err := ParseSourceURL(req.URL)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle(source)
	}

	taskID := uuid.NewString()
	err = s.recorder.Create(ctx, task.Record{
		TaskID:    taskID,
		SourceURL: source.String(),
		Title:     title,
		Status:    task.StatusPending,
		Message:   QueuedMessage,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record task: %w", err)
	}

	job := NewConversionJob(Request{TaskID: taskID, SourceURL: source.String(), Title: title}, s.converter, s.recorder)
	if err := s.queue.Submit(ctx, job); err != nil {
		s.logger.Warn("failed to queue conversion", "task_id", taskID, "error", err)
		job.Abandon(err.Error())
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Info("conversion submitted", "task_id", taskID, "url", source.String())
	return taskID, nil
}

// Status returns the current view of a task. DownloadURL is set only once
// the task has completed.
func (s *Service) Status(ctx context.Context, taskID string) (StatusView, error) {
	rec, err := s.recorder.Read(ctx, taskID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		TaskID:   rec.TaskID,
		Status:   rec.Status,
		Progress: rec.Progress,
		Message:  rec.Message,
	}
	if rec.Status == task.StatusCompleted {
		view.DownloadURL = "/api/download/" + rec.TaskID
	}
	return view, nil
}

// Download locates the archive of a completed task.
func (s *Service) Download(ctx context.Context, taskID string) (ArchiveFile, error) {
	rec, err := s.recorder.Read(ctx, taskID)
	if err != nil {
		return ArchiveFile{}, err
	}
	if rec.Status != task.StatusCompleted {
		return ArchiveFile{}, fmt.Errorf("%w: task is %s", ErrInvalidState, rec.Status)
	}

	path := s.converter.ArchivePath(taskID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ArchiveFile{}, fmt.Errorf("%w: archive missing", task.ErrNotFound)
		}
		return ArchiveFile{}, fmt.Errorf("failed to stat archive: %w", err)
	}
	return ArchiveFile{Path: path, Name: FileName(rec.Title), MediaType: epub.MediaType}, nil
}

// Delete removes a task's record and archive. Unknown tasks are not an error.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	if err := s.recorder.Delete(ctx, taskID); err != nil {
		return err
	}
	if err := os.Remove(s.converter.ArchivePath(taskID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove archive: %w", err)
	}
	s.logger.Info("task deleted", "task_id", taskID)
	return nil
}

// Sweep purges expired records when the recorder supports it, then removes
// archives that no longer have a live record. It returns the number of
// archives removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if sweeper, ok := s.recorder.(task.Sweeper); ok {
		ids, err := sweeper.Sweep(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to sweep records: %w", err)
		}
		if len(ids) > 0 {
			s.logger.Info("expired tasks purged", "count", len(ids))
		}
	}

	entries, err := os.ReadDir(s.converter.archiveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".epub" || strings.HasPrefix(name, ".") {
			continue
		}
		taskID := strings.TrimSuffix(name, ".epub")
		if _, err := s.recorder.Read(ctx, taskID); !errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err := os.Remove(filepath.Join(s.converter.archiveDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove orphaned archive", "task_id", taskID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("orphaned archives removed", "count", n)
			}
		}
	}
}
