package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/epubify/internal/crawl"
	"github.com/jackzampolin/epubify/internal/epub"
	"github.com/jackzampolin/epubify/internal/task"
)

// Discoverer finds the pages linked from a root documentation page.
type Discoverer interface {
	Discover(ctx context.Context, rootURL string) ([]string, error)
}

// Fetcher retrieves one page. Failures come back as skipped outcomes.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, position int) crawl.Outcome
}

// DefaultConcurrency is the per-task page fetch limit.
const DefaultConcurrency = 8

// Request describes one conversion run.
type Request struct {
	TaskID    string
	SourceURL string
	Title     string
}

// ConverterConfig configures a Converter.
type ConverterConfig struct {
	Recorder    task.Recorder
	Discoverer  Discoverer
	Fetcher     Fetcher
	ArchiveDir  string
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Converter runs the discover, fetch, assemble and package pipeline for a
// task and reports its progress to a Recorder.
type Converter struct {
	recorder   task.Recorder
	archiveDir string
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.RWMutex
	discoverer  Discoverer
	fetcher     Fetcher
	concurrency int
}

// NewConverter creates a Converter. Crawl components default to
// crawl.DefaultOptions.
func NewConverter(cfg ConverterConfig) (*Converter, error) {
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Discoverer == nil {
		cfg.Discoverer = crawl.NewDiscoverer(crawl.DefaultOptions(), logger)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = crawl.NewFetcher(crawl.DefaultOptions(), logger)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Converter{
		recorder:    cfg.Recorder,
		archiveDir:  cfg.ArchiveDir,
		logger:      logger,
		now:         cfg.Now,
		discoverer:  cfg.Discoverer,
		fetcher:     cfg.Fetcher,
		concurrency: cfg.Concurrency,
	}, nil
}

// Reconfigure swaps the crawl settings used by runs started afterwards.
func (c *Converter) Reconfigure(opts crawl.Options, concurrency int) {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverer = crawl.NewDiscoverer(opts, c.logger)
	c.fetcher = crawl.NewFetcher(opts, c.logger)
	c.concurrency = concurrency
}

func (c *Converter) components() (Discoverer, Fetcher, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discoverer, c.fetcher, c.concurrency
}

// ArchivePath returns where the EPUB for taskID is written.
func (c *Converter) ArchivePath(taskID string) string {
	return filepath.Join(c.archiveDir, taskID+".epub")
}

// Run converts req.SourceURL into an EPUB archive and returns the terminal
// status it recorded. It never returns without recording completed or failed,
// except when the record is deleted mid-run: the run then stops, removes any
// archive and returns failed without writing.
func (c *Converter) Run(ctx context.Context, req Request) (status task.Status) {
	logger := c.logger.With("task_id", req.TaskID, "url", req.SourceURL)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	progress := newProgressReporter(c.recorder, req.TaskID, logger)
	progress.onGone = func() { cancel(errTaskDeleted) }
	archive := c.ArchivePath(req.TaskID)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("conversion panicked", "panic", r)
			c.removeArchive(archive, logger)
			progress.fail(ctx, fmt.Errorf("internal error: %v", r))
			status = task.StatusFailed
		}
		logger.Info("conversion finished", "status", status, "duration", time.Since(start))
	}()

	err := c.run(ctx, req, progress, archive)
	if err == nil {
		progress.complete(ctx)
	}
	if progress.deleted() {
		c.removeArchive(archive, logger)
		return task.StatusFailed
	}
	if err != nil {
		logger.Warn("conversion failed", "error", err)
		c.removeArchive(archive, logger)
		progress.fail(ctx, err)
		return task.StatusFailed
	}
	return task.StatusCompleted
}

func (c *Converter) run(ctx context.Context, req Request, progress *progressReporter, archive string) error {
	if err := progress.update(ctx, 0, "Starting conversion..."); err != nil {
		return err
	}

	source, err := ParseSourceURL(req.SourceURL)
	if err != nil {
		return err
	}
	title := req.Title
	if title == "" {
		title = DefaultTitle(source)
	}
	if err := progress.update(ctx, 10, "Preparing conversion..."); err != nil {
		return err
	}

	discoverer, fetcher, concurrency := c.components()

	if err := progress.update(ctx, 20, "Extracting documentation links..."); err != nil {
		return err
	}
	links, err := discoverer.Discover(ctx, source.String())
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	if len(links) == 0 {
		return ErrNoLinksFound
	}
	if err := progress.update(ctx, 40, fmt.Sprintf("Found %d pages to convert...", len(links))); err != nil {
		return err
	}

	outcomes := c.fetchAll(ctx, fetcher, links, concurrency, progress)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("conversion interrupted: %w", err)
	}

	book, err := epub.Assemble(title, outcomes, c.now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.archiveDir, 0o755); err != nil {
		return &epub.PackagingError{Path: c.archiveDir, Err: err}
	}
	if err := epub.NewBuilder(book).Build(archive); err != nil {
		return err
	}
	return progress.update(ctx, 90, "Finalizing EPUB...")
}

// fetchAll fetches every link with at most limit requests in flight. The
// result slice is indexed by discovery order regardless of completion order.
func (c *Converter) fetchAll(ctx context.Context, fetcher Fetcher, links []string, limit int, progress *progressReporter) []crawl.Outcome {
	outcomes := make([]crawl.Outcome, len(links))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, link := range links {
		if ctx.Err() != nil {
			outcomes[i] = crawl.Skip(link, i+1, ctx.Err().Error())
			continue
		}
		g.Go(func() error {
			defer progress.pageDone(ctx, len(links))
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("page fetch panicked", "url", link, "panic", r)
					outcomes[i] = crawl.Skip(link, i+1, fmt.Sprintf("internal error: %v", r))
				}
			}()
			outcomes[i] = fetcher.Fetch(ctx, link, i+1)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Converter) removeArchive(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove partial archive", "path", path, "error", err)
	}
}
