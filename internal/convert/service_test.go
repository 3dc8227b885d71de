package convert

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/epubify/internal/crawl"
	"github.com/jackzampolin/epubify/internal/jobs"
	"github.com/jackzampolin/epubify/internal/task"
)

// syncQueue runs each job as soon as it is submitted.
type syncQueue struct{}

func (syncQueue) Submit(ctx context.Context, job jobs.Job) error {
	return job.Execute(ctx)
}

// holdQueue keeps jobs without running them.
type holdQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *holdQueue) Submit(ctx context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, q Queue) (*Service, *task.MemoryRecorder) {
	t.Helper()
	fetcher := &fakeFetcher{fn: func(u string, pos int) crawl.Outcome { return page(u, pos, "Getting started") }}
	conv, rec := newTestConverter(t, &fakeDiscoverer{links: links(2)}, fetcher, 2)
	svc, err := NewService(ServiceConfig{Recorder: rec, Converter: conv, Queue: q})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, rec
}

func TestService_SubmitInvalidInput(t *testing.T) {
	svc, rec := newTestService(t, syncQueue{})

	for _, raw := range []string{"not-a-url", "", "ftp://docs.aws.amazon.com/x", "https://"} {
		t.Run(raw, func(t *testing.T) {
			id, err := svc.Submit(context.Background(), SubmitRequest{URL: raw})
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Submit(%q) error = %v, want ErrInvalidInput", raw, err)
			}
			if id != "" {
				t.Errorf("Submit(%q) returned id %q", raw, id)
			}
		})
	}
	if rec.Len() != 0 {
		t.Errorf("records created for invalid input: %d", rec.Len())
	}
}

func TestService_SubmitStatusDownload(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, syncQueue{})

	id, err := svc.Submit(ctx, SubmitRequest{URL: rootURL, Title: "Lambda Guide"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	view, err := svc.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != task.StatusCompleted || view.Progress != 100 {
		t.Errorf("Status() = %+v", view)
	}
	if view.DownloadURL != "/api/download/"+id {
		t.Errorf("DownloadURL = %q", view.DownloadURL)
	}

	file, err := svc.Download(ctx, id)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if file.Name != "Lambda Guide.epub" || file.MediaType != "application/epub+zip" {
		t.Errorf("Download() = %+v", file)
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestService_PendingTask(t *testing.T) {
	ctx := context.Background()
	q := &holdQueue{}
	svc, rec := newTestService(t, q)

	id, err := svc.Submit(ctx, SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	view, err := svc.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != task.StatusPending || view.Message != QueuedMessage || view.DownloadURL != "" {
		t.Errorf("Status() = %+v", view)
	}

	got, _ := rec.Read(ctx, id)
	if got.Title != "AWS Documentation - docs.aws.amazon.com" || got.SourceURL != rootURL {
		t.Errorf("record = %+v", got)
	}

	if _, err := svc.Download(ctx, id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Download() pending error = %v, want ErrInvalidState", err)
	}
	if len(q.jobs) != 1 || q.jobs[0].ID() != id || q.jobs[0].Type() != JobType {
		t.Errorf("queued jobs = %v", q.jobs)
	}
}

func TestService_QueueRejection(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, &holdQueue{err: jobs.ErrQueueFull})

	_, err := svc.Submit(ctx, SubmitRequest{URL: rootURL})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrUnavailable", err)
	}
	if rec.Len() != 1 {
		t.Fatalf("Len() = %d, want the failed record", rec.Len())
	}
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, syncQueue{})

	if _, err := svc.Status(ctx, "missing"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Download(ctx, "missing"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestService_DownloadMissingArchive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, syncQueue{})

	id, err := svc.Submit(ctx, SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	os.Remove(svc.Converter().ArchivePath(id))

	if _, err := svc.Download(ctx, id); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestService_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, syncQueue{})

	id, err := svc.Submit(ctx, SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	archive := svc.Converter().ArchivePath(id)

	for i := 0; i < 2; i++ {
		if err := svc.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() #%d error = %v", i+1, err)
		}
	}
	if _, err := svc.Status(ctx, id); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Status() after delete error = %v", err)
	}
	if _, err := os.Stat(archive); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive still present: %v", err)
	}
	if err := svc.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(unknown) error = %v", err)
	}
}

func TestService_Sweep(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, syncQueue{})
	c := &clock{now: time.Now()}
	rec.SetClock(c.Now)

	id, err := svc.Submit(ctx, SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if n, err := svc.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("Sweep() before expiry = %d, %v", n, err)
	}

	c.Advance(task.DefaultRetention + time.Minute)
	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d archives, want 1", n)
	}
	if _, err := os.Stat(svc.Converter().ArchivePath(id)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive survived sweep: %v", err)
	}
}

func TestService_Scheduler(t *testing.T) {
	sched := jobs.NewScheduler(jobs.SchedulerConfig{QueueSize: 4})
	svc, _ := newTestService(t, sched)

	ctx, cancel := context.WithCancel(context.Background())
	sched.RunWorkers(ctx, 2)
	defer func() {
		cancel()
		sched.Wait()
	}()

	id, err := svc.Submit(context.Background(), SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := svc.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if view.Status.Terminal() {
			if view.Status != task.StatusCompleted {
				t.Fatalf("task ended %s: %s", view.Status, view.Message)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task still %s after 5s", view.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_ShutdownAbandonsQueued(t *testing.T) {
	sched := jobs.NewScheduler(jobs.SchedulerConfig{QueueSize: 4})
	svc, _ := newTestService(t, sched)

	id, err := svc.Submit(context.Background(), SubmitRequest{URL: rootURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sched.RunWorkers(ctx, 1)
	sched.Wait()

	view, err := svc.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != task.StatusFailed || !strings.Contains(view.Message, "shutting down") {
		t.Errorf("Status() = %+v, want failed on shutdown", view)
	}
}
