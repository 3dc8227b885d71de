package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/schema"
)

// timeLayout is fixed-width UTC so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var recordFields = []string{
	"task_id", "source_url", "title", "status", "progress", "message",
	"created_at", "updated_at", "expires_at",
}

// DefraRecorder stores task records in the DefraDB ConversionTask collection.
// DefraDB has no TTL, so expiry is enforced on read and by Sweep.
type DefraRecorder struct {
	client    *defra.Client
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// mu serializes lookups with the mutation that follows them.
	mu sync.Mutex
}

// NewDefraRecorder creates a recorder on client. A non-positive retention
// uses DefaultRetention.
func NewDefraRecorder(client *defra.Client, retention time.Duration, logger *slog.Logger) *DefraRecorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraRecorder{
		client:    client,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the recorder's time source.
func (d *DefraRecorder) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Create implements Recorder.
func (d *DefraRecorder) Create(ctx context.Context, rec Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	docID, existing, err := d.find(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.Expired(now) {
			return ErrExists
		}
		if err := d.client.Delete(ctx, schema.ConversionTask, docID); err != nil {
			return fmt.Errorf("failed to remove expired task %s: %w", rec.TaskID, err)
		}
	}

	rec.Progress = clampProgress(rec.Progress)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(d.retention)
	if _, err := d.client.Create(ctx, schema.ConversionTask, encodeRecord(rec)); err != nil {
		return fmt.Errorf("failed to create task %s: %w", rec.TaskID, err)
	}
	return nil
}

// Write implements Recorder.
func (d *DefraRecorder) Write(ctx context.Context, taskID string, status Status, progress int, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	docID, existing, err := d.find(ctx, taskID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.Expired(now) {
		if err := d.client.Delete(ctx, schema.ConversionTask, docID); err != nil {
			return fmt.Errorf("failed to remove expired task %s: %w", taskID, err)
		}
		return ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrTerminal
	}
	err = d.client.Update(ctx, schema.ConversionTask, docID, map[string]any{
		"status":     string(status),
		"progress":   clampProgress(progress),
		"message":    message,
		"updated_at": now.Format(timeLayout),
		"expires_at": now.Add(d.retention).Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	return nil
}

// Read implements Recorder.
func (d *DefraRecorder) Read(ctx context.Context, taskID string) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	docID, rec, err := d.find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Expired(d.now()) {
		if err := d.client.Delete(ctx, schema.ConversionTask, docID); err != nil {
			d.logger.Warn("failed to remove expired task", "task_id", taskID, "error", err)
		}
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete implements Recorder.
func (d *DefraRecorder) Delete(ctx context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	docID, rec, err := d.find(ctx, taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return d.client.Delete(ctx, schema.ConversionTask, docID)
}

// Sweep deletes every expired record and returns the IDs of removed tasks.
func (d *DefraRecorder) Sweep(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := defra.NewQuery(schema.ConversionTask).
		FilterLT("expires_at", d.now().UTC().Format(timeLayout)).
		Fields("task_id").
		Execute(ctx, d.client)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired tasks: %w", err)
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("query expired tasks: %s", errMsg)
	}

	var removed []string
	for _, doc := range resp.Documents(schema.ConversionTask) {
		docID, _ := doc["_docID"].(string)
		taskID, _ := doc["task_id"].(string)
		if err := d.client.Delete(ctx, schema.ConversionTask, docID); err != nil {
			return removed, fmt.Errorf("failed to delete expired task %s: %w", taskID, err)
		}
		removed = append(removed, taskID)
	}
	return removed, nil
}

// find returns the document ID and record for taskID, or a nil record when
// none is stored.
func (d *DefraRecorder) find(ctx context.Context, taskID string) (string, *Record, error) {
	resp, err := defra.NewQuery(schema.ConversionTask).
		Filter("task_id", taskID).
		Fields(recordFields...).
		Limit(1).
		Execute(ctx, d.client)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query task %s: %w", taskID, err)
	}
	if errMsg := resp.Error(); errMsg != "" {
		return "", nil, fmt.Errorf("query task %s: %s", taskID, errMsg)
	}

	docs := resp.Documents(schema.ConversionTask)
	if len(docs) == 0 {
		return "", nil, nil
	}
	docID, _ := docs[0]["_docID"].(string)
	rec := decodeRecord(docs[0])
	return docID, &rec, nil
}

func encodeRecord(rec Record) map[string]any {
	return map[string]any{
		"task_id":    rec.TaskID,
		"source_url": rec.SourceURL,
		"title":      rec.Title,
		"status":     string(rec.Status),
		"progress":   rec.Progress,
		"message":    rec.Message,
		"created_at": rec.CreatedAt.UTC().Format(timeLayout),
		"updated_at": rec.UpdatedAt.UTC().Format(timeLayout),
		"expires_at": rec.ExpiresAt.UTC().Format(timeLayout),
	}
}

func decodeRecord(doc map[string]any) Record {
	str := func(key string) string {
		s, _ := doc[key].(string)
		return s
	}
	ts := func(key string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, str(key))
		return t
	}

	var progress int
	switch p := doc["progress"].(type) {
	case float64:
		progress = int(p)
	case int:
		progress = p
	}

	return Record{
		TaskID:    str("task_id"),
		SourceURL: str("source_url"),
		Title:     str("title"),
		Status:    Status(str("status")),
		Progress:  progress,
		Message:   str("message"),
		CreatedAt: ts("created_at"),
		UpdatedAt: ts("updated_at"),
		ExpiresAt: ts("expires_at"),
	}
}
