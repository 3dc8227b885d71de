package task

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder keeps records in process memory. Records do not survive a
// restart, which suits one-shot CLI conversions and tests.
type MemoryRecorder struct {
	mu        sync.Mutex
	records   map[string]Record
	history   map[string][]Record
	retention time.Duration
	now       func() time.Time
}

// NewMemoryRecorder creates an empty recorder. A non-positive retention uses
// DefaultRetention.
func NewMemoryRecorder(retention time.Duration) *MemoryRecorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryRecorder{
		records:   make(map[string]Record),
		history:   make(map[string][]Record),
		retention: retention,
		now:       time.Now,
	}
}

// SetClock replaces the recorder's time source.
func (m *MemoryRecorder) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create implements Recorder.
func (m *MemoryRecorder) Create(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.records[rec.TaskID]; ok && !existing.Expired(now) {
		return ErrExists
	}

	rec.Progress = clampProgress(rec.Progress)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(m.retention)
	m.records[rec.TaskID] = rec
	m.history[rec.TaskID] = []Record{rec}
	return nil
}

// Write implements Recorder.
func (m *MemoryRecorder) Write(ctx context.Context, taskID string, status Status, progress int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[taskID]
	if ok && rec.Expired(now) {
		delete(m.records, taskID)
		delete(m.history, taskID)
		ok = false
	}
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminal
	}

	rec.Status = status
	rec.Progress = clampProgress(progress)
	rec.Message = message
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(m.retention)
	m.records[taskID] = rec
	m.history[taskID] = append(m.history[taskID], rec)
	return nil
}

// Read implements Recorder.
func (m *MemoryRecorder) Read(ctx context.Context, taskID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Expired(m.now()) {
		delete(m.records, taskID)
		delete(m.history, taskID)
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Delete implements Recorder.
func (m *MemoryRecorder) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, taskID)
	delete(m.history, taskID)
	return nil
}

// History returns every state the task has been in, oldest first.
func (m *MemoryRecorder) History(taskID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.history[taskID]))
	copy(out, m.history[taskID])
	return out
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Sweep deletes every expired record and returns the IDs of removed tasks.
func (m *MemoryRecorder) Sweep(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed []string
	for id, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, id)
			delete(m.history, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}
