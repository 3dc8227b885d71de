// Package task records the lifecycle of conversion tasks.
package task

import (
	"context"
	"errors"
	"time"
)

// DefaultRetention is how long a record stays readable after it was created.
const DefaultRetention = 24 * time.Hour

// Status is the lifecycle state of a conversion task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned for unknown, deleted, or expired tasks.
	ErrNotFound = errors.New("task not found")
	// ErrExists is returned when creating a task whose ID is already live.
	ErrExists = errors.New("task already exists")
	// ErrTerminal is returned when writing to a completed or failed task.
	ErrTerminal = errors.New("task already finished")
)

// Record is the observable state of one task.
type Record struct {
	TaskID    string    `json:"task_id"`
	SourceURL string    `json:"source_url"`
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record's retention has lapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Recorder stores task records. Implementations must be safe for concurrent
// use and must apply writes for one task in call order.
type Recorder interface {
	// Create stores a new record, stamping its timestamps and expiry.
	Create(ctx context.Context, rec Record) error
	// Write merges status, progress and message onto the record created by
	// Create. A deleted or expired record is not recreated: ErrNotFound.
	// Writes to a terminal record fail with ErrTerminal.
	Write(ctx context.Context, taskID string, status Status, progress int, message string) error
	// Read returns the record or ErrNotFound. Expired records are removed.
	Read(ctx context.Context, taskID string) (*Record, error)
	// Delete removes the record. Deleting an unknown task is not an error.
	Delete(ctx context.Context, taskID string) error
}

// Sweeper is implemented by recorders that can purge expired records in bulk.
type Sweeper interface {
	// Sweep deletes expired records and returns the removed task IDs.
	Sweep(ctx context.Context) ([]string, error)
}

// clampProgress keeps progress within 0..100.
func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
