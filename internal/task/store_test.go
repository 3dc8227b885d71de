package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeContainer struct {
	url     string
	err     error
	ensured int
}

func (c *fakeContainer) Ensure(ctx context.Context) error {
	c.ensured++
	return c.err
}

func (c *fakeContainer) URL() string { return c.url }

func TestOpenDefra(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeDefra(t)
	store := &fakeContainer{url: client.URL()}

	rec, err := OpenDefra(ctx, store, time.Hour, nil)
	if err != nil {
		t.Fatalf("OpenDefra() error = %v", err)
	}
	if store.ensured != 1 {
		t.Errorf("Ensure() called %d times", store.ensured)
	}
	if rec.Client().URL() != client.URL() {
		t.Errorf("Client().URL() = %q, want %q", rec.Client().URL(), client.URL())
	}
	if len(fake.schemas) != 1 || !strings.Contains(fake.schemas[0], "type ConversionTask") {
		t.Fatalf("schemas applied = %q", fake.schemas)
	}

	if err := rec.Create(ctx, Record{TaskID: "t", Status: StatusPending}); err != nil {
		t.Fatalf("Create() through opened store error = %v", err)
	}

	// A second open finds the collection in place.
	if _, err := OpenDefra(ctx, store, time.Hour, nil); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if len(fake.schemas) != 1 || fake.count() != 1 {
		t.Errorf("reopen changed the store: %d schemas, %d records", len(fake.schemas), fake.count())
	}
}

func TestOpenDefra_ContainerFails(t *testing.T) {
	boom := errors.New("docker is not running")
	_, err := OpenDefra(context.Background(), &fakeContainer{err: boom}, 0, nil)
	if !errors.Is(err, boom) {
		t.Errorf("OpenDefra() error = %v, want wrapped container error", err)
	}
}

func TestOpenDefra_Unhealthy(t *testing.T) {
	_, err := OpenDefra(context.Background(), &fakeContainer{url: "http://127.0.0.1:1"}, 0, nil)
	if err == nil || !strings.Contains(err.Error(), "health check") {
		t.Errorf("OpenDefra() error = %v, want health check failure", err)
	}
}
