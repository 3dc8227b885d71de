package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/epubify/internal/defra"
)

// fakeDefra is an in-memory stand-in for the subset of the DefraDB GraphQL
// API that DefraRecorder uses.
type fakeDefra struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	nextID  int
	schemas []string
}

var (
	createRe = regexp.MustCompile(`create_ConversionTask\(input: (\{.*\})\) \{`)
	updateRe = regexp.MustCompile(`update_ConversionTask\(docID: "([^"]+)", input: (\{.*\})\) \{`)
	deleteRe = regexp.MustCompile(`delete_ConversionTask\(docID: "([^"]+)"\)`)
	keyRe    = regexp.MustCompile(`([{,]\s*)(\w+): `)
)

func newFakeDefra(t *testing.T) (*fakeDefra, *defra.Client) {
	f := &fakeDefra{docs: make(map[string]map[string]any)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health-check":
			w.WriteHeader(http.StatusOK)
		case "/api/v0/schema":
			f.addSchema(w, r)
		default:
			f.serve(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, defra.NewClient(srv.URL)
}

func (f *fakeDefra) addSchema(w http.ResponseWriter, r *http.Request) {
	sdl, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.schemas {
		if s == string(sdl) {
			http.Error(w, "collection already exists", http.StatusBadRequest)
			return
		}
	}
	f.schemas = append(f.schemas, string(sdl))
}

func parseInput(s string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(keyRe.ReplaceAllString(s, `$1"$2": `)), &out); err != nil {
		panic(fmt.Sprintf("bad input %s: %v", s, err))
	}
	return out
}

func (f *fakeDefra) serve(w http.ResponseWriter, r *http.Request) {
	var req defra.GQLRequest
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(key string, v any) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{key: v}})
	}

	switch {
	case createRe.MatchString(req.Query):
		m := createRe.FindStringSubmatch(req.Query)
		f.nextID++
		id := fmt.Sprintf("bae-%d", f.nextID)
		doc := parseInput(m[1])
		doc["_docID"] = id
		f.docs[id] = doc
		reply("create_ConversionTask", []any{map[string]any{"_docID": id}})
	case updateRe.MatchString(req.Query):
		m := updateRe.FindStringSubmatch(req.Query)
		for k, v := range parseInput(m[2]) {
			f.docs[m[1]][k] = v
		}
		reply("update_ConversionTask", []any{map[string]any{"_docID": m[1]}})
	case deleteRe.MatchString(req.Query):
		m := deleteRe.FindStringSubmatch(req.Query)
		delete(f.docs, m[1])
		reply("delete_ConversionTask", []any{map[string]any{"_docID": m[1]}})
	case strings.Contains(req.Query, "task_id: {_eq:"):
		var out []any
		for _, doc := range f.docs {
			if doc["task_id"] == req.Variables["v0"] {
				out = append(out, doc)
			}
		}
		reply("ConversionTask", out)
	case strings.Contains(req.Query, "expires_at: {_lt:"):
		cutoff, _ := req.Variables["v0"].(string)
		var out []any
		for _, doc := range f.docs {
			if exp, _ := doc["expires_at"].(string); exp < cutoff {
				out = append(out, doc)
			}
		}
		reply("ConversionTask", out)
	default:
		json.NewEncoder(w).Encode(map[string]any{"errors": []any{map[string]any{"message": "unsupported query"}}})
	}
}

func (f *fakeDefra) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func TestDefraRecorder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeDefra(t)
	clock := newClock()
	rec := NewDefraRecorder(client, time.Hour, nil)
	rec.SetClock(clock.Now)

	err := rec.Create(ctx, Record{
		TaskID:    "task-1",
		SourceURL: "https://docs.aws.amazon.com/lambda/",
		Title:     "Lambda",
		Status:    StatusPending,
		Message:   "Conversion queued",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := rec.Create(ctx, Record{TaskID: "task-1"}); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create() error = %v, want ErrExists", err)
	}

	clock.Advance(time.Second)
	if err := rec.Write(ctx, "task-1", StatusProcessing, 20, "Extracting documentation links..."); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := rec.Read(ctx, "task-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Status != StatusProcessing || got.Progress != 20 {
		t.Errorf("Read() = %+v", got)
	}
	if got.Title != "Lambda" || got.SourceURL != "https://docs.aws.amazon.com/lambda/" {
		t.Errorf("metadata lost: %+v", got)
	}
	if !got.CreatedAt.Equal(clock.now.Add(-time.Second)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if !got.ExpiresAt.Equal(clock.now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want extended from last write", got.ExpiresAt)
	}

	if err := rec.Write(ctx, "task-1", StatusFailed, 0, "Conversion failed: boom"); err != nil {
		t.Fatalf("Write(failed) error = %v", err)
	}
	if err := rec.Write(ctx, "task-1", StatusCompleted, 100, "late"); !errors.Is(err, ErrTerminal) {
		t.Errorf("Write after terminal error = %v, want ErrTerminal", err)
	}

	if err := rec.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := rec.Read(ctx, "task-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() after delete error = %v", err)
	}
	if fake.count() != 0 {
		t.Errorf("documents left: %d", fake.count())
	}
}

func TestDefraRecorder_ExpiredReadDeletes(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeDefra(t)
	clock := newClock()
	rec := NewDefraRecorder(client, time.Hour, nil)
	rec.SetClock(clock.Now)

	rec.Create(ctx, Record{TaskID: "t", Status: StatusPending})
	clock.Advance(time.Hour)

	if _, err := rec.Read(ctx, "t"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read() error = %v, want ErrNotFound", err)
	}
	if fake.count() != 0 {
		t.Errorf("expired document not removed")
	}
}

func TestDefraRecorder_Sweep(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeDefra(t)
	clock := newClock()
	rec := NewDefraRecorder(client, time.Hour, nil)
	rec.SetClock(clock.Now)

	rec.Create(ctx, Record{TaskID: "early"})
	clock.Advance(45 * time.Minute)
	rec.Create(ctx, Record{TaskID: "late"})
	clock.Advance(30 * time.Minute)

	removed, err := rec.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != "early" {
		t.Errorf("Sweep() = %v, want [early]", removed)
	}
	if _, err := rec.Read(ctx, "late"); err != nil {
		t.Errorf("late should remain: %v", err)
	}
}

func TestDefraRecorder_WriteNeedsRecord(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeDefra(t)
	rec := NewDefraRecorder(client, 0, nil)

	if err := rec.Write(ctx, "fresh", StatusProcessing, 10, "Preparing conversion..."); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Write() on missing task error = %v, want ErrNotFound", err)
	}

	rec.Create(ctx, Record{TaskID: "gone", Status: StatusPending})
	rec.Delete(ctx, "gone")
	if err := rec.Write(ctx, "gone", StatusProcessing, 20, "Extracting documentation links..."); !errors.Is(err, ErrNotFound) {
		t.Errorf("Write() after delete error = %v, want ErrNotFound", err)
	}
	if fake.count() != 0 {
		t.Errorf("Write() recreated %d documents", fake.count())
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 0, 0, 5, time.UTC)
	in := Record{
		TaskID:    "id",
		SourceURL: "https://docs.aws.amazon.com/",
		Status:    StatusCompleted,
		Progress:  100,
		Message:   "done",
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(DefaultRetention),
	}
	doc := encodeRecord(in)
	// JSON numbers arrive as float64.
	doc["progress"] = float64(in.Progress)

	out := decodeRecord(doc)
	if out.TaskID != in.TaskID || out.Status != in.Status || out.Progress != in.Progress {
		t.Errorf("decodeRecord() = %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("timestamps changed: %v / %v", out.CreatedAt, out.ExpiresAt)
	}
}
