package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/epubify/internal/config"
	"github.com/jackzampolin/epubify/internal/convert"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/home"
	"github.com/jackzampolin/epubify/internal/server/endpoints"
	"github.com/jackzampolin/epubify/internal/task"
	"github.com/jackzampolin/epubify/internal/testutil"
)

// newDocSite serves a small documentation tree: a root page linking to one
// good page, one missing page, a PDF and an external site.
func newDocSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	html := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><head><title>Docs</title></head><body>
<a href="/guide/intro.html">Intro</a>
<a href="/guide/missing.html">Missing</a>
<a href="/guide/intro.html#setup">Setup</a>
<a href="/files/guide.pdf">PDF</a>
<a href="https://example.com/elsewhere">Elsewhere</a>
</body></html>`)
	})
	mux.HandleFunc("/guide/intro.html", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><head><title>Introduction</title></head><body><nav>menu</nav><main><p>Welcome.</p></main></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, allowedPrefix string) *config.Manager {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`store:
  backend: memory
crawl:
  allowed_prefixes:
    - %s
  timeout_seconds: 5
tasks:
  workers: 2
`, allowedPrefix)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func startServer(t *testing.T, srv *Server, url string) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	if err := testutil.WaitForServer(url, 30*time.Second); err != nil {
		stop()
		t.Fatalf("server did not start: %v", err)
	}

	return func() {
		stop()
		if err := testutil.WaitForShutdown(done, 30*time.Second); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestServer_MemoryLifecycle(t *testing.T) {
	site := newDocSite(t)
	cfg := testutil.NewServerConfig(t)
	dir, _ := home.New(cfg.HomePath)

	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          dir,
		ConfigManager: writeConfig(t, cfg.HomePath, site.URL),
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startServer(t, srv, cfg.URL())
	base := cfg.URL()

	t.Run("home_locked", func(t *testing.T) {
		pid, err := dir.LockOwner()
		if err != nil || pid != os.Getpid() {
			t.Errorf("LockOwner() = %d, %v; want %d", pid, err, os.Getpid())
		}
	})

	t.Run("health_endpoint", func(t *testing.T) {
		var health endpoints.HealthResponse
		if code := getJSON(t, base+"/health", &health); code != http.StatusOK {
			t.Errorf("health status = %d", code)
		}
		if health.Status != "healthy" || health.Timestamp == nil {
			t.Errorf("health = %+v", health)
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		var status endpoints.StatusResponse
		getJSON(t, base+"/status", &status)
		if status.Store.Backend != config.BackendMemory || status.Store.Health != "healthy" {
			t.Errorf("store = %+v", status.Store)
		}
		if status.Queue == nil || status.Queue.Workers != 2 {
			t.Errorf("queue = %+v", status.Queue)
		}
	})

	t.Run("convert_download_delete", func(t *testing.T) {
		body, _ := json.Marshal(convert.SubmitRequest{URL: site.URL + "/", Title: "Local Docs"})
		resp, err := http.Post(base+"/api/convert", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /api/convert: %v", err)
		}
		var queued endpoints.ConvertResponse
		json.NewDecoder(resp.Body).Decode(&queued)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted || queued.TaskID == "" {
			t.Fatalf("convert = %d %+v", resp.StatusCode, queued)
		}

		var view convert.StatusView
		deadline := time.Now().Add(20 * time.Second)
		for {
			getJSON(t, base+"/api/status/"+queued.TaskID, &view)
			if view.Status.Terminal() || time.Now().After(deadline) {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if view.Status != task.StatusCompleted {
			t.Fatalf("task = %+v", view)
		}

		dl, err := http.Get(base + view.DownloadURL)
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		data, _ := io.ReadAll(dl.Body)
		dl.Body.Close()
		if dl.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte("PK")) {
			t.Fatalf("download = %d, %d bytes", dl.StatusCode, len(data))
		}
		if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="Local Docs.epub"`) {
			t.Errorf("Content-Disposition = %q", cd)
		}

		req, _ := http.NewRequest(http.MethodDelete, base+"/api/tasks/"+queued.TaskID, nil)
		del, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		del.Body.Close()
		if del.StatusCode != http.StatusOK {
			t.Errorf("delete status = %d", del.StatusCode)
		}
		if code := getJSON(t, base+"/api/status/"+queued.TaskID, nil); code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404", code)
		}
	})

	t.Run("swagger", func(t *testing.T) {
		var spec map[string]any
		if code := getJSON(t, base+"/swagger.json", &spec); code != http.StatusOK {
			t.Fatalf("swagger status = %d", code)
		}
		paths, _ := spec["paths"].(map[string]any)
		if _, ok := paths["/api/convert"]; !ok {
			t.Errorf("swagger paths = %v", paths)
		}
	})

	stop()

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
		if _, err := os.Stat(dir.PidPath()); !os.IsNotExist(err) {
			t.Errorf("pid file left behind: %v", err)
		}
	})
}

func TestServer_DoubleStart(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	dir, _ := home.New(cfg.HomePath)
	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: dir, Backend: config.BackendMemory, Logger: cfg.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := startServer(t, srv, cfg.URL())
	defer stop()

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestServer_HomeHeldElsewhere(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	dir, _ := home.New(cfg.HomePath)
	// PID 1 is always alive.
	os.WriteFile(dir.PidPath(), []byte("1"), 0o644)

	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: dir, Backend: config.BackendMemory, Logger: cfg.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(context.Background()); !errors.Is(err, home.ErrLocked) {
		t.Fatalf("Start() error = %v, want home.ErrLocked", err)
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after refused start")
	}
	if pid, _ := dir.LockOwner(); pid != 1 {
		t.Errorf("LockOwner() = %d, other server's pid file was replaced", pid)
	}
}

func TestServer_RequireInit(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	dir, _ := home.New(cfg.HomePath)
	srv, err := New(Config{Home: dir, Backend: config.BackendMemory, Logger: cfg.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodPost, "/api/convert", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/status/abc", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`)))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

// TestServer_DefraLifecycle runs the server against a real DefraDB container.
// This test requires Docker to be running.
func TestServer_DefraLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := testutil.NewServerConfig(t).WithDefra(t)
	dir, _ := home.New(cfg.HomePath)

	srv, err := New(Config{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Home:    dir,
		Backend: config.BackendDefra,
		Defra:   cfg.Defra,
		Logger:  cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	serverCtx, serverCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Start(serverCtx) }()

	if err := testutil.WaitForServer(cfg.URL(), 2*time.Minute); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	var status endpoints.StatusResponse
	getJSON(t, cfg.URL()+"/status", &status)
	if status.Store.Backend != config.BackendDefra || status.Store.Health != "healthy" {
		t.Errorf("store = %+v", status.Store)
	}

	body := strings.NewReader(`{"url":"not-a-url"}`)
	resp, err := http.Post(cfg.URL()+"/api/convert", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/convert: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid submit = %d, want 400", resp.StatusCode)
	}

	serverCancel()
	if err := testutil.WaitForShutdown(done, time.Minute); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	store, err := defra.NewContainer(cfg.Defra)
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	defer store.Close()
	if st, err := store.State(ctx); err == nil && st == defra.StateRunning {
		t.Error("DefraDB still running after server shutdown")
	}
}
