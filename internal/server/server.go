package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/epubify/internal/api"
	"github.com/jackzampolin/epubify/internal/config"
	"github.com/jackzampolin/epubify/internal/convert"
	"github.com/jackzampolin/epubify/internal/crawl"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/home"
	"github.com/jackzampolin/epubify/internal/jobs"
	"github.com/jackzampolin/epubify/internal/server/endpoints"
	"github.com/jackzampolin/epubify/internal/svcctx"
	"github.com/jackzampolin/epubify/internal/task"

	_ "github.com/jackzampolin/epubify/docs/swagger"
)

// Server is the main epubify HTTP server.
// With the defra backend it manages the DefraDB container lifecycle,
// starting it on server start and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	store        *defra.Container // nil with the memory backend
	defraClient  *defra.Client
	configMgr    *config.Manager
	home         *home.Dir
	logger       *slog.Logger

	cfg       *config.Config
	scheduler *jobs.Scheduler
	service   *convert.Service

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu         sync.RWMutex
	running    bool
	homeLocked bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the epubify home directory holding archives and DefraDB data
	Home *home.Dir
	// Defra holds the task store container settings
	Defra defra.ContainerConfig
	// ConfigManager provides configuration with hot-reload support.
	// Without one, config.DefaultConfig is used.
	ConfigManager *config.Manager
	// Backend overrides store.backend from the configuration
	Backend string
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		dir, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = dir
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}
	if cfg.Backend != "" {
		appCfg.Store.Backend = cfg.Backend
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
		cfg:       appCfg,
	}

	if appCfg.Store.Backend == config.BackendDefra {
		if cfg.Defra.DataPath == "" {
			cfg.Defra.DataPath = cfg.Home.DefraPath()
		}
		store, err := defra.NewContainer(cfg.Defra)
		if err != nil {
			return nil, fmt.Errorf("failed to create task store container: %w", err)
		}
		s.store = store
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{Store: s.store}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the task store, the conversion workers and the HTTP server.
// It blocks until the context is cancelled or an error occurs.
// If an existing DefraDB container exists, it validates the configuration matches.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return err
	}
	if err := s.claimHome(); err != nil {
		s.setNotRunning()
		return err
	}

	recorder, err := s.startStore(ctx)
	if err != nil {
		s.stopStore()
		s.setNotRunning()
		return err
	}

	converter, err := convert.NewConverter(convert.ConverterConfig{
		Recorder:    recorder,
		Discoverer:  crawl.NewDiscoverer(s.cfg.CrawlOptions(), s.logger),
		Fetcher:     crawl.NewFetcher(s.cfg.CrawlOptions(), s.logger),
		ArchiveDir:  s.home.ArchivesDir(),
		Concurrency: s.cfg.Concurrency(),
		Logger:      s.logger,
	})
	if err != nil {
		s.stopStore()
		s.setNotRunning()
		return err
	}

	s.scheduler = jobs.NewScheduler(jobs.SchedulerConfig{Logger: s.logger, QueueSize: s.cfg.Tasks.QueueSize})
	s.service, err = convert.NewService(convert.ServiceConfig{
		Recorder:  recorder,
		Converter: converter,
		Queue:     s.scheduler,
		Logger:    s.logger,
	})
	if err != nil {
		s.stopStore()
		s.setNotRunning()
		return err
	}

	// Crawl settings apply to tasks started after a config change
	if s.configMgr != nil {
		s.configMgr.OnChange(func(c *config.Config) {
			converter.Reconfigure(c.CrawlOptions(), c.Concurrency())
			s.logger.Info("crawl settings reloaded from config")
		})
	}

	// Workers outlive the HTTP server so in-flight requests can still enqueue
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	s.scheduler.RunWorkers(workerCtx, s.cfg.Tasks.Workers)
	go s.service.RunSweeper(workerCtx, s.cfg.SweepInterval())

	// Create services struct for context enrichment
	s.mu.Lock()
	s.services = &svcctx.Services{
		DefraClient: s.defraClient,
		Recorder:    recorder,
		Converter:   s.service,
		Scheduler:   s.scheduler,
		Logger:      s.logger,
		Backend:     s.cfg.Store.Backend,
	}
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr, "store", s.cfg.Store.Backend)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	s.shutdown(stopWorkers)
	return serveErr
}

// startStore brings up the configured task store and returns its recorder.
func (s *Server) startStore(ctx context.Context) (task.Recorder, error) {
	retention := s.cfg.Retention()
	if s.store == nil {
		s.logger.Info("using in-memory task store")
		return task.NewMemoryRecorder(retention), nil
	}

	recorder, err := task.OpenDefra(ctx, s.store, retention, s.logger)
	if err != nil {
		return nil, err
	}
	s.defraClient = recorder.Client()
	return recorder, nil
}

// shutdown stops accepting requests, lets the workers record the fate of
// their tasks, and only then stops the store.
func (s *Server) shutdown(stopWorkers context.CancelFunc) {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	stopWorkers()
	s.scheduler.Wait()

	s.stopStore()
	s.setNotRunning()
	s.logger.Info("server stopped")
}

func (s *Server) stopStore() {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("stopping DefraDB", "container", s.store.Name())
	if err := s.store.Stop(ctx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("docker client close error", "error", err)
	}
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	claimed := s.homeLocked
	s.homeLocked = false
	s.mu.Unlock()

	if claimed {
		s.home.Unlock()
	}
}

// claimHome locks the home directory for this server. A live server from
// another process on the same home is an error.
func (s *Server) claimHome() error {
	if err := s.home.Lock(); err != nil {
		return err
	}
	s.mu.Lock()
	s.homeLocked = true
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// DefraClient returns the DefraDB client.
// Returns nil with the memory backend or before the server has started.
func (s *Server) DefraClient() *defra.Client {
	return s.defraClient
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the endpoint registry.
func (s *Server) Registry() *api.Registry {
	return s.endpointRegistry
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.currentServices(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the task store and scheduler are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentServices() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
