package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/api"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/jobs"
	"github.com/jackzampolin/epubify/internal/svcctx"
	"github.com/jackzampolin/epubify/version"
)

// BannerResponse identifies the service.
type BannerResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// RootEndpoint handles GET /.
type RootEndpoint struct{}

func (e *RootEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/{$}", e.handler
}

func (e *RootEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Service banner
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	BannerResponse
//	@Router		/ [get]
func (e *RootEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BannerResponse{Message: "AWS Epubify API", Version: version.GitRelease})
}

func (e *RootEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the server banner and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BannerResponse
			if err := client.Get(cmd.Context(), "/", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Store     string     `json:"store,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: &now})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Readiness check
//	@Description	Reports whether the task store can serve requests
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if svcctx.RecorderFrom(r.Context()) == nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "not_initialized"})
		return
	}

	client := svcctx.DefraClientFrom(r.Context())
	if client == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
		return
	}
	if err := client.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the task store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			if resp.Store != "" {
				fmt.Printf("Store:  %s\n", resp.Store)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server string           `json:"server"`
	Store  StoreStatus      `json:"store"`
	Queue  *jobs.StatusInfo `json:"queue,omitempty"`
}

// StoreStatus shows the task store backend and, for DefraDB, its container.
type StoreStatus struct {
	Backend   string `json:"backend"`
	Container string `json:"container,omitempty"`
	Health    string `json:"health"`
	URL       string `json:"url,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// Store is set by server since it's not in Services
	Store *defra.Container
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Task store health and scheduler queue depth
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Server: "running"}

	services := svcctx.ServicesFrom(ctx)
	if services != nil {
		resp.Store.Backend = services.Backend
	}

	if e.Store != nil {
		state, err := e.Store.State(ctx)
		if err != nil {
			resp.Store.Container = "error"
		} else {
			resp.Store.Container = string(state)
		}
		resp.Store.URL = e.Store.URL()
	}

	switch client := svcctx.DefraClientFrom(ctx); {
	case client != nil:
		if err := client.HealthCheck(ctx); err != nil {
			resp.Store.Health = "unhealthy"
		} else {
			resp.Store.Health = "healthy"
		}
	case svcctx.RecorderFrom(ctx) != nil:
		resp.Store.Health = "healthy"
	default:
		resp.Store.Health = "not_initialized"
	}

	if scheduler := svcctx.SchedulerFrom(ctx); scheduler != nil {
		info := scheduler.Status()
		resp.Queue = &info
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status-server",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
