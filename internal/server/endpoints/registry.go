package endpoints

import (
	"github.com/jackzampolin/epubify/internal/api"
	"github.com/jackzampolin/epubify/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// Store is the task store container, nil with the memory backend
	Store *defra.Container
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&RootEndpoint{},
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{Store: cfg.Store},

		// Task endpoints
		&ConvertEndpoint{},
		&TaskStatusEndpoint{},
		&DownloadEndpoint{},
		&DeleteTaskEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
