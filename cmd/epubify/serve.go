package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/server"
)

var (
	serveHost    string
	servePort    string
	serveBackend string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the epubify server",
	Long: `Start the epubify HTTP server.

With the defra store backend this also starts the DefraDB container and
stops it again when the server shuts down (Ctrl+C or SIGTERM). The memory
backend keeps task records in process and needs no Docker.

The server provides:
  - POST   /api/convert        - Queue a conversion
  - GET    /api/status/{id}    - Poll task progress
  - GET    /api/download/{id}  - Download a finished EPUB
  - DELETE /api/tasks/{id}     - Forget a task and its archive
  - /health, /ready, /status   - Health and readiness checks

Examples:
  epubify serve                     # Start on the configured port
  epubify serve --port 3000         # Start on a custom port
  epubify serve --backend memory    # Run without DefraDB`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		cfgMgr, err := loadConfig(h)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()

		logger := newLogger(os.Stdout, cfg.Logging)
		if file := cfgMgr.ConfigFile(); file != "" {
			logger.Info("loaded config", "file", file)
		}

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		port := strconv.Itoa(cfg.Server.Port)
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			Defra:         storeConfig(h, cfg),
			ConfigManager: cfgMgr,
			Backend:       serveBackend,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides server.port)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Task store backend: defra or memory (overrides store.backend)")

	rootCmd.AddCommand(serveCmd)
}
