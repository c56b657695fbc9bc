package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolgate/internal/aggregator"
	"toolgate/internal/app"
	"toolgate/internal/config"
	"toolgate/internal/metrics"
	"toolgate/internal/uploads"
	"toolgate/pkg/logging"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	serveDebug        bool
	serveHost         string
	servePort         int
	serveTransport    string
	servePollInterval time.Duration
	serveNoWatch      bool
	serveMetricsAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP federation manager",
	Long: `Starts the federation manager: loads the server configuration, connects
every enabled MCP server in the background, and serves the aggregated tool
set over an MCP endpoint.

Configuration:
  The config document is read from $CONFIG_DIR/config.json (default
  /config/config.json). Edits to the file are hot-reloaded. REDIS_URL, when
  set, enables the shared status cache. A .env file in the working directory
  is loaded before anything else.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warn("Serve", "Could not load .env: %v", err)
	}

	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	promReg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(promReg)

	manager := app.NewManager(app.Options{
		ConfigPath:   config.ConfigFilePath(),
		RedisURL:     os.Getenv("REDIS_URL"),
		UploadsDir:   os.Getenv(uploads.DirEnv),
		PollInterval: servePollInterval,
		Sink:         sink,
		WatchConfig:  !serveNoWatch,
		Facade: &aggregator.ServerOptions{
			Host:      serveHost,
			Port:      servePort,
			Transport: serveTransport,
			Version:   rootCmd.Version,
		},
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize manager: %w", err)
	}

	var metricsServer *http.Server
	if serveMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: serveMetricsAddr, Handler: mux}
		go func() {
			logging.Info("Serve", "Serving metrics on %s/metrics", serveMetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Serve", err, "Metrics server error")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logging.Info("Serve", "Received %s, shutting down", sig)
	case <-ctx.Done():
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	manager.Shutdown(context.Background())
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host for the aggregated MCP endpoint")
	serveCmd.Flags().IntVar(&servePort, "port", 8090, "Port for the aggregated MCP endpoint")
	serveCmd.Flags().StringVar(&serveTransport, "transport", aggregator.FacadeStreamableHTTP, "Facade transport (streamable-http or sse)")
	serveCmd.Flags().DurationVar(&servePollInterval, "poll-interval", 0, "Status poll cadence (default 60s)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable config hot reload")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (disabled when empty)")
}
