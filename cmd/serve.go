package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"metricboard/internal/telemetry"
	"metricboard/web"
)

const shutdownTimeout = 10 * time.Second

// Spreadsheet imports run from milliseconds to tens of seconds.
var importDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API for dashboards and spreadsheet imports",
	Long: `Start an HTTP server exposing the dashboard, import and batch audit API.

Endpoints:
- GET    /api/metric-types
- GET    /api/dashboard/{subject}?start=YYYY-MM-DD&end=YYYY-MM-DD
- POST   /api/import (multipart: metric_type, file, actor)
- GET    /api/batches, /api/batches/{id}
- DELETE /api/batches/{id}
- GET    /healthz, /metrics`,
	Example: `
  # Start on the configured port (server.port, default 8080)
  metricboard serve

  # Start with explicit db and port
  metricboard serve --db ./metricboard.db --port 9090

  # Upload a spreadsheet
  curl -F metric_type=tma -F actor=alice -F file=@tma.xlsx http://localhost:8080/api/import
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		registry, imports, requests, err := newServeRegistry()
		if err != nil {
			return err
		}

		port := env.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		server := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: web.NewServer(env.store, *env.cfg,
				web.WithLogger(env.logger),
				web.WithMetrics(registry, imports, requests),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		env.logger.Info("listening",
			zap.String("addr", server.Addr),
			zap.String("database", env.cfg.Database.Path),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case sig := <-sigCh:
			env.logger.Info("shutting down", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			err := <-errCh
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	},
}

// newServeRegistry registers process, Go runtime and application collectors
// on a fresh registry.
func newServeRegistry() (*prometheus.Registry, *telemetry.ImportMetrics, *telemetry.HTTPMetrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, nil, nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, nil, nil, fmt.Errorf("register process collector: %w", err)
	}
	imports, err := telemetry.NewImportMetrics(registry, telemetry.WithHistogramBuckets(importDurationBuckets))
	if err != nil {
		return nil, nil, nil, err
	}
	requests, err := telemetry.NewHTTPMetrics(registry)
	if err != nil {
		return nil, nil, nil, err
	}
	return registry, imports, requests, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port (overrides server.port from config)")
}
