// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/markb/pgcall/internal/log"
	"github.com/markb/pgcall/internal/observability"
	"github.com/markb/pgcall/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve function descriptors and calls over HTTP",
	Long:  `Starts an HTTP server exposing GET and POST /rpc/{schema}/{name}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		host, _ := cmd.Flags().GetString("host")
		cfg := buildServerConfig(cmd)

		if cfg.JWTSecret == "" {
			log.Warn("no JWT secret configured, /rpc routes are unauthenticated")
		}

		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		tel, cleanup, err := observability.Init(cmd.Context(), buildTelemetryConfig(cmd))
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer cleanup()
		if tel.Config().ShouldEnable() {
			cfg.Telemetry = tel
		}

		srv := server.New(database, cfg)
		addr := fmt.Sprintf("%s:%d", host, port)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting pgcall server", "addr", addr, "aggregates", len(cfg.AllowedAggregates))
			errCh <- srv.ListenAndServe(addr)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// buildServerConfig creates a server.Config from environment variables and CLI flags.
// Priority: CLI flags > environment variables > defaults
func buildServerConfig(cmd *cobra.Command) server.Config {
	var cfg server.Config

	if aggs := os.Getenv("PGCALL_AGGREGATES"); aggs != "" {
		cfg.AllowedAggregates = splitList(aggs)
	}
	cfg.JWTSecret = os.Getenv("PGCALL_JWT_SECRET")

	if aggs, _ := cmd.Flags().GetStringArray("aggregate"); len(aggs) > 0 {
		cfg.AllowedAggregates = aggs
	}
	return cfg
}

// buildTelemetryConfig creates an observability.Config from environment
// variables and CLI flags. Priority: CLI flags > environment variables > defaults
func buildTelemetryConfig(cmd *cobra.Command) *observability.Config {
	cfg := observability.NewConfig()

	if v := os.Getenv("PGCALL_OTEL_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("PGCALL_OTEL_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("PGCALL_OTEL_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("PGCALL_OTEL_SAMPLE_RATE"), 64); err == nil {
		cfg.SampleRate = v
	}
	if v, err := strconv.ParseBool(os.Getenv("PGCALL_OTEL_METRICS")); err == nil {
		cfg.MetricsEnabled = v
	}
	if v, err := strconv.ParseBool(os.Getenv("PGCALL_OTEL_TRACES")); err == nil {
		cfg.TracesEnabled = v
	}

	flags := cmd.Flags()
	if flags.Changed("otel-exporter") {
		cfg.Exporter, _ = flags.GetString("otel-exporter")
	}
	if flags.Changed("otel-endpoint") {
		cfg.Endpoint, _ = flags.GetString("otel-endpoint")
	}
	if flags.Changed("otel-sample-rate") {
		cfg.SampleRate, _ = flags.GetFloat64("otel-sample-rate")
	}
	if flags.Changed("otel-metrics") {
		cfg.MetricsEnabled, _ = flags.GetBool("otel-metrics")
	}
	if flags.Changed("otel-traces") {
		cfg.TracesEnabled, _ = flags.GetBool("otel-traces")
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("otel-exporter", "none", "OpenTelemetry exporter: none, stdout, or otlp")
	serveCmd.Flags().String("otel-endpoint", "localhost:4317", "OTLP collector endpoint")
	serveCmd.Flags().Float64("otel-sample-rate", 0.1, "Trace sampling rate (0.0 to 1.0)")
	serveCmd.Flags().Bool("otel-metrics", false, "Export request and function call metrics")
	serveCmd.Flags().Bool("otel-traces", false, "Export request and function call traces")
	serveCmd.Flags().StringArray("aggregate", nil, "Running aggregate expression callers may request (repeatable, env PGCALL_AGGREGATES separated by ;)")
}
