package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conclave-ai/conclave/internal/observability"
	"github.com/conclave-ai/conclave/internal/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: the long-running core with the
// cron scheduler, task runner, and metrics endpoint.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the long-running agent core",
		Long: `Run the long-running agent core: cron jobs fire agent turns through
the same routing/failover pipeline as interactive messages, scheduled
tasks execute step by step, and Prometheus metrics are served on the
configured metrics port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.flush()

			c.slogger.Info("starting conclave core", "config", path)
			return runServe(cmd, c)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, c *core) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	var tracerShutdown func(context.Context) error
	if c.cfg.Observability.Tracing.Enabled {
		_, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "conclave",
			ServiceVersion: version,
			Environment:    c.cfg.Observability.Tracing.Environment,
			Endpoint:       c.cfg.Observability.Tracing.Endpoint,
			SamplingRate:   c.cfg.Observability.Tracing.SamplingRate,
		})
		tracerShutdown = shutdown
	}

	// Cron: durable scheduled turns fire through the same board-routing
	// pipeline as interactive messages.
	scheduler, err := cronSchedulerFor(c)
	if err != nil {
		return fmt.Errorf("cron scheduler: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	// Scheduled tasks: multi-step plans paced by the task scheduler.
	executor := tasks.NewAgentExecutor(c.runtime, c.store, tasks.AgentExecutorConfig{Logger: c.slogger})
	taskScheduler := tasks.NewScheduler(c.taskStore, executor, tasks.SchedulerConfig{})
	if err := taskScheduler.Start(ctx); err != nil {
		return fmt.Errorf("start task scheduler: %w", err)
	}

	// Metrics endpoint.
	metricsAddr := fmt.Sprintf("%s:%d", c.cfg.Server.Host, c.cfg.Server.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	server := &http.Server{Addr: metricsAddr, Handler: withHTTPMetrics(metrics, mux)}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.slogger.Error("metrics server failed", "error", err)
		}
	}()
	c.slogger.Info("metrics listening", "addr", metricsAddr)

	<-ctx.Done()
	c.slogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		c.slogger.Warn("cron scheduler stop", "error", err)
	}
	if err := taskScheduler.Stop(shutdownCtx); err != nil {
		c.slogger.Warn("task scheduler stop", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.slogger.Warn("metrics server shutdown", "error", err)
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			c.slogger.Warn("tracer shutdown", "error", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

// withHTTPMetrics records request counts and latency for the admin mux.
func withHTTPMetrics(m *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.RecordHTTPRequest(r.Method, r.URL.Path, "200", time.Since(start).Seconds())
	})
}
