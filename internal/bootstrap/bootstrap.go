// Package bootstrap wires sandboxd's components together and runs the
// HTTP server until signalled to stop, in the same thin-main-delegates
// style as the teacher's internal/delivery/server/bootstrap package.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/api"
	"github.com/agent-infra/sandboxd/internal/sandbox/config"
	"github.com/agent-infra/sandboxd/internal/sandbox/engine"
	"github.com/agent-infra/sandboxd/internal/sandbox/lifecycle"
	"github.com/agent-infra/sandboxd/internal/sandbox/reaper"
	"github.com/agent-infra/sandboxd/internal/sandbox/registry"
	"github.com/agent-infra/sandboxd/internal/sandbox/session"
	"github.com/agent-infra/sandboxd/internal/telemetry"
)

// RunServer loads configuration, wires every component (spec §4,
// component diagram), and serves HTTP until the process receives
// SIGINT/SIGTERM, at which point it drains the reaper and sweeps any
// remaining sessions before exiting (spec §4.4 "shutdown").
func RunServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := logging.NewComponentLogger(root, "bootstrap")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.NewCollector(telemetry.MetricsConfig{
		Enabled:        cfg.MetricsEnabled,
		PrometheusPort: cfg.MetricsPort,
	}, logging.NewComponentLogger(root, "telemetry"))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer metrics.Shutdown(context.Background())

	tp := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SampleRate:     cfg.TracingSampleRate,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	}, logging.NewComponentLogger(root, "telemetry"))
	defer tp.Shutdown(context.Background())

	reg := registry.New(cfg.RegistryPath, logging.NewComponentLogger(root, "registry"))
	if err := reg.Load(); err != nil {
		logger.Warn("initial registry load failed, starting with empty catalog: %v", err)
	}

	eng := engine.NewLazy(engine.NewCLIClient())
	table := session.New(cfg.DefaultSessionTTL, cfg.MaxSessionTTL)

	controller := lifecycle.New(reg, eng, table, logging.NewComponentLogger(root, "lifecycle"), metrics, lifecycle.Config{
		MaxOutputLength: cfg.MaxOutputLength,
	})

	r := reaper.New(table, eng, logging.NewComponentLogger(root, "reaper"), metrics, cfg.CleanupInterval, cfg.StopGrace)
	go r.Run(ctx)

	server := api.New(controller, logging.NewComponentLogger(root, "api"))
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("sandboxd listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-serveErrCh:
		stop() // ctx cancellation is the reaper's own signal to stop (spec §5)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown: %v", err)
	}

	r.Wait()
	stopped := r.Sweep(shutdownCtx)
	logger.Info("shutdown sweep complete, stopped %d session(s)", len(stopped))

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
