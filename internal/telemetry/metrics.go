// Package telemetry wires prometheus/client_golang metrics and an
// OpenTelemetry tracer provider for the sandbox session manager,
// grounded on the teacher's internal/observability MetricsCollector
// shape (config-driven, safe to call when disabled).
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/agent-infra/sandboxd/internal/logging"
)

// MetricsConfig controls whether metrics are collected and served.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// Collector exposes the active-sessions gauge, eviction counter, and
// exec-duration histogram consumed by the lifecycle controller and
// reaper (spec §4.4, §4.5). A disabled collector's methods are no-ops.
type Collector struct {
	enabled bool
	logger  logging.Logger

	registry *prometheus.Registry
	server   *http.Server

	activeSessions  prometheus.Gauge
	reaperEvictions prometheus.Counter
	execDuration    prometheus.Histogram
	engineErrors    *prometheus.CounterVec

	// meterProvider and the instruments below mirror the Prometheus
	// series through OpenTelemetry's metrics API. The provider is built
	// with no reader or exporter attached, so these recordings are not
	// exported anywhere; only the Prometheus series are served.
	meterProvider    *sdkmetric.MeterProvider
	otelActiveGauge  otelmetric.Int64Gauge
	otelEvictions    otelmetric.Int64Counter
	otelExecDuration otelmetric.Float64Histogram
}

// NewCollector builds a Collector. When cfg.Enabled is false every
// reporting method becomes a no-op and no HTTP server is started.
func NewCollector(cfg MetricsConfig, logger logging.Logger) (*Collector, error) {
	c := &Collector{enabled: cfg.Enabled, logger: logging.OrNop(logger)}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Name:      "active_sessions",
		Help:      "Number of sessions currently tracked in the session table.",
	})
	c.reaperEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Name:      "reaper_evictions_total",
		Help:      "Total number of sessions evicted by the TTL reaper.",
	})
	c.execDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Name:      "exec_duration_seconds",
		Help:      "Duration of code/command executions inside sandbox containers.",
		Buckets:   prometheus.DefBuckets,
	})
	c.engineErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Name:      "engine_errors_total",
		Help:      "Total engine-client errors by operation.",
	}, []string{"operation"})

	c.registry.MustRegister(c.activeSessions, c.reaperEvictions, c.execDuration, c.engineErrors)

	c.meterProvider = sdkmetric.NewMeterProvider()
	meter := c.meterProvider.Meter("sandboxd")
	if gauge, err := meter.Int64Gauge("sandboxd.active_sessions", otelmetric.WithDescription("Number of sessions currently tracked in the session table.")); err == nil {
		c.otelActiveGauge = gauge
	} else {
		c.logger.Warn("otel active_sessions instrument setup failed: %v", err)
	}
	if counter, err := meter.Int64Counter("sandboxd.reaper_evictions", otelmetric.WithDescription("Total number of sessions evicted by the TTL reaper.")); err == nil {
		c.otelEvictions = counter
	} else {
		c.logger.Warn("otel reaper_evictions instrument setup failed: %v", err)
	}
	if hist, err := meter.Float64Histogram("sandboxd.exec_duration_seconds", otelmetric.WithDescription("Duration of code/command executions inside sandbox containers.")); err == nil {
		c.otelExecDuration = hist
	} else {
		c.logger.Warn("otel exec_duration instrument setup failed: %v", err)
	}

	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
		c.server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
		go func() {
			if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server stopped: %v", err)
			}
		}()
	}

	return c, nil
}

// SetActiveSessions implements lifecycle.Metrics.
func (c *Collector) SetActiveSessions(n int) {
	if !c.enabled {
		return
	}
	c.activeSessions.Set(float64(n))
	if c.otelActiveGauge != nil {
		c.otelActiveGauge.Record(context.Background(), int64(n))
	}
}

// ObserveExecDuration implements lifecycle.Metrics.
func (c *Collector) ObserveExecDuration(seconds float64) {
	if !c.enabled {
		return
	}
	c.execDuration.Observe(seconds)
	if c.otelExecDuration != nil {
		c.otelExecDuration.Record(context.Background(), seconds)
	}
}

// IncEvictions implements reaper.Metrics.
func (c *Collector) IncEvictions(n int) {
	if !c.enabled || n <= 0 {
		return
	}
	c.reaperEvictions.Add(float64(n))
	if c.otelEvictions != nil {
		c.otelEvictions.Add(context.Background(), int64(n))
	}
}

// IncEngineError records an engine-client failure by operation name, for
// operator dashboards watching engine health alongside EngineUnavailable
// responses.
func (c *Collector) IncEngineError(operation string) {
	if !c.enabled {
		return
	}
	c.engineErrors.WithLabelValues(operation).Inc()
}

// Shutdown tears down the metrics HTTP server and the OTel meter
// provider, if either was started.
func (c *Collector) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if c.server != nil {
		err = c.server.Shutdown(shutdownCtx)
	}
	if c.meterProvider != nil {
		if mpErr := c.meterProvider.Shutdown(shutdownCtx); mpErr != nil && err == nil {
			err = mpErr
		}
	}
	return err
}
