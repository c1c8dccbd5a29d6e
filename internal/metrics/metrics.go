// Package metrics exposes a Prometheus registry of run/target counters
// and a transfer-duration histogram, served over HTTP when enabled.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector this repository registers. transferd
// constructs one when the exporter is enabled (transferctl builds
// none); there is no package-level global
// registry, so unit tests can build an isolated Metrics without
// colliding on repeated test runs.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	TargetsTotal    *prometheus.CounterVec
	TransferSeconds *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_runs_total",
			Help: "Total number of orchestrator runs by result.",
		}, []string{"result"}),
		TargetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_targets_total",
			Help: "Total number of per-target transfers by result.",
		}, []string{"result"}),
		TransferSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transfer_duration_seconds",
			Help:    "Duration of one target's transfer, start to finish.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
		}, []string{"result"}),
	}
}

// ObserveRun records one completed Supervisor run's overall result.
func (m *Metrics) ObserveRun(result string) {
	m.RunsTotal.WithLabelValues(result).Inc()
}

// ObserveTarget records one target's result and duration.
func (m *Metrics) ObserveTarget(result string, d time.Duration) {
	m.TargetsTotal.WithLabelValues(result).Inc()
	m.TransferSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is canceled, then shuts down gracefully. Mirrors the pack's
// mux.Handle("/metrics", promhttp.Handler()) wiring.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics exporter listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
