package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the analysis engine.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal      *prometheus.CounterVec
	TaskDuration    prometheus.Histogram
	TasksInFlight   prometheus.Gauge
	TriageDecisions *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	Detections      *prometheus.CounterVec
	Hostcalls       prometheus.Counter
	LimitedCalls    *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	FilesSkipped    prometheus.Counter
}

// NewMetrics registers the engine collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_tasks_total",
				Help: "Analysis tasks by verdict",
			},
			[]string{"verdict"},
		),
		TaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbox_task_duration_seconds",
				Help:    "Wall time of one analysis task",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_tasks_in_flight",
				Help: "Analysis tasks currently running",
			},
		),
		TriageDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_triage_decisions_total",
				Help: "Script blocks by triage path",
			},
			[]string{"path"},
		),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_execution_outcomes_total",
				Help: "Script blocks by execution outcome",
			},
			[]string{"outcome"},
		),
		Detections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_detections_total",
				Help: "Reported detections by severity label",
			},
			[]string{"label"},
		),
		Hostcalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbox_hostcalls_total",
				Help: "Instrumented host API calls made by analyzed scripts",
			},
		),
		LimitedCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_limited_hostcalls_total",
				Help: "Tasks in which a host API hit the call ceiling",
			},
			[]string{"function"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_cache_lookups_total",
				Help: "Verdict cache lookups by result",
			},
			[]string{"result"},
		),
		FilesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbox_files_skipped_total",
				Help: "Files refused by the collector",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening.", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
