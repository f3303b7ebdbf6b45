// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/streamz/internal/engine"
)

// Collector records engine notifications. It implements engine.Observer.
//
// Each Collector owns its registry, so several engines (or tests) in one
// process never collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	runsStarted    prometheus.Counter
	sourcesRunning prometheus.Gauge
	sourceFinished *prometheus.CounterVec
	emissions      *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	skippedPeriods *prometheus.CounterVec
	runs           *prometheus.CounterVec
	batchItems     prometheus.Histogram
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector creates a collector whose metrics are prefixed by namespace.
// Go runtime and process metrics are registered alongside.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Engine runs started",
		}),
		sourcesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_running",
			Help:      "Number of sources currently running",
		}),
		sourceFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_finished_total",
			Help:      "Sources that returned, by outcome",
		}, []string{"source", "outcome"}),
		emissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_total",
			Help:      "Values emitted into the graph, by source",
		}, []string{"source"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_flushes_total",
			Help:      "Timed buffer flushes, by timer index",
		}, []string{"timer"}),
		skippedPeriods: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_skipped_periods_total",
			Help:      "Timer periods skipped because the engine fell behind",
		}, []string{"timer"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Engine runs, by terminal state",
		}, []string{"state"}),
		batchItems: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_items",
			Help:      "Items per flushed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (c *Collector) Started(runID string) {
	c.runsStarted.Inc()
}

func (c *Collector) SourceStarted(label string) {
	c.sourcesRunning.Inc()
}

func (c *Collector) SourceFinished(label string, err error) {
	c.sourcesRunning.Dec()
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	c.sourceFinished.WithLabelValues(label, outcome).Inc()
}

func (c *Collector) Emitted(label string) {
	c.emissions.WithLabelValues(label).Inc()
}

func (c *Collector) Flushed(timer, skipped int) {
	id := strconv.Itoa(timer)
	c.flushes.WithLabelValues(id).Inc()
	if skipped > 0 {
		c.skippedPeriods.WithLabelValues(id).Add(float64(skipped))
	}
}

// Stopped records the run outcome. Abandoned sources no longer count as
// running.
func (c *Collector) Stopped(state engine.State) {
	c.sourcesRunning.Set(0)
	c.runs.WithLabelValues(state.String()).Inc()
}

// ObserveBatch records the size of one flushed batch.
func (c *Collector) ObserveBatch(items int) {
	c.batchItems.Observe(float64(items))
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
