// ============================================================================
// algorun metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
//
// Metric families:
//
//   1. Executions (Counter / Histogram, labelled by algorithm):
//      - algorun_executions_started_total
//      - algorun_executions_succeeded_total
//      - algorun_executions_failed_total
//      - algorun_execution_duration_seconds
//
//   2. Artifact registry:
//      - algorun_artifacts (Gauge): entries currently registered
//      - algorun_artifact_events_total{event} (Counter): added/replaced/removed/renamed/cleared
//
//   3. Task scheduler:
//      - algorun_scheduler_tasks_total{outcome} (Counter): ok/failed
//      - algorun_scheduler_task_duration_seconds (Histogram)
//      - algorun_scheduler_queue_depth (Gauge)
//
// Useful queries:
//
//   # failure ratio per algorithm
//   rate(algorun_executions_failed_total[5m]) / rate(algorun_executions_started_total[5m])
//
//   # p95 execution latency
//   histogram_quantile(0.95, sum by (le, algorithm) (rate(algorun_execution_duration_seconds_bucket[5m])))
//
// A nil *Collector is valid and records nothing, so instrumented code does
// not need to check whether metrics are enabled.
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the algorun metric families.
type Collector struct {
	// executions
	execStarted   *prometheus.CounterVec
	execSucceeded *prometheus.CounterVec
	execFailed    *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec

	// artifact registry
	artifacts      prometheus.Gauge
	artifactEvents *prometheus.CounterVec

	// scheduler
	tasks        *prometheus.CounterVec
	taskDuration prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// NewCollector creates the metric families and registers them with reg. A nil
// reg means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		execStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algorun_executions_started_total",
			Help: "Total number of algorithm executions started",
		}, []string{"algorithm"}),
		execSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algorun_executions_succeeded_total",
			Help: "Total number of algorithm executions that succeeded",
		}, []string{"algorithm"}),
		execFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algorun_executions_failed_total",
			Help: "Total number of algorithm executions that failed",
		}, []string{"algorithm"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "algorun_execution_duration_seconds",
			Help:    "Algorithm execution wall time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"algorithm"}),
		artifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algorun_artifacts",
			Help: "Current number of registered artifacts",
		}),
		artifactEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algorun_artifact_events_total",
			Help: "Artifact registry mutations by event type",
		}, []string{"event"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "algorun_scheduler_tasks_total",
			Help: "Scheduler tasks finished by outcome",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "algorun_scheduler_task_duration_seconds",
			Help:    "Scheduler task run time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "algorun_scheduler_queue_depth",
			Help: "Tasks waiting for a scheduler worker",
		}),
	}

	reg.MustRegister(
		c.execStarted, c.execSucceeded, c.execFailed, c.execDuration,
		c.artifacts, c.artifactEvents,
		c.tasks, c.taskDuration, c.queueDepth,
	)
	return c
}

// RecordExecutionStarted counts an execution entering Running.
func (c *Collector) RecordExecutionStarted(algorithm string) {
	if c == nil {
		return
	}
	c.execStarted.WithLabelValues(algorithm).Inc()
}

// RecordExecutionFinished records the outcome and duration of an execution.
func (c *Collector) RecordExecutionFinished(algorithm string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.execDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
	if err != nil {
		c.execFailed.WithLabelValues(algorithm).Inc()
		return
	}
	c.execSucceeded.WithLabelValues(algorithm).Inc()
}

// RecordArtifactEvent counts a registry mutation and updates the entry gauge.
func (c *Collector) RecordArtifactEvent(event string, entries int) {
	if c == nil {
		return
	}
	c.artifactEvents.WithLabelValues(event).Inc()
	c.artifacts.Set(float64(entries))
}

// RecordTask records one finished scheduler task.
func (c *Collector) RecordTask(elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.tasks.WithLabelValues(outcome).Inc()
	c.taskDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth sets the number of tasks waiting for a worker.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on port until ctx is cancelled.
func StartServer(ctx context.Context, port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
