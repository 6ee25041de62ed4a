// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskcron/internal/core"
)

const namespace = "taskcron"

// Collector records runs and cycles. It is attached to the scheduler as an observer.
type Collector struct {
	registry  *prometheus.Registry
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	cycles    *prometheus.CounterVec
	lastCycle prometheus.Gauge
	cycleSize prometheus.Gauge
}

var (
	_ core.Observer      = (*Collector)(nil)
	_ core.CycleObserver = (*Collector)(nil)
)

// New registers the scheduler metrics plus the Go and process collectors on
// a dedicated registry.
func New(version string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions by source kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"kind"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduler cycles by status.",
		}, []string{"status"}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Instant of the most recent completed cycle.",
		}),
		cycleSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_tasks",
			Help:      "Number of due tasks handled by the most recent cycle.",
		}),
	}
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	info.Set(1)
	reg.MustRegister(
		c.runs, c.duration, c.cycles, c.lastCycle, c.cycleSize, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) BeforeRun(context.Context, core.Descriptor) {}

func (c *Collector) AfterRun(_ context.Context, res core.Result) {
	kind := string(res.Task.Kind)
	c.runs.WithLabelValues(kind, string(res.Outcome)).Inc()
	c.duration.WithLabelValues(kind).Observe(res.Duration.Seconds())
}

func (c *Collector) CycleFinished(_ context.Context, report *core.CycleReport) {
	c.cycles.WithLabelValues(string(report.Status)).Inc()
	if report.Status != core.CycleCompleted {
		return
	}
	if report.DryRun {
		for _, res := range report.Results {
			c.runs.WithLabelValues(string(res.Task.Kind), string(res.Outcome)).Inc()
		}
	}
	c.lastCycle.Set(float64(report.Now.Unix()))
	c.cycleSize.Set(float64(len(report.Results)))
}
