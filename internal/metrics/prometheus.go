package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quicktex"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	buildDuration *prom.HistogramVec
	buildOutcome  *prom.CounterVec
	changes       *prom.CounterVec
	lastBuild     prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of one script build, evaluation and rendering included",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Script builds by final outcome",
		}, []string{"outcome"})
		pr.changes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "changes_detected_total",
			Help:      "Script changes reported by the active change source",
		}, []string{"kind"})
		pr.lastBuild = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_build_timestamp_seconds",
			Help:      "Unix time at which the most recent build finished",
		})
		reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.changes, pr.lastBuild)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(outcome string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncChangeDetected(kind string) {
	if p == nil || p.changes == nil {
		return
	}
	p.changes.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetLastBuildTimestamp(t time.Time) {
	if p == nil || p.lastBuild == nil {
		return
	}
	p.lastBuild.Set(float64(t.Unix()))
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
