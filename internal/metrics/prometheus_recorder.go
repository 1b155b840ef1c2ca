package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	cycleDuration   *prom.HistogramVec
	syncDuration    *prom.HistogramVec
	cycleOutcomes   *prom.CounterVec
	restarts        *prom.CounterVec
	remediations    *prom.CounterVec
	retries         *prom.CounterVec
	watchedServices prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.cycleDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "confsync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full watch cycles per service",
			Buckets:   prom.DefBuckets,
		}, []string{"service"})
		pr.syncDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "confsync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of repository sync operations",
			Buckets:   prom.DefBuckets,
		}, []string{"service", "result"})
		pr.cycleOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "confsync",
			Name:      "cycle_outcomes_total",
			Help:      "Cycle outcomes by final status",
		}, []string{"service", "outcome"})
		pr.restarts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "confsync",
			Name:      "restarts_total",
			Help:      "Container restart attempts by result",
		}, []string{"service", "result"})
		pr.remediations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "confsync",
			Name:      "remediations_total",
			Help:      "Auto-fix remediation attempts by result",
		}, []string{"service", "result"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "confsync",
			Name:      "retries_total",
			Help:      "Retried external operations",
		}, []string{"op"})
		pr.watchedServices = prom.NewGauge(prom.GaugeOpts{
			Namespace: "confsync",
			Name:      "watched_services",
			Help:      "Number of services under watch",
		})
		reg.MustRegister(pr.cycleDuration, pr.syncDuration, pr.cycleOutcomes,
			pr.restarts, pr.remediations, pr.retries, pr.watchedServices)
	})
	return pr
}

// HTTPHandler serves the registry over HTTP for scraping.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObserveCycleDuration(service string, d time.Duration) {
	if p == nil || p.cycleDuration == nil {
		return
	}
	p.cycleDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveSyncDuration(service string, d time.Duration, changed bool) {
	if p == nil || p.syncDuration == nil {
		return
	}
	res := "unchanged"
	if changed {
		res = "changed"
	}
	p.syncDuration.WithLabelValues(service, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCycleOutcome(service string, outcome OutcomeLabel) {
	if p == nil || p.cycleOutcomes == nil {
		return
	}
	p.cycleOutcomes.WithLabelValues(service, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncRestart(service string, success bool) {
	if p == nil || p.restarts == nil {
		return
	}
	p.restarts.WithLabelValues(service, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncRemediation(service string, success bool) {
	if p == nil || p.remediations == nil {
		return
	}
	p.remediations.WithLabelValues(service, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncRetry(op string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) SetWatchedServices(n int) {
	if p == nil || p.watchedServices == nil {
		return
	}
	p.watchedServices.Set(float64(n))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
