// Package metrics holds the Prometheus instrumentation surface. One
// Registry instance is wired through the scheduler and the HTTP layer;
// everything registers on a private registry so tests can build as many
// as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all commercesignal metrics.
type Registry struct {
	reg *prometheus.Registry

	// Scrape pass metrics
	PassRuns     *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec
	PassProducts *prometheus.CounterVec

	// Alert metrics
	AlertsFired prometheus.Counter

	// HTTP metrics
	HTTPDuration *prometheus.HistogramVec
}

// New builds a registry with every metric registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		PassRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercesignal_pass_runs_total",
				Help: "Scrape passes finished, by platform, kind and outcome",
			},
			[]string{"platform", "kind", "outcome"},
		),

		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commercesignal_pass_duration_seconds",
				Help:    "Duration of one scrape pass in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"platform", "kind"},
		),

		PassProducts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercesignal_pass_products_total",
				Help: "Products handled per pass, by platform, kind and result",
			},
			[]string{"platform", "kind", "result"},
		),

		AlertsFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commercesignal_alerts_fired_total",
				Help: "Alert events persisted across all subscriptions",
			},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commercesignal_http_request_duration_seconds",
				Help:    "API request latency by route, method and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "code"},
		),
	}
	r.reg.MustRegister(r.PassRuns, r.PassDuration, r.PassProducts, r.AlertsFired, r.HTTPDuration)
	return r
}

// ObservePass records the outcome counters for one finished scrape pass.
func (r *Registry) ObservePass(platform, kind string, stored, duplicates, errs, alerts int, skipped bool, d time.Duration) {
	outcome := "ok"
	switch {
	case skipped:
		outcome = "skipped"
	case errs > 0:
		outcome = "partial"
	}
	r.PassRuns.WithLabelValues(platform, kind, outcome).Inc()
	r.PassDuration.WithLabelValues(platform, kind).Observe(d.Seconds())
	r.PassProducts.WithLabelValues(platform, kind, "stored").Add(float64(stored))
	r.PassProducts.WithLabelValues(platform, kind, "duplicate").Add(float64(duplicates))
	r.PassProducts.WithLabelValues(platform, kind, "error").Add(float64(errs))
	r.AlertsFired.Add(float64(alerts))
}

// ObserveHTTP records one finished API request.
func (r *Registry) ObserveHTTP(route, method string, code int, d time.Duration) {
	r.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
