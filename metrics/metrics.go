// Package metrics exposes Prometheus metrics for scans, fixes and the HTTP
// surface.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the spikefix metrics. A nil *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	FeaturesScanned prometheus.Counter
	DefectsFound    prometheus.Counter
	ScanDuration    prometheus.Histogram
	FixOutcomes     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	scanned, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spikefix_features_scanned_total",
		Help: "Features visited by the angle scanner.",
	}), "spikefix_features_scanned_total")
	if err != nil {
		return nil, err
	}
	found, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spikefix_defects_found_total",
		Help: "Vertices reported below the minimum angle.",
	}), "spikefix_defects_found_total")
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spikefix_scan_duration_seconds",
		Help:    "Duration of a full scan.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}), "spikefix_scan_duration_seconds")
	if err != nil {
		return nil, err
	}
	outcomes, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spikefix_fix_outcomes_total",
		Help: "Resolved defects, labeled by final status and requested method.",
	}, []string{"status", "method"}), "spikefix_fix_outcomes_total")
	if err != nil {
		return nil, err
	}
	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spikefix_http_requests_total",
		Help: "Handled HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"}), "spikefix_http_requests_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		FeaturesScanned: scanned,
		DefectsFound:    found,
		ScanDuration:    duration,
		FixOutcomes:     outcomes,
		HTTPRequests:    requests,
	}, nil
}

// Increment counts one scanned feature, so the collector can be handed to the
// scanner as its progress counter.
func (c *Collector) Increment() {
	if c == nil {
		return
	}
	c.FeaturesScanned.Inc()
}

func (c *Collector) ObserveScan(defects int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.DefectsFound.Add(float64(defects))
	c.ScanDuration.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveFix(status, method string) {
	if c == nil {
		return
	}
	c.FixOutcomes.WithLabelValues(status, method).Inc()
}

func (c *Collector) ObserveRequest(route string, code int) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}

// Handler exposes the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
