package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Switch outcomes used as the "outcome" label of switches_total.
const (
	OutcomeSwitched  = "switched"
	OutcomeNoop      = "noop"
	OutcomeInvalid   = "invalid"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
)

// Metrics holds Prometheus counters and gauges for the stream switcher.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
	switchRequestsTotal  prometheus.Counter
	switchesTotal        *prometheus.CounterVec
	switchDuration       prometheus.Histogram
	startupFailuresTotal prometheus.Counter
	crashesTotal         prometheus.Counter
	recoveriesTotal      prometheus.Counter
	queueLength          prometheus.Gauge
	switching            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the switcher.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switcher_http_requests_total",
			Help: "Total number of HTTP requests received by route",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switcher_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx) by route",
		}, []string{"method", "route"}),
		switchRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switcher_switch_requests_total",
			Help: "Total number of accepted switch requests",
		}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switcher_switches_total",
			Help: "Completed switch protocol executions by outcome",
		}, []string{"outcome"}),
		switchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switcher_switch_duration_seconds",
			Help:    "Time from dequeue to protocol completion",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 7.5, 10, 15, 30},
		}),
		startupFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switcher_startup_failures_total",
			Help: "Encoder startups that failed to confirm",
		}),
		crashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switcher_crashes_total",
			Help: "Unexpected exits of a confirmed session",
		}),
		recoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switcher_recoveries_total",
			Help: "Crashes that re-enqueued the last active target",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switcher_queue_length",
			Help: "Number of pending switch targets",
		}),
		switching: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switcher_switching",
			Help: "1 while a switch protocol is in flight",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.switchRequestsTotal,
		m.switchesTotal,
		m.switchDuration,
		m.startupFailuresTotal,
		m.crashesTotal,
		m.recoveriesTotal,
		m.queueLength,
		m.switching,
	)

	return m
}

// IncRequests counts a request to route.
func (m *Metrics) IncRequests(method, route string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors counts an error response from route.
func (m *Metrics) IncErrors(method, route string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(method, route).Inc()
}

// IncSwitchRequests counts a request accepted into the queue.
func (m *Metrics) IncSwitchRequests() {
	if m == nil {
		return
	}
	m.switchRequestsTotal.Inc()
}

// ObserveSwitch records one finished protocol execution.
func (m *Metrics) ObserveSwitch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.switchesTotal.WithLabelValues(outcome).Inc()
	m.switchDuration.Observe(d.Seconds())
}

// IncStartupFailures increments the startup failure counter.
func (m *Metrics) IncStartupFailures() {
	if m == nil {
		return
	}
	m.startupFailuresTotal.Inc()
}

// IncCrashes increments the crash counter.
func (m *Metrics) IncCrashes() {
	if m == nil {
		return
	}
	m.crashesTotal.Inc()
}

// IncRecoveries increments the recovery counter.
func (m *Metrics) IncRecoveries() {
	if m == nil {
		return
	}
	m.recoveriesTotal.Inc()
}

// SetQueueLength sets the queue length gauge.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// SetSwitching sets the in-flight gauge.
func (m *Metrics) SetSwitching(on bool) {
	if m == nil {
		return
	}
	if on {
		m.switching.Set(1)
	} else {
		m.switching.Set(0)
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
