package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the HTTP surface and the
// sales flow. All collectors register against the default registerer so
// promhttp picks them up without extra wiring.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	checkoutsTotal  prometheus.Counter
	checkoutsFailed prometheus.Counter
	refundsTotal    prometheus.Counter
	cartConflicts   prometheus.Counter
}

func New() *Metrics {
	return newWithRegisterer(prometheus.DefaultRegisterer)
}

func newWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"method", "path", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		checkoutsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkouts_total",
			Help: "Total number of completed checkouts",
		}),
		checkoutsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkouts_failed_total",
			Help: "Total number of rejected checkout attempts",
		}),
		refundsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_refunds_total",
			Help: "Total number of processed refunds",
		}),
		cartConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_cart_version_conflicts_total",
			Help: "Total number of cart save retries caused by version conflicts",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordRequest counts one served HTTP request and observes its latency.
func (m *Metrics) RecordRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckout() {
	if m == nil {
		return
	}
	m.checkoutsTotal.Inc()
}

func (m *Metrics) RecordCheckoutFailed() {
	if m == nil {
		return
	}
	m.checkoutsFailed.Inc()
}

func (m *Metrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refundsTotal.Inc()
}

func (m *Metrics) RecordCartConflict() {
	if m == nil {
		return
	}
	m.cartConflicts.Inc()
}
