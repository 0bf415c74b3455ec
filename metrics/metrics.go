// Package metrics exports auth activity and daemon HTTP traffic as
// Prometheus metrics.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/goliatone/go-hostel"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "hostel"

// Collector holds the hostel metrics. It is a hostel.ActivitySink, so the
// session manager can feed it directly.
type Collector struct {
	activity        *prometheus.CounterVec
	loginFailures   *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

var _ hostel.ActivitySink = (*Collector)(nil)

// New creates an unregistered Collector.
func New() *Collector {
	return &Collector{
		activity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "auth_events_total",
				Help:      "Auth activity events by type and role.",
			},
			[]string{"event", "role"},
		),
		loginFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "login_failures_total",
				Help:      "Rejected logins by error code.",
			},
			[]string{"code"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.activity, c.loginFailures, c.requests, c.requestDuration, c.inFlight,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Record implements hostel.ActivitySink.
func (c *Collector) Record(_ context.Context, event hostel.ActivityEvent) error {
	c.activity.WithLabelValues(string(event.EventType), roleLabel(event.Role)).Inc()

	if event.EventType == hostel.ActivityEventLoginFailure {
		code, _ := event.Metadata["code"].(string)
		if code == "" {
			code = "unknown"
		}
		c.loginFailures.WithLabelValues(code).Inc()
	}
	return nil
}

// StartRequest marks a request in flight and returns the function that
// records its outcome. The route is passed at the end since routers only
// know it once matched.
func (c *Collector) StartRequest() func(method, route string, status int) {
	c.inFlight.Inc()
	start := time.Now()

	return func(method, route string, status int) {
		code := strconv.Itoa(status)
		c.requestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		c.requests.WithLabelValues(method, route, code).Inc()
		c.inFlight.Dec()
	}
}

func roleLabel(role hostel.Role) string {
	if role == "" {
		return "none"
	}
	return string(role)
}
