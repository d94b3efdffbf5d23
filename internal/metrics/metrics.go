// Package metrics wraps the Prometheus collectors for the reservation service: lifecycle
// command outcomes and latency, side-effect delivery, and lock expiry sweeps.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	sideEffects     *prometheus.CounterVec
	locksExpired    prometheus.Counter
	sweepsTotal     *prometheus.CounterVec
	lockStoreErrors prometheus.Counter
}

// NewCollector registers every metric under namespace (default "reservations").
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "reservations"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Lifecycle commands by operation and result (ok or error kind)",
		},
		[]string{"operation", "result"},
	)

	c.commandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a lifecycle command",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	c.sideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "events_total",
			Help:      "Side-effect deliveries by kind and outcome (delivered, failed, dropped)",
		},
		[]string{"kind", "outcome"},
	)

	c.locksExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "locks_expired_total",
		Help:      "Slots returned to available because their lock outlived its TTL",
	})

	c.sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Lock expiry sweeps by result",
		},
		[]string{"result"},
	)

	c.lockStoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lockstore",
		Name:      "errors_total",
		Help:      "Advisory lock store calls that failed and were bypassed",
	})

	c.registry.MustRegister(
		c.commandsTotal,
		c.commandLatency,
		c.sideEffects,
		c.locksExpired,
		c.sweepsTotal,
		c.lockStoreErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format on a fiber route.
func (c *Collector) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}

// ObserveCommand records one engine command.
func (c *Collector) ObserveCommand(operation, result string, d time.Duration) {
	c.commandsTotal.WithLabelValues(operation, result).Inc()
	c.commandLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// LockStoreError counts a bypassed advisory lock failure.
func (c *Collector) LockStoreError() {
	c.lockStoreErrors.Inc()
}

// SweepCompleted records one sweeper run.
func (c *Collector) SweepCompleted(expired int, err error) {
	if err != nil {
		c.sweepsTotal.WithLabelValues("error").Inc()
		return
	}
	c.sweepsTotal.WithLabelValues("ok").Inc()
	c.locksExpired.Add(float64(expired))
}

// Delivered, Failed and Dropped satisfy events.Observer.
func (c *Collector) Delivered(kind string) { c.sideEffects.WithLabelValues(kind, "delivered").Inc() }
func (c *Collector) Failed(kind string)    { c.sideEffects.WithLabelValues(kind, "failed").Inc() }
func (c *Collector) Dropped(kind string)   { c.sideEffects.WithLabelValues(kind, "dropped").Inc() }
