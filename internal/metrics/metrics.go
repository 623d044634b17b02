// v1
// internal/metrics/metrics.go
// Package metrics registers the Prometheus series exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "commands_issued_total",
		Help:      "Commands accepted and published, by actuator",
	}, []string{"actuator"})

	commandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "commands_rejected_total",
		Help:      "Commands rejected because one was already pending for the key",
	}, []string{"actuator"})

	commandsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "commands_expired_total",
		Help:      "Commands resolved by the expiry sweep, by actuator",
	}, []string{"actuator"})

	acksMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "acks_matched_total",
		Help:      "Acknowledgments matched to a pending command, by actuator",
	}, []string{"actuator"})

	acksUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "acks_unmatched_total",
		Help:      "Acknowledgments discarded because no live pending command matched",
	})

	commandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rackctl",
		Subsystem: "dispatch",
		Name:      "command_latency_seconds",
		Help:      "Issue-to-acknowledgment latency, by actuator",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"actuator"})

	telemetrySamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "telemetry",
		Name:      "samples_total",
		Help:      "Telemetry samples ingested, by metric",
	}, []string{"metric"})

	intentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "engine",
		Name:      "intents_emitted_total",
		Help:      "Action intents produced by the decision engine, by kind",
	}, []string{"kind"})

	queueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rackctl",
		Subsystem: "runtime",
		Name:      "queue_drops_total",
		Help:      "Messages dropped by bounded queues, by queue",
	}, []string{"queue"})

	racksTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rackctl",
		Subsystem: "fleet",
		Name:      "racks_tracked",
		Help:      "Racks observed since process start",
	})
)

func IncCommandIssued(actuator string)   { commandsIssued.WithLabelValues(actuator).Inc() }
func IncCommandRejected(actuator string) { commandsRejected.WithLabelValues(actuator).Inc() }
func IncCommandExpired(actuator string)  { commandsExpired.WithLabelValues(actuator).Inc() }
func IncAckMatched(actuator string)      { acksMatched.WithLabelValues(actuator).Inc() }
func IncAckUnmatched()                   { acksUnmatched.Inc() }

func ObserveCommandLatency(actuator string, d time.Duration) {
	commandLatency.WithLabelValues(actuator).Observe(d.Seconds())
}

func IncTelemetrySample(metric string) { telemetrySamples.WithLabelValues(metric).Inc() }
func IncIntent(kind string)            { intentsEmitted.WithLabelValues(kind).Inc() }
func IncQueueDrop(queue string)        { queueDrops.WithLabelValues(queue).Inc() }
func SetRacksTracked(n int)            { racksTracked.Set(float64(n)) }

// Handler serves the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
