package metrics

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"techtrims/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "techtrims_queue"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Queue transitions by event type and target status.",
		},
		[]string{"event", "status"},
	)

	sweepResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_results_total",
			Help:      "Sweep outcomes: expired, auto_completed, reconciled, errors.",
		},
		[]string{"result"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one sweep tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	waitingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_customers",
			Help:      "ORANGE bookings per barber after the last recompute.",
		},
		[]string{"barber_id"},
	)

	staleConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_conflicts_total",
			Help:      "Compare-and-swap writes that lost a race.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, sweepResults, sweepDuration, waitingGauge, staleConflicts)
	})
}

// IncHTTP increments the counter for an endpoint and response code.
func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func IncSweep(result string, n int) {
	if n > 0 {
		sweepResults.WithLabelValues(result).Add(float64(n))
	}
}

func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func IncStale() {
	staleConflicts.Inc()
}

func SetWaiting(barberID int64, n int) {
	waitingGauge.WithLabelValues(strconv.FormatInt(barberID, 10)).Set(float64(n))
}

// Subscribe feeds queue events from the bus into the transition counters and waiting gauge.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(func(event *events.Event) error {
		var payload events.QueueEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		transitions.WithLabelValues(event.Type, payload.Status).Inc()
		return nil
	}, events.AllQueueEvents()...)

	bus.Subscribe(func(event *events.Event) error {
		var payload events.QueueReorderedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		SetWaiting(payload.BarberID, payload.Waiting)
		return nil
	}, events.EventQueueReordered)
}
