package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkin"

// Tick results
const (
	TickRan     = "ran"
	TickSkipped = "skipped"
)

// Collector prometheus vectors for the check-in service, on its own registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Transitions     *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	SchedulerTicks  *prometheus.CounterVec
	ClassifierCalls *prometheus.CounterVec
	TickDuration    prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound provider requests by kind and result",
		}, []string{"kind", "result"}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks, ran or skipped by the overlap guard",
		}, []string{"result"}),
		ClassifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Distress classifier calls by result",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of scheduler ticks that ran",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.Transitions,
		c.Notifications,
		c.SchedulerTicks,
		c.ClassifierCalls,
		c.TickDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler exposition endpoint for this collector's registry
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

// Notification kind: location_request, alert, voice_alert, location_alert, interaction
func (c *Collector) Notification(kind string, err error) {
	if c == nil {
		return
	}
	c.Notifications.WithLabelValues(kind, result(err)).Inc()
}

func (c *Collector) Tick(res string, took time.Duration) {
	if c == nil {
		return
	}
	c.SchedulerTicks.WithLabelValues(res).Inc()
	if res == TickRan {
		c.TickDuration.Observe(took.Seconds())
	}
}

// Classifier res: ok, unavailable, skipped
func (c *Collector) Classifier(res string) {
	if c == nil {
		return
	}
	c.ClassifierCalls.WithLabelValues(res).Inc()
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "sent"
}
