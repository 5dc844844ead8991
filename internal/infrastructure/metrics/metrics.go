package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/leave-approval/internal/application/dispatcher"
	"github.com/garyjia/leave-approval/internal/domain/event"
)

// Collector turns appended events into Prometheus series. It only observes the log.
type Collector struct {
	eventsTotal      *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	remindersTotal   prometheus.Counter
	activityFailures *prometheus.CounterVec
	completionsTotal *prometheus.CounterVec
	activeInstances  prometheus.Gauge
}

// NewCollector creates the collector and registers its series with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_workflow_events_total",
				Help: "Total number of appended workflow events",
			},
			[]string{"type"},
		),
		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_workflow_signals_total",
				Help: "Total number of recorded signals",
			},
			[]string{"kind", "applied"},
		),
		remindersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leave_workflow_reminders_total",
				Help: "Total number of approver reminders",
			},
		),
		activityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_workflow_activity_failures_total",
				Help: "Total number of activities that exhausted their retries",
			},
			[]string{"activity"},
		),
		completionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leave_workflow_completions_total",
				Help: "Total number of completed instances",
			},
			[]string{"status"},
		),
		activeInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leave_workflow_active_instances",
				Help: "Number of instances that have started but not completed",
			},
		),
	}

	reg.MustRegister(
		c.eventsTotal,
		c.signalsTotal,
		c.remindersTotal,
		c.activityFailures,
		c.completionsTotal,
		c.activeInstances,
	)
	return c
}

// Subscribe attaches the collector to every event type
func (c *Collector) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeAll("metrics", c.Handle)
}

// Handle implements dispatcher.Handler
func (c *Collector) Handle(_ context.Context, evt *event.Event) error {
	c.eventsTotal.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.TypeStarted:
		c.activeInstances.Inc()
	case event.TypeSignalApplied:
		if evt.Signal != nil {
			c.signalsTotal.WithLabelValues(string(evt.Signal.Signal.Kind), strconv.FormatBool(evt.Signal.Applied)).Inc()
		}
	case event.TypeReminderSent:
		c.remindersTotal.Inc()
	case event.TypeActivityFailed:
		if evt.Activity != nil {
			c.activityFailures.WithLabelValues(evt.Activity.Name.String()).Inc()
		}
	case event.TypeCompleted:
		c.activeInstances.Dec()
		if evt.Completed != nil {
			c.completionsTotal.WithLabelValues(evt.Completed.Result.Status.String()).Inc()
		}
	}
	return nil
}

// AddRecovered counts instances resumed from the log at startup as active
func (c *Collector) AddRecovered(n int) {
	c.activeInstances.Add(float64(n))
}
