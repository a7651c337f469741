// Package metrics exposes session and credential action activity as
// Prometheus metrics.
//
// Metric naming follows Prometheus conventions:
//   - auth_ prefix for all metrics
//   - _total suffix for counters
package metrics

import (
	"context"
	"net/http"

	auth "github.com/goliatone/go-auth-session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records activity events and session snapshots. It owns its
// registry so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	ActivityTotal      *prometheus.CounterVec
	ActionsTotal       *prometheus.CounterVec
	SessionState       *prometheus.GaugeVec
	SessionTransitions prometheus.Counter
	StreamsFailed      prometheus.Gauge
}

var _ auth.ActivitySink = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ActivityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_activity_events_total",
				Help: "Total activity events by event type.",
			},
			[]string{"event"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_actions_total",
				Help: "Total credential actions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auth_sessions",
				Help: "Live sessions by route guard state.",
			},
			[]string{"state"},
		),
		SessionTransitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_session_transitions_total",
				Help: "Total route guard state changes.",
			},
		),
		StreamsFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auth_event_streams_failed",
				Help: "Live sessions whose change event stream has failed.",
			},
		),
	}

	c.registry.MustRegister(
		c.ActivityTotal,
		c.ActionsTotal,
		c.SessionState,
		c.SessionTransitions,
		c.StreamsFailed,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Record implements auth.ActivitySink.
func (c *Collector) Record(_ context.Context, event auth.ActivityEvent) error {
	c.ActivityTotal.WithLabelValues(string(event.EventType)).Inc()
	if event.Action != "" {
		c.ActionsTotal.WithLabelValues(string(event.Action), outcome(event.EventType)).Inc()
	}
	return nil
}

// Watch follows the snapshots of one session until ch closes, then
// takes the session out of the gauges. Run one per session, each in its
// own goroutine.
func (c *Collector) Watch(ch <-chan auth.Snapshot) {
	var t tracker
	for s := range ch {
		c.observe(&t, s)
	}
	c.release(&t)
}

// tracker is what one session currently contributes to the gauges.
type tracker struct {
	state  auth.GuardState
	seen   bool
	failed bool
}

func (c *Collector) observe(t *tracker, s auth.Snapshot) {
	state := auth.GuardStateOf(s)
	switch {
	case !t.seen:
		c.SessionState.WithLabelValues(state.String()).Inc()
	case state != t.state:
		c.SessionState.WithLabelValues(t.state.String()).Dec()
		c.SessionState.WithLabelValues(state.String()).Inc()
		c.SessionTransitions.Inc()
	}
	t.state, t.seen = state, true

	failed := !s.StreamHealthy
	if failed != t.failed {
		if failed {
			c.StreamsFailed.Inc()
		} else {
			c.StreamsFailed.Dec()
		}
		t.failed = failed
	}
}

func (c *Collector) release(t *tracker) {
	if t.seen {
		c.SessionState.WithLabelValues(t.state.String()).Dec()
	}
	if t.failed {
		c.StreamsFailed.Dec()
	}
}

func outcome(t auth.ActivityEventType) string {
	switch t {
	case auth.ActivityEventLoginFailure,
		auth.ActivityEventRegisterFailure,
		auth.ActivityEventActionFailure,
		auth.ActivityEventRecoveryLinkRejected:
		return "failure"
	}
	return "success"
}
