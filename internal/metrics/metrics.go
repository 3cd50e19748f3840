// Package metrics turns event bus traffic into Prometheus collectors.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"loopin/internal/eventbus"
)

const namespace = "loopin"

var connectionStates = []string{"disconnected", "connecting", "connected", "degraded", "polling-fallback"}

type Metrics struct {
	Registry *prometheus.Registry

	ConnectionState       *prometheus.GaugeVec
	ConnectionTransitions *prometheus.CounterVec
	ConnectionLost        prometheus.Counter
	PushEvents            *prometheus.CounterVec
	Accepted              *prometheus.CounterVec
	ToastsShown           *prometheus.CounterVec
	ToastsDismissed       *prometheus.CounterVec
	Unread                prometheus.Gauge
	Polls                 *prometheus.CounterVec
	PollDuration          *prometheus.HistogramVec
	BannerLoads           *prometheus.CounterVec
}

// New registers every collector, plus the Go runtime and process
// collectors, on a fresh registry. bus may be nil; when
// set, its drop counter is exported too.
func New(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connection", Name: "state",
			Help: "1 for the current push connection state.",
		}, []string{"state"}),
		ConnectionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "transitions_total",
			Help: "Push connection state transitions by target state.",
		}, []string{"to"}),
		ConnectionLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "lost_total",
			Help: "Times the connection lost indicator was raised.",
		}),
		PushEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "events_total",
			Help: "Push events received by event name and transport.",
		}, []string{"event", "transport"}),
		Accepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifications", Name: "accepted_total",
			Help: "Deliveries through the accept path by source and outcome.",
		}, []string{"source", "outcome"}),
		ToastsShown: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "toasts", Name: "shown_total",
			Help: "Toasts shown.",
		}, []string{"persistent"}),
		ToastsDismissed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "toasts", Name: "dismissed_total",
			Help: "Toasts dismissed by reason.",
		}, []string{"reason"}),
		Unread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "badge", Name: "unread",
			Help: "Unread notifications in the local store.",
		}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "polls_total",
			Help: "Poll requests by kind and result.",
		}, []string{"kind", "result"}),
		PollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "poller", Name: "duration_seconds",
			Help:    "Poll request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		BannerLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "banner", Name: "loads_total",
			Help: "Banner panel loads by resulting state.",
		}, []string{"state"}),
	}
	if bus != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "dropped_total",
			Help: "Bus deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) })
	}
	m.setState("disconnected")
	return m
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ConnectionStateChanged:
		if sc, ok := e.Data.(eventbus.StateChange); ok {
			m.setState(sc.To)
			m.ConnectionTransitions.WithLabelValues(sc.To).Inc()
		}
	case eventbus.ConnectionLost:
		m.ConnectionLost.Inc()
	case eventbus.PushReceived:
		if p, ok := e.Data.(eventbus.Push); ok {
			m.PushEvents.WithLabelValues(p.Event, p.Transport).Inc()
		}
	case eventbus.NotificationAccepted:
		if a, ok := e.Data.(eventbus.Accepted); ok {
			m.Accepted.WithLabelValues(a.Source, outcome(a)).Inc()
		}
	case eventbus.ToastShown:
		if t, ok := e.Data.(eventbus.Toast); ok {
			m.ToastsShown.WithLabelValues(strconv.FormatBool(t.Persistent)).Inc()
		}
	case eventbus.ToastDismissed:
		if t, ok := e.Data.(eventbus.Toast); ok {
			m.ToastsDismissed.WithLabelValues(t.Reason).Inc()
		}
	case eventbus.BadgeChanged:
		if b, ok := e.Data.(eventbus.Badge); ok {
			m.Unread.Set(float64(b.Count))
		}
	case eventbus.BannerLoaded:
		if b, ok := e.Data.(eventbus.BannerLoad); ok {
			m.BannerLoads.WithLabelValues(b.State).Inc()
		}
	case eventbus.PollCompleted:
		if p, ok := e.Data.(eventbus.Poll); ok {
			result := "ok"
			if p.Err != nil {
				result = "error"
			}
			m.Polls.WithLabelValues(p.Kind, result).Inc()
			m.PollDuration.WithLabelValues(p.Kind).Observe(p.Duration.Seconds())
		}
	}
}

func outcome(a eventbus.Accepted) string {
	switch {
	case a.IsNew:
		return "new"
	case a.Toast:
		return "resurfaced"
	default:
		return "duplicate"
	}
}

func (m *Metrics) setState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}
