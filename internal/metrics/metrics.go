// Package metrics exposes progression engine measurements to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yp-alpha/progression/internal/progression"
)

// Progression implements progression.Observer.
type Progression struct {
	sessions   prometheus.Counter
	rejected   *prometheus.CounterVec
	requested  *prometheus.CounterVec
	granted    *prometheus.CounterVec
	clipped    *prometheus.CounterVec
	milestones *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	wsClients  prometheus.Gauge
}

var (
	progressionOnce     sync.Once
	progressionRegistry *Progression
)

// Default returns the process-wide collector set, registered with the
// default Prometheus registry on first use.
func Default() *Progression {
	progressionOnce.Do(func() {
		progressionRegistry = New(prometheus.DefaultRegisterer)
	})
	return progressionRegistry
}

// New builds collectors and registers them with reg.
func New(reg prometheus.Registerer) *Progression {
	m := &Progression{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progression_sessions_completed_total",
			Help: "Training sessions converted into rewards.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_rejected_total",
			Help: "Operations refused because of input or athlete state, by operation and reason.",
		}, []string{"op", "reason"}),
		requested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_requested_total",
			Help: "Reward amounts requested before daily caps, by kind.",
		}, []string{"kind"}),
		granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_granted_total",
			Help: "Reward amounts actually granted, by kind.",
		}, []string{"kind"}),
		clipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_cap_clips_total",
			Help: "Awards reduced by a daily cap, by kind.",
		}, []string{"kind"}),
		milestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_milestones_fired_total",
			Help: "One-time milestone bonuses granted, by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progression_write_conflicts_total",
			Help: "Optimistic write conflicts that triggered a retry, by operation.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progression_operation_seconds",
			Help:    "Engine operation latency, by operation and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op", "outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progression_ws_clients",
			Help: "Connected event feed clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessions,
			m.rejected,
			m.requested,
			m.granted,
			m.clipped,
			m.milestones,
			m.conflicts,
			m.latency,
			m.wsClients,
		)
	}
	return m
}

func (m *Progression) SessionCompleted(*progression.RewardResult) {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Progression) Rejected(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.rejected.WithLabelValues(op, code).Inc()
}

func (m *Progression) Granted(kind progression.Kind, requested, granted int64) {
	if m == nil {
		return
	}
	m.requested.WithLabelValues(string(kind)).Add(float64(requested))
	m.granted.WithLabelValues(string(kind)).Add(float64(granted))
	if granted < requested {
		m.clipped.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Progression) MilestoneFired(ms progression.Milestone) {
	if m == nil {
		return
	}
	m.milestones.WithLabelValues(string(ms.Kind)).Inc()
}

func (m *Progression) Conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Progression) Duration(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if _, ok := progression.AsReject(err); ok {
			outcome = "rejected"
		}
	}
	m.latency.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// SetClients records the number of connected event feed clients.
func (m *Progression) SetClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

var _ progression.Observer = (*Progression)(nil)
