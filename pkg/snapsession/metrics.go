package snapsession

import (
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/prometheus/client_golang/prometheus"
)

// nil *Metrics is valid and records nothing
type Metrics struct {
	sessionsOpened   prometheus.Counter
	sessionsClosed   prometheus.Counter
	snapshotsCreated *prometheus.CounterVec
	// snapshot creation attempted but failed, pass-through used instead
	fallbacks       prometheus.Counter
	releaseFailures prometheus.Counter
	rootFailures    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapview_sessions_opened_total",
			Help: "Snapshot sessions opened",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapview_sessions_closed_total",
			Help: "Snapshot sessions closed (explicitly or due to provider failure)",
		}),
		snapshotsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapview_snapshots_created_total",
			Help: "Per-volume providers created, by kind",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapview_snapshot_fallbacks_total",
			Help: "Snapshot creations that failed and fell back to pass-through",
		}),
		releaseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapview_snapshot_release_failures_total",
			Help: "Snapshot releases that failed",
		}),
		rootFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapview_root_failures_total",
			Help: "Requested roots that were not accessible",
		}),
	}

	reg.MustRegister(
		m.sessionsOpened,
		m.sessionsClosed,
		m.snapshotsCreated,
		m.fallbacks,
		m.releaseFailures,
		m.rootFailures)

	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessionsOpened.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessionsClosed.Inc()
	}
}

func (m *Metrics) providerCreated(kind fssnapshot.Kind) {
	if m != nil {
		m.snapshotsCreated.With(prometheus.Labels{"kind": string(kind)}).Inc()
	}
}

func (m *Metrics) fellBack() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) releaseFailed() {
	if m != nil {
		m.releaseFailures.Inc()
	}
}

func (m *Metrics) rootFailed() {
	if m != nil {
		m.rootFailures.Inc()
	}
}
