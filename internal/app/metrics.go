package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "takopi_smithers"

// Metrics are the supervisor's Prometheus series. A nil *Metrics records
// nothing.
type Metrics struct {
	restarts     *prometheus.CounterVec
	autoheals    *prometheus.CounterVec
	hangs        *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	childUp      *prometheus.GaugeVec
	phase        *prometheus.GaugeVec
	backoffDelay *prometheus.HistogramVec
}

// NewMetrics registers the supervisor series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "restarts_total",
			Help:      "Child relaunches by cause (backoff, autoheal, reload, manual, resume)",
		}, []string{"branch", "cause"}),
		autoheals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "autoheal_attempts_total",
			Help:      "Repair-agent runs by result",
		}, []string{"branch", "result"}),
		hangs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hangs_total",
			Help:      "Children killed because their heartbeat went stale",
		}, []string{"branch"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reloads_total",
			Help:      "Restarts triggered by program file changes",
		}, []string{"branch"}),
		childUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "child_up",
			Help:      "1 while the workflow child is running",
		}, []string{"branch"}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "phase",
			Help:      "1 for the supervisor's current lifecycle phase",
		}, []string{"branch", "phase"}),
		backoffDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "backoff_delay_seconds",
			Help:      "Backoff waits before crash relaunches",
			Buckets:   []float64{1, 5, 30, 120, 600, 1800},
		}, []string{"branch"}),
	}
}

func (m *Metrics) restart(branch, cause string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(branch, cause).Inc()
}

func (m *Metrics) autoheal(branch string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.autoheals.WithLabelValues(branch, result).Inc()
}

func (m *Metrics) hang(branch string) {
	if m == nil {
		return
	}
	m.hangs.WithLabelValues(branch).Inc()
}

func (m *Metrics) reload(branch string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(branch).Inc()
}

func (m *Metrics) setChildUp(branch string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.childUp.WithLabelValues(branch).Set(v)
}

func (m *Metrics) setPhase(branch, phase string) {
	if m == nil {
		return
	}
	for _, p := range append(allPhases, PhaseStopped) {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(branch, p).Set(v)
	}
}

func (m *Metrics) observeBackoff(branch string, seconds float64) {
	if m == nil {
		return
	}
	m.backoffDelay.WithLabelValues(branch).Observe(seconds)
}
