package escalation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the escalation scanner.
type Metrics struct {
	ScansTotal          *prometheus.CounterVec
	ScanDuration        prometheus.Histogram
	EscalationsTotal    prometheus.Counter
	FailuresTotal       prometheus.Counter
	NotifyFailuresTotal prometheus.Counter
}

// NewMetrics registers and returns escalation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "priorityops_escalation_scans_total",
			Help: "Total escalation scans by result.",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "priorityops_escalation_scan_duration_seconds",
			Help:    "Duration of escalation scans in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "priorityops_escalations_total",
			Help: "Total tickets escalated for SLA breach.",
		}),
		FailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "priorityops_escalation_failures_total",
			Help: "Total breached tickets that could not be escalated.",
		}),
		NotifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "priorityops_escalation_notify_failures_total",
			Help: "Total escalation notifications that failed to publish.",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.EscalationsTotal,
		m.FailuresTotal,
		m.NotifyFailuresTotal,
	)

	return m
}

func (m *Metrics) observeScan(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(result).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

func (m *Metrics) observeResult(r *ScanResult) {
	if m == nil {
		return
	}
	m.EscalationsTotal.Add(float64(r.Escalated))
	m.FailuresTotal.Add(float64(r.Failed))
	m.NotifyFailuresTotal.Add(float64(r.NotifyFailed))
}
