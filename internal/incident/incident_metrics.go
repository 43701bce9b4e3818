package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident subsystem. A nil
// *Metrics is valid and records nothing, which keeps tests light.
type Metrics struct {
	IngestsTotal    *prometheus.CounterVec
	IncidentsTotal  *prometheus.CounterVec
	CollectDuration prometheus.Histogram
	NotifyTotal     *prometheus.CounterVec
	ActionsTotal    *prometheus.CounterVec
	ExecDuration    prometheus.Histogram
	VerifyTotal     *prometheus.CounterVec
	VerifyDuration  prometheus.Histogram
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ingests_total",
			Help: "Total alert ingestions by result.",
		}, []string{"result"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_incidents_total",
			Help: "Incidents created, by classified category and severity.",
		}, []string{"category", "severity"}),
		CollectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_evidence_collect_duration_seconds",
			Help:    "Duration of cluster evidence collection.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_notifications_total",
			Help: "Notification attempts by result.",
		}, []string{"result"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_actions_total",
			Help: "Approval callback outcomes by action and status.",
		}, []string{"action", "status"}),
		ExecDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_action_exec_duration_seconds",
			Help:    "Duration of remediation execution calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 0.1s .. ~12.8s
		}),
		VerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_verifications_total",
			Help: "Post-action verification results.",
		}, []string{"result"}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_verify_duration_seconds",
			Help:    "Wall time of the verification poll.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.IncidentsTotal,
		m.CollectDuration,
		m.NotifyTotal,
		m.ActionsTotal,
		m.ExecDuration,
		m.VerifyTotal,
		m.VerifyDuration,
	)

	return m
}

func (m *Metrics) incIngest(result string) {
	if m == nil {
		return
	}
	m.IngestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incIncident(category, severity string) {
	if m == nil {
		return
	}
	m.IncidentsTotal.WithLabelValues(category, severity).Inc()
}

func (m *Metrics) observeCollect(seconds float64) {
	if m == nil {
		return
	}
	m.CollectDuration.Observe(seconds)
}

func (m *Metrics) incNotify(result string) {
	if m == nil {
		return
	}
	m.NotifyTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incAction(action, status string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, status).Inc()
}

func (m *Metrics) observeExec(seconds float64) {
	if m == nil {
		return
	}
	m.ExecDuration.Observe(seconds)
}

func (m *Metrics) incVerify(result string) {
	if m == nil {
		return
	}
	m.VerifyTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeVerify(seconds float64) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(seconds)
}
