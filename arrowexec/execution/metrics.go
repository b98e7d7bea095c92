package execution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	queries          *prometheus.CounterVec
	operatorDuration *prometheus.HistogramVec
	operatorRows     *prometheus.CounterVec
}

// NewMetrics creates the executor metrics. A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		queries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "octoframe",
			Subsystem: "executor",
			Name:      "queries_total",
			Help:      "Total number of executed queries by status.",
		}, []string{"status"}),
		operatorDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "octoframe",
			Subsystem: "executor",
			Name:      "operator_duration_seconds",
			Help:      "Time spent running a physical operator, including its inputs.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"operator"}),
		operatorRows: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "octoframe",
			Subsystem: "executor",
			Name:      "operator_rows_total",
			Help:      "Total number of rows produced by a physical operator.",
		}, []string{"operator"}),
	}
}

func (m *Metrics) ObserveQuery(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.queries.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveOperator(operator string, duration time.Duration, rows int) {
	if m == nil {
		return
	}
	m.operatorDuration.WithLabelValues(operator).Observe(duration.Seconds())
	m.operatorRows.WithLabelValues(operator).Add(float64(rows))
}
