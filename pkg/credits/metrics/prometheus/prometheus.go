package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements credits.Metrics using Prometheus.
type Metrics struct {
	grantsTotal        *prometheus.CounterVec
	grantAmount        *prometheus.HistogramVec
	sweepChecked       prometheus.Histogram
	sweepResetsTotal   *prometheus.CounterVec
	sweepErrorsTotal   prometheus.Counter
	sweepDuration      prometheus.Histogram
	sweepSkippedTotal  *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_grants_total",
			Help:      "Total number of credit grant attempts.",
		}, []string{"source", "plan", "duplicate"}),

		grantAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_grant_amount",
			Help:      "Distribution of granted credit amounts.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"source", "plan"}),

		sweepChecked: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_subscriptions_checked",
			Help:      "Number of active subscriptions examined per sweep.",
			Buckets:   []float64{10, 100, 1000, 10000, 100000},
		}),

		sweepResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_resets_total",
			Help:      "Total number of credit resets applied by the sweeper.",
		}, []string{"path"}),

		sweepErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Total number of per-subscription sweep failures.",
		}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs.",
			Buckets:   prometheus.DefBuckets,
		}),

		sweepSkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Total number of sweep runs skipped before starting.",
		}, []string{"reason"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordGrant(source, planID string, amount int64, duplicate bool) {
	m.grantsTotal.WithLabelValues(source, planID, strconv.FormatBool(duplicate)).Inc()
	if !duplicate {
		m.grantAmount.WithLabelValues(source, planID).Observe(float64(amount))
	}
}

func (m *Metrics) RecordSweep(checked, resetYearly, resetMonthlyFallback, errs int, duration time.Duration) {
	m.sweepChecked.Observe(float64(checked))
	m.sweepResetsTotal.WithLabelValues("yearly").Add(float64(resetYearly))
	m.sweepResetsTotal.WithLabelValues("monthly_fallback").Add(float64(resetMonthlyFallback))
	m.sweepErrorsTotal.Add(float64(errs))
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSweepSkipped(reason string) {
	m.sweepSkippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
