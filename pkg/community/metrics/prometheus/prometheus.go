package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements community.Metrics using Prometheus.
type Metrics struct {
	reconcileTotal          *prometheus.CounterVec
	membershipCheckTotal    *prometheus.CounterVec
	membershipCheckDuration prometheus.Histogram
	tipsTotal               *prometheus.CounterVec
	tipAmountCents          *prometheus.CounterVec
	invitesTotal            *prometheus.CounterVec
	moderationTotal         *prometheus.CounterVec
	rateLimitedTotal        *prometheus.CounterVec
	storageOpsDuration      *prometheus.HistogramVec
	storageOpsErrors        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconcile_total",
			Help:      "Subscription reconciliation outcomes by decision.",
		}, []string{"decision"}),

		membershipCheckTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_checks_total",
			Help:      "Total number of Community Wall membership checks.",
		}, []string{"member"}),

		membershipCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "membership_check_duration_seconds",
			Help:      "Latency of membership checks.",
			Buckets:   prometheus.DefBuckets,
		}),

		tipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tips_total",
			Help:      "Total number of recorded tips.",
		}, []string{"currency"}),

		tipAmountCents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tip_amount_cents_total",
			Help:      "Sum of recorded tip amounts in minor currency units.",
		}, []string{"currency"}),

		invitesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circle_invites_total",
			Help:      "Circle invite lifecycle actions.",
		}, []string{"action"}),

		moderationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Admin moderation actions.",
		}, []string{"action"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Actions rejected by per-user rate limits.",
		}, []string{"action"}),

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

func (m *Metrics) RecordReconcile(decision string) {
	m.reconcileTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordMembershipCheck(member bool, duration time.Duration) {
	m.membershipCheckTotal.WithLabelValues(strconv.FormatBool(member)).Inc()
	m.membershipCheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTip(currency string, amountCents int64) {
	m.tipsTotal.WithLabelValues(currency).Inc()
	m.tipAmountCents.WithLabelValues(currency).Add(float64(amountCents))
}

func (m *Metrics) RecordInvite(action string) {
	m.invitesTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordModeration(action string) {
	m.moderationTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordRateLimited(action string) {
	m.rateLimitedTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
