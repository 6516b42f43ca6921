package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// Intent pipeline metrics
	IntentsReceived prometheus.Counter
	IntentsRejected prometheus.Counter
	PlansBuilt      *prometheus.CounterVec

	// Policy metrics
	PolicyDecisions *prometheus.CounterVec
	RiskScore       prometheus.Histogram

	// Approval metrics
	PendingApprovals  prometheus.Gauge
	ApprovalsDecided  *prometheus.CounterVec
	TokensIssued      prometheus.Counter
	TokenValidations  *prometheus.CounterVec
	UnconsumedTokens  prometheus.Gauge

	// Signing metrics
	SignAttemptsTotal   prometheus.Counter
	SignAttemptsSuccess prometheus.Counter
	SignAttemptsFail    *prometheus.CounterVec

	// Aggregator metrics
	AggregatorRequests *prometheus.CounterVec
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		IntentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_intents_received_total",
			Help: "The total number of intents submitted to the gateway",
		}),
		IntentsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_intents_rejected_total",
			Help: "The total number of intents rejected during validation",
		}),
		PlansBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_plans_built_total",
				Help: "The total number of build plans produced by action type",
			},
			[]string{"action"},
		),
		PolicyDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_policy_decisions_total",
				Help: "The total number of policy verdicts by decision",
			},
			[]string{"decision"},
		),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signet_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		PendingApprovals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signet_pending_approvals",
			Help: "The current number of approval requests awaiting a decision",
		}),
		ApprovalsDecided: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_approvals_decided_total",
				Help: "The total number of approval decisions by outcome",
			},
			[]string{"outcome"},
		),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_approval_tokens_issued_total",
			Help: "The total number of approval tokens issued",
		}),
		TokenValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_approval_token_validations_total",
				Help: "The total number of approval token validations by result",
			},
			[]string{"result"},
		),
		UnconsumedTokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signet_approval_tokens_unconsumed",
			Help: "The current number of issued but unconsumed approval tokens",
		}),
		SignAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_sign_attempts_total",
			Help: "The total number of signing attempts",
		}),
		SignAttemptsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_sign_attempts_success",
			Help: "The total number of successful signing attempts",
		}),
		SignAttemptsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_sign_attempts_fail",
				Help: "The total number of failed signing attempts by failure kind",
			},
			[]string{"kind"},
		),
		AggregatorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signet_aggregator_requests_total",
				Help: "The total number of aggregator swap requests by status",
			},
			[]string{"provider", "status"},
		),
	}

	return metrics
}

// RecordMetricsPeriodically refreshes the database-backed gauges until the
// done channel closes.
func (m *Metrics) RecordMetricsPeriodically(db *gorm.DB, pending *PendingApprovalStore, logger Logger, done <-chan struct{}) {
	logger = logger.NewSystem("metrics")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.PendingApprovals.Set(float64(pending.Len()))
			m.UpdateTokenMetrics(db, logger)
		}
	}
}

// UpdateTokenMetrics refreshes the unconsumed token gauge from the database.
func (m *Metrics) UpdateTokenMetrics(db *gorm.DB, logger Logger) {
	var count int64
	err := db.Model(&ApprovalToken{}).
		Where("consumed = ?", false).
		Count(&count).Error
	if err != nil {
		logger.Warn("failed to count unconsumed approval tokens", "error", err)
		return
	}
	m.UnconsumedTokens.Set(float64(count))
}
