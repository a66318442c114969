// Package metrics exposes Prometheus instrumentation for the payout engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Payout lifecycle
	PayoutsCalculated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payouts_calculated_total",
			Help: "Total number of payouts calculated and persisted as pending",
		},
	)

	PayoutExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_executions_total",
			Help: "Total number of payout executions by resulting status",
		},
		[]string{"status"}, // completed, partially_completed, failed, rejected
	)

	PayoutNetAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payout_net_amount_minor_units_total",
			Help: "Net amount of calculated payouts in minor currency units",
		},
	)

	// Transfers
	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_transfers_total",
			Help: "Total number of per-employee transfers by outcome",
		},
		[]string{"outcome"}, // succeeded, failed
	)

	TransferredAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payout_transferred_minor_units_total",
			Help: "Amount successfully transferred to employees in minor currency units",
		},
	)

	PayeesProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payout_payees_provisioned_total",
			Help: "Total number of payee identities created with the processor",
		},
	)

	// Recollection
	Reversals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_recollection_reversals_total",
			Help: "Total number of tip transfer reversals by outcome",
		},
		[]string{"outcome"}, // reversed, skipped, failed
	)

	BalanceChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_balance_checks_total",
			Help: "Total number of platform balance checks by outcome",
		},
		[]string{"outcome"}, // sufficient, topped_up, insufficient, error
	)

	// Processor client
	ProcessorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processor_request_duration_seconds",
			Help:    "Duration of payment processor API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ProcessorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_requests_total",
			Help: "Total number of payment processor API calls",
		},
		[]string{"operation", "outcome"},
	)

	ProcessorBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "processor_circuit_breaker_state",
			Help: "Processor circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Scheduler
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopayout_runs_total",
			Help: "Total number of auto-payout scheduler passes",
		},
		[]string{"outcome"}, // ok, error
	)

	SchedulerVenues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopayout_venues_total",
			Help: "Venues handled by the auto-payout scheduler by result",
		},
		[]string{"result"}, // completed, partial_failure, failed, skipped
	)

	SchedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autopayout_run_duration_seconds",
			Help:    "Duration of a full auto-payout pass in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of operator API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)
)

// RecordProcessorCall records one processor API call.
func RecordProcessorCall(operation string, duration time.Duration, err error) {
	ProcessorRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ProcessorRequests.WithLabelValues(operation, outcome).Inc()
}

// RecordTransfer records the outcome of a single distribution transfer.
func RecordTransfer(amount int64, err error) {
	if err != nil {
		Transfers.WithLabelValues("failed").Inc()
		return
	}
	Transfers.WithLabelValues("succeeded").Inc()
	TransferredAmount.Add(float64(amount))
}

// RecordAPIRequest records an operator API request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordSchedulerRun records one scheduler pass.
func RecordSchedulerRun(duration time.Duration, err error) {
	SchedulerRunDuration.Observe(duration.Seconds())
	if err != nil {
		SchedulerRuns.WithLabelValues("error").Inc()
		return
	}
	SchedulerRuns.WithLabelValues("ok").Inc()
}
