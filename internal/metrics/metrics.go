package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "joinbot"

var (
	// Workflow
	RequestsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_opened_total",
			Help:      "Plan selections that opened a request",
		},
	)
	ReceiptsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_submitted_total",
			Help:      "Receipts submitted for review",
		},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reviewer decisions by outcome",
		},
		[]string{"outcome"},
	)
	Renewals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewals_total",
			Help:      "Administrative renewals",
		},
	)

	// Credential issuer
	IssuanceAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_issuance_attempts_total",
			Help:      "Invite link creation attempts by result",
		},
		[]string{"result"},
	)
	Revocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Member removals by result",
		},
		[]string{"result"},
	)

	// Scheduler
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of ledger sweeps",
			Buckets:   prometheus.DefBuckets,
		},
	)
	SweepEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_entries_total",
			Help:      "Ledger entries handled by sweeps by action",
		},
		[]string{"action"},
	)
	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Ledger entries seen by the last sweep",
		},
	)

	// Notifications
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered by kind",
		},
		[]string{"kind"},
	)
)

// Register adds every collector to reg, together with the Go runtime and
// process collectors.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsOpened,
		ReceiptsSubmitted,
		Decisions,
		Renewals,
		IssuanceAttempts,
		Revocations,
		SweepDuration,
		SweepEntries,
		ActiveSubscriptions,
		NotificationFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
