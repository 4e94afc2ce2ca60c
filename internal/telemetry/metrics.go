package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	MessagesPublished    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_messages_published_total", Help: "Messages appended to streams"}, []string{"stream"})
	MessagesConsumed     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_messages_consumed_total", Help: "Messages delivered to this consumer"}, []string{"stream"})
	MessagesClaimed      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_messages_claimed_total", Help: "Abandoned messages reclaimed from idle consumers"}, []string{"stream"})
	MessagesDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_messages_dead_lettered_total", Help: "Messages moved to the dead-letter stream"}, []string{"stream"})
	BusErrors            = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_errors_total", Help: "Broker operations that failed"}, []string{"op"})

	DecisionsCreated   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "decisions_created_total", Help: "Decision items created"}, []string{"type", "status"})
	DecisionsResolved  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "decisions_resolved_total", Help: "Decision items leaving pending"}, []string{"status"})
	DecisionsEscalated = prometheus.NewCounter(prometheus.CounterOpts{Name: "decisions_escalated_total", Help: "Overdue decision items escalated"})
	PendingDecisions   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "decisions_pending", Help: "Pending decision items after the last prioritization pass"})
	ExecutionFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "decision_execution_failures_total", Help: "Execution handlers that returned an error"})
	PolicyEvalErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "policy_evaluation_errors_total", Help: "Rule evaluations that failed open"})
	PolicyViolations   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "policy_violations_total", Help: "Rule violations detected"}, []string{"rule"})
	PolicyReloads      = prometheus.NewCounter(prometheus.CounterOpts{Name: "policy_reloads_total", Help: "Policy table reloads that changed the active rules"})
	OutboxPublished    = prometheus.NewCounter(prometheus.CounterOpts{Name: "outbox_published_total", Help: "Outbox events published"})
	OutboxFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "outbox_failures_total", Help: "Outbox publish attempts that failed"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	DLQArchived        = prometheus.NewCounter(prometheus.CounterOpts{Name: "dlq_archived_total", Help: "Dead-letter entries written to the archive"})
	TaskCycles         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "task_cycles_total", Help: "Supervised task cycles by outcome"}, []string{"task", "outcome"})
	TaskCycleDuration  = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "task_cycle_seconds", Help: "Supervised task cycle duration", Buckets: prometheus.DefBuckets}, []string{"task"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			MessagesPublished,
			MessagesConsumed,
			MessagesClaimed,
			MessagesDeadLettered,
			BusErrors,
			DecisionsCreated,
			DecisionsResolved,
			DecisionsEscalated,
			PendingDecisions,
			ExecutionFailures,
			PolicyEvalErrors,
			PolicyViolations,
			PolicyReloads,
			OutboxPublished,
			OutboxFailures,
			RateLimitRejects,
			DLQArchived,
			TaskCycles,
			TaskCycleDuration,
		)
	})
	return promhttp.Handler()
}
