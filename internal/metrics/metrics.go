// Package metrics provides Prometheus instrumentation for TermHive.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry metrics.
var (
	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termhive_registered_agents",
		Help: "Number of currently registered agents.",
	})

	RegisteredTeams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termhive_registered_teams",
		Help: "Number of currently registered teams.",
	})
)

// Router metrics.
var (
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termhive_messages_routed_total",
		Help: "Total number of messages dispatched to handlers.",
	}, []string{"type"})

	MessagesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_messages_deduped_total",
		Help: "Total number of messages dropped by content-hash deduplication.",
	})

	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termhive_handler_errors_total",
		Help: "Total number of handler invocations that returned an error.",
	}, []string{"type"})
)

// Guard metrics.
var (
	ActiveLocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termhive_active_locks",
		Help: "Number of panes currently write-locked by an agent.",
	})

	FocusDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_focus_cooldown_denied_total",
		Help: "Total number of focus changes denied by the cooldown.",
	})
)

// Expect / wait metrics.
var (
	ExpectTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_expect_timeouts_total",
		Help: "Total number of expect calls that timed out.",
	})

	WaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_wait_timeouts_total",
		Help: "Total number of wait-for-agent calls that timed out.",
	})
)

// Persistence metrics.
var (
	CheckpointsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_checkpoints_saved_total",
		Help: "Total number of checkpoints saved.",
	})

	JournalWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termhive_journal_write_failures_total",
		Help: "Total number of journal writes that failed after retries.",
	})
)
