package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's instrumentation.
type Metrics struct {
	TasksStarted     prometheus.Counter
	TasksCompleted   prometheus.Counter
	TasksFailed      *prometheus.CounterVec
	TasksCancelled   prometheus.Counter
	Transfers        prometheus.Counter
	Delegations      prometheus.Counter
	ToolInvocations  *prometheus.CounterVec
	InferenceRetries prometheus.Counter
	ActiveTasks      prometheus.Gauge
}

// NewMetrics registers engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "tasks_started_total",
			Help: "Tasks accepted for execution.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "tasks_completed_total",
			Help: "Tasks that reached the completed state.",
		}),
		TasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "tasks_failed_total",
			Help: "Tasks that reached the failed state, by error code.",
		}, []string{"code"}),
		TasksCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "tasks_cancelled_total",
			Help: "Tasks cancelled before completion.",
		}),
		Transfers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "transfers_total",
			Help: "Permanent agent handoffs.",
		}),
		Delegations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "delegations_total",
			Help: "Child tasks spawned by delegation.",
		}),
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "tool_invocations_total",
			Help: "Tool calls dispatched, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		InferenceRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh", Name: "inference_retries_total",
			Help: "Inference attempts retried after transient failure.",
		}),
		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskmesh", Name: "active_tasks",
			Help: "Tasks currently executing.",
		}),
	}
}
