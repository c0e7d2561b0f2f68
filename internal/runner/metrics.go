package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksInflight tracks tasks currently held by workers.
	tasksInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_inflight",
		Help: "Number of tasks currently executing",
	})

	// taskRuns counts completed runs by terminal status.
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs_total",
		Help: "Total completed task runs by status",
	}, []string{"status"})
)
