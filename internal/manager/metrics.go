package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfrun_manager_submissions_total",
			Help: "Submission attempts by outcome.",
		},
		[]string{"outcome"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfrun_manager_completions_total",
			Help: "Executions observed in a terminal state, by state.",
		},
		[]string{"state"},
	)

	abandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dfrun_manager_abandoned_total",
			Help: "Executions abandoned after exhausting retries.",
		},
	)

	evictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dfrun_manager_evicted_total",
			Help: "Executions evicted at shutdown before completing.",
		},
	)

	callbackPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dfrun_manager_callback_panics_total",
			Help: "Lifecycle callbacks that panicked.",
		},
	)

	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dfrun_manager_active_executions",
			Help: "Executions currently held by the manager.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(completionsTotal)
	prometheus.MustRegister(abandonedTotal)
	prometheus.MustRegister(evictedTotal)
	prometheus.MustRegister(callbackPanicsTotal)
	prometheus.MustRegister(activeExecutions)
}
