// Package metrics holds the prometheus collectors for the control plane and runners.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_tasks_created_total",
		Help: "Tasks created, by origin (api, workflow, schedule).",
	}, []string{"origin"})

	DispatchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "functionary_dispatch_attempts_total",
		Help: "TASK_PACKAGE publish attempts.",
	})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "functionary_dispatch_failures_total",
		Help: "Tasks left PENDING after exhausting their publish retries.",
	})

	ResultsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_results_recorded_total",
		Help: "Task results recorded, by resulting status.",
	}, []string{"status"})

	DuplicateResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "functionary_duplicate_results_total",
		Help: "TASK_RESULT messages ignored because the task already had a result.",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_messages_received_total",
		Help: "Broker deliveries, by x-msg-type and outcome.",
	}, []string{"type", "outcome"})

	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_builds_total",
		Help: "Package builds reaching a terminal status.",
	}, []string{"status"})

	ScheduledTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_scheduled_ticks_total",
		Help: "Scheduled task ticks, by outcome (created, skipped, error).",
	}, []string{"outcome"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "functionary_jobs_in_flight",
		Help: "Jobs currently executing on the worker pool.",
	})

	ContainerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "functionary_runner_containers_total",
		Help: "Containers executed by the runner, by outcome.",
	}, []string{"outcome"})
)

// Serve exposes the default registry on address under /metrics. It blocks until the server fails.
func Serve(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.WithFields(log.Fields{
		"Address": address,
	}).Info("Serving metrics")

	return http.ListenAndServe(address, mux)
}
