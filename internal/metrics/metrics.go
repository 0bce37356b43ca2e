// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for task execution,
// the ready queue, and the exclusive lock, following the counter/gauge
// naming and wrapper-function conventions the rest of the fleet uses
// for its own promauto metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rushti_tasks_total",
			Help: "Total tasks reaching a terminal status, by workflow and status",
		},
		[]string{"workflow", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rushti_task_duration_seconds",
			Help:    "Observed task execution duration by instance and process",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		},
		[]string{"instance", "process"},
	)

	taskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rushti_task_retries_total",
			Help: "Total retry attempts by instance and process",
		},
		[]string{"instance", "process"},
	)

	readyQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rushti_ready_queue_depth",
			Help: "Current number of READY tasks waiting for a worker, by workflow",
		},
		[]string{"workflow"},
	)

	runningWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rushti_running_workers",
			Help: "Current number of RUNNING tasks, by workflow",
		},
		[]string{"workflow"},
	)

	exclusiveLockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rushti_exclusive_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the exclusive lock, by workflow",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	checkpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rushti_checkpoint_saves_total",
			Help: "Total checkpoint snapshots written, by workflow and result",
		},
		[]string{"workflow", "result"},
	)
)

// RecordTaskTerminal increments the terminal-status counter for a task.
func RecordTaskTerminal(workflow, status string) {
	tasksTotal.WithLabelValues(workflow, status).Inc()
}

// ObserveTaskDuration records one task's wall-clock execution time.
func ObserveTaskDuration(instance, process string, seconds float64) {
	taskDuration.WithLabelValues(instance, process).Observe(seconds)
}

// RecordTaskRetry increments the retry counter for a process on an instance.
func RecordTaskRetry(instance, process string) {
	taskRetries.WithLabelValues(instance, process).Inc()
}

// SetReadyQueueDepth reports the current ready-queue length for a workflow.
func SetReadyQueueDepth(workflow string, depth int) {
	readyQueueDepth.WithLabelValues(workflow).Set(float64(depth))
}

// SetRunningWorkers reports the current in-flight task count for a workflow.
func SetRunningWorkers(workflow string, n int) {
	runningWorkers.WithLabelValues(workflow).Set(float64(n))
}

// ObserveExclusiveLockWait records how long a run waited to acquire the
// exclusive lock before proceeding or timing out.
func ObserveExclusiveLockWait(workflow string, seconds float64) {
	exclusiveLockWaitSeconds.WithLabelValues(workflow).Observe(seconds)
}

// RecordCheckpointSave increments the checkpoint-save counter. result is
// "ok" or "error".
func RecordCheckpointSave(workflow, result string) {
	checkpointSaves.WithLabelValues(workflow, result).Inc()
}
