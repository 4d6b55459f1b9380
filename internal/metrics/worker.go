package metrics

import "time"

// TaskCompleted records a successful periodic task run
func TaskCompleted(task string, duration time.Duration) {
	TaskRunsTotal.WithLabelValues(task, "completed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// TaskFailed records a failed periodic task run
func TaskFailed(task string) {
	TaskRunsTotal.WithLabelValues(task, "failed").Inc()
}
