// Package worker runs periodic background tasks such as expiring abandoned
// checkouts.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/proofsheet/internal/metrics"
)

// Worker runs each registered task on a fixed interval.
type Worker struct {
	tasks  []Task
	config Config
	logger *slog.Logger

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task to the worker. Call this before Start().
func (w *Worker) Register(task Task) {
	for _, t := range w.tasks {
		if t.Name() == task.Name() {
			w.logger.Warn("Registering duplicate task name", "task", task.Name())
		}
	}
	w.tasks = append(w.tasks, task)
	w.logger.Debug("Registered task", "task", task.Name())
}

// Start runs every task once and then on each interval until Stop is called
// or ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for _, task := range w.tasks {
		w.wg.Add(1)
		go w.runLoop(ctx, task)
	}

	w.logger.Info("Worker started", "tasks", len(w.tasks), "interval", w.config.Interval)
}

// Stop signals all tasks to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some tasks may still be running")
	}
}

// runLoop is the main loop for one task's goroutine.
func (w *Worker) runLoop(ctx context.Context, task Task) {
	defer w.wg.Done()

	logger := w.logger.With("task", task.Name())
	logger.Debug("Task loop started")

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx, task, logger)

		select {
		case <-w.stopCh:
			logger.Debug("Task loop stopping")
			return
		case <-ctx.Done():
			logger.Debug("Task loop stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// runOnce executes a single pass of task with the task timeout, recording
// its outcome. A panicking task is logged and counted as failed.
func (w *Worker) runOnce(ctx context.Context, task Task, logger *slog.Logger) {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Run(taskCtx)
	}()

	if err != nil {
		metrics.TaskFailed(task.Name())
		logger.Error("Task failed", "error", err)
		return
	}
	metrics.TaskCompleted(task.Name(), time.Since(start))
}
