package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background task runner.
type Config struct {
	// Interval is how often each registered task runs. Tasks also run once
	// immediately on Start.
	// Default: 1 minute
	Interval time.Duration

	// TaskTimeout is the maximum time a single run of a task may take.
	// If a run exceeds this timeout, its context is canceled.
	// Default: 30 seconds
	TaskTimeout time.Duration

	// ShutdownTimeout is how long to wait for running tasks to complete during graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Minute,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1 second, got %v", c.Interval)
	}
	if c.TaskTimeout < time.Second {
		return fmt.Errorf("task timeout must be at least 1 second, got %v", c.TaskTimeout)
	}
	if c.TaskTimeout > c.Interval {
		return fmt.Errorf("task timeout (%v) must not exceed the interval (%v)", c.TaskTimeout, c.Interval)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
