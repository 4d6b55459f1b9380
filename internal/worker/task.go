package worker

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/proofsheet/internal/service"
)

// Task is a unit of periodic background work.
type Task interface {
	// Name identifies the task in logs and metrics.
	Name() string

	// Run performs one pass of the task.
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

// NewTask creates a Task from a function.
func NewTask(name string, fn func(ctx context.Context) error) Task {
	return &funcTask{name: name, fn: fn}
}

func (t *funcTask) Name() string                  { return t.name }
func (t *funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// ExpireCheckoutsTask expires pending checkouts that outlived their TTL so
// that abandoned carts stop counting as open.
func ExpireCheckoutsTask(checkouts service.CheckoutService, logger *slog.Logger) Task {
	return NewTask("expire_checkouts", func(ctx context.Context) error {
		n, err := checkouts.ExpireStale(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Debug("checkout sweep finished", "expired", n)
		}
		return nil
	})
}
