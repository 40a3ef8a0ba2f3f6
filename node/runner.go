package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRestartDelay is the pause before a task group is booted again.
const DefaultRestartDelay = 3 * time.Second

// ErrTaskExited wraps the reason the first task of a group returned.
var ErrTaskExited = errors.New("task exited")

// Task is one peer task of a group.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunGroup runs tasks until the first returns, cancels the rest and waits
// for them. The returned error names the first task to exit.
func RunGroup(ctx context.Context, log *slog.Logger, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		g.Go(func() error {
			log.Debug("Task started", slog.String("task", task.Name))
			err := task.Run(gctx)
			if err == nil {
				err = errors.New("returned")
			}
			log.Debug("Task stopped", slog.String("task", task.Name), "err", err)
			// Every exit is non-nil so the group cancels its peers
			return fmt.Errorf("%w: %s: %v", ErrTaskExited, task.Name, err)
		})
	}

	return g.Wait()
}

// Supervise boots a task group, and whenever it ends, waits delay and boots
// again. It returns only when ctx ends.
func Supervise(ctx context.Context, log *slog.Logger, delay time.Duration, onRestart func(), boot func(ctx context.Context) error) error {
	for {
		err := boot(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("Task group ended, restarting", slog.Duration("delay", delay), "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if onRestart != nil {
			onRestart()
		}
	}
}
