// Package lifecycle manages process-level signal handling and the
// supervisor retry loop described in spec.md §6: the worker runs its
// serve loop until SIGINT/SIGTERM, and restarts it after a short sleep on
// unexpected failure rather than exiting.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jihwankim/compositeworker/pkg/logging"
)

// retryDelay is how long the supervisor waits before restarting a failed
// run of the serve loop.
const retryDelay = 2 * time.Second

// Controller cancels a context on SIGINT/SIGTERM and supervises a run
// function, restarting it on error until stopped.
type Controller struct {
	log    *logging.Logger
	cancel context.CancelFunc
}

// New creates a Controller that logs through log. WithSignals derives the
// context that a stop signal cancels.
func New(log *logging.Logger) *Controller {
	return &Controller{log: log}
}

// WithSignals returns a derived context that is cancelled on SIGINT or
// SIGTERM, and starts the goroutine that watches for them.
func (c *Controller) WithSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			c.log.Info("shutdown signal received", "signal", sig.String())
			signal.Stop(sigCh)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
		}
	}()

	return ctx
}

// Stop cancels the controller's context directly, without waiting for a
// signal.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Supervise runs fn until it returns nil or ctx is cancelled. If fn returns an
// error, or panics, Supervise logs it, sleeps retryDelay, and runs fn
// again, matching spec.md §6's "the worker process does not exit on an
// unexpected error; it logs and retries" requirement. fn covers the full
// startup-through-serve sequence, so a bad config file or a panic during
// engine construction is retried exactly like a failure of the serve loop
// itself.
func (c *Controller) Supervise(ctx context.Context, fn func(context.Context) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runGuarded(ctx, fn)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		c.log.Error("serve loop exited unexpectedly, restarting", "err", err, "retry_in", retryDelay.String())

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// runGuarded calls fn, recovering a panic and turning it into an error so
// Supervise's caller never crashes the process on an unhandled panic
// during startup or serving.
func (c *Controller) runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
