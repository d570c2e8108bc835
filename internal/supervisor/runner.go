package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/launchpadhq/launchpad/internal/log"
)

// runWorker keeps exactly one goroutine alive for one Spec. It is an
// iterative catch-log-backoff-retry loop bounded only by the running
// flag; a recursive retry would grow the stack across the thousands of
// restarts a long-lived process accumulates.
//
// The deferred close of h.done is the liveness signal. It fires on any
// exit path, including runtime.Goexit from inside the worker, which
// unwinds past the recover below and kills the goroutine without an
// observed error.
func (s *Supervisor) runWorker(ctx context.Context, h *handle) {
	defer close(h.done)

	ctx = log.WithWorker(ctx, h.spec.Name)
	policy := backoff.NewConstantBackOff(h.spec.RestartDelay)

	for {
		attempt := uuid.NewString()
		h.setStatus(StatusStarting)
		slog.InfoContext(ctx, "worker starting", "attempt", attempt, "pause", h.spec.Pause)

		h.setStatus(StatusRunning)
		err := runAttempt(h.spec)

		if !s.running.Load() {
			h.setStatus(StatusStopped)
			slog.InfoContext(ctx, "worker stopped", "attempt", attempt)
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "worker failed", "attempt", attempt, "error", err)
		} else {
			// the contract says Run never returns normally, handle it anyway
			slog.ErrorContext(ctx, "worker returned without error", "attempt", attempt)
		}

		h.restarts.Add(1)
		h.setStatus(StatusBackoff)
		delay := policy.NextBackOff()
		slog.InfoContext(ctx, "worker backing off", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		// running may have been cleared while sleeping
		if !s.running.Load() {
			h.setStatus(StatusStopped)
			slog.InfoContext(ctx, "worker stopped", "attempt", attempt)
			return
		}
	}
}

// runAttempt invokes the blocking Worker.Run once, converting a panic
// into an ordinary worker failure so the retry loop stays in charge.
func runAttempt(spec Spec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v\n%s", spec.Name, r, debug.Stack())
		}
	}()
	return spec.Worker.Run(spec.Pause)
}
