package supervisor_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/launchpadhq/launchpad/internal/supervisor"

	"github.com/stretchr/testify/require"
)

// flakyWorker fails its first `failures` invocations, then blocks until
// released. It records the start time of every invocation.
type flakyWorker struct {
	mu       sync.Mutex
	failures int
	calls    int
	starts   []time.Time
	release  chan error
}

func newFlakyWorker(failures int) *flakyWorker {
	return &flakyWorker{
		failures: failures,
		release:  make(chan error),
	}
}

func (w *flakyWorker) Run(time.Duration) error {
	w.mu.Lock()
	w.calls++
	call := w.calls
	w.starts = append(w.starts, time.Now())
	w.mu.Unlock()

	if call <= w.failures {
		return errors.New("unrecoverable pipeline error")
	}
	return <-w.release
}

func (w *flakyWorker) snapshot() (int, []time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, append([]time.Time(nil), w.starts...)
}

// quietOpts keeps the liveness poll out of the way so only the runner's
// own retry loop is under test.
func quietOpts() supervisor.Options {
	return supervisor.Options{
		PollInterval: time.Hour,
		Stagger:      time.Millisecond,
		Grace:        time.Millisecond,
	}
}

func TestRunnerRetries(t *testing.T) {
	t.Parallel()

	const backoff = 30 * time.Millisecond
	w := newFlakyWorker(3)
	sup := supervisor.New(quietOpts())
	require.NoError(t, sup.Register(supervisor.Spec{
		Name:         "flaky",
		Worker:       w,
		RestartDelay: backoff,
	}))

	var g sync.WaitGroup
	g.Go(func() {
		require.NoError(t, sup.Run(t.Context()))
	})

	require.Eventually(t, func() bool {
		st, ok := sup.Status("flaky")
		calls, _ := w.snapshot()
		return ok && st == supervisor.StatusRunning && calls == 4
	}, 5*time.Second, 5*time.Millisecond)

	_, starts := w.snapshot()
	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), backoff,
			"attempt %d started before the backoff elapsed", i)
	}
	require.EqualValues(t, 3, sup.Restarts("flaky"))

	sup.Stop()
	g.Wait()
}

func TestRunnerHandlesNormalReturn(t *testing.T) {
	t.Parallel()

	// the contract says Run never returns nil, the runner must treat it
	// as a failure anyway
	w := newFlakyWorker(0)
	first := true
	worker := supervisor.WorkerFunc(func(pause time.Duration) error {
		if first {
			first = false
			return nil
		}
		return w.Run(pause)
	})

	sup := supervisor.New(quietOpts())
	require.NoError(t, sup.Register(supervisor.Spec{
		Name:         "returner",
		Worker:       worker,
		RestartDelay: 10 * time.Millisecond,
	}))

	var g sync.WaitGroup
	g.Go(func() {
		require.NoError(t, sup.Run(t.Context()))
	})

	require.Eventually(t, func() bool {
		st, ok := sup.Status("returner")
		return ok && st == supervisor.StatusRunning && sup.Restarts("returner") == 1
	}, 5*time.Second, 5*time.Millisecond)

	sup.Stop()
	g.Wait()
}

func TestRunnerRecoversPanic(t *testing.T) {
	t.Parallel()

	w := newFlakyWorker(0)
	first := true
	worker := supervisor.WorkerFunc(func(pause time.Duration) error {
		if first {
			first = false
			panic("pipeline exploded")
		}
		return w.Run(pause)
	})

	sup := supervisor.New(quietOpts())
	require.NoError(t, sup.Register(supervisor.Spec{
		Name:         "panicky",
		Worker:       worker,
		RestartDelay: 10 * time.Millisecond,
	}))

	var g sync.WaitGroup
	g.Go(func() {
		require.NoError(t, sup.Run(t.Context()))
	})

	require.Eventually(t, func() bool {
		st, ok := sup.Status("panicky")
		return ok && st == supervisor.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	sup.Stop()
	g.Wait()
}

func TestStopPreventsRestart(t *testing.T) {
	t.Parallel()

	const backoff = 20 * time.Millisecond
	w := newFlakyWorker(0)
	sup := supervisor.New(quietOpts())
	require.NoError(t, sup.Register(supervisor.Spec{
		Name:         "stoppable",
		Worker:       w,
		RestartDelay: backoff,
	}))

	var g sync.WaitGroup
	g.Go(func() {
		require.NoError(t, sup.Run(t.Context()))
	})

	require.Eventually(t, func() bool {
		st, ok := sup.Status("stoppable")
		return ok && st == supervisor.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	sup.Stop()
	require.False(t, sup.Running())
	g.Wait()

	// inject the failure after stop: the attempt ends, no restart follows
	w.release <- errors.New("failed after stop")

	require.Eventually(t, func() bool {
		st, ok := sup.Status("stoppable")
		return ok && st == supervisor.StatusStopped
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(3 * backoff)
	calls, _ := w.snapshot()
	require.Equal(t, 1, calls, "worker must not restart after stop")
	require.Zero(t, sup.Restarts("stoppable"))
}
