package supervisor

import (
	"sync/atomic"
	"time"
)

// Worker is the contract every supervised unit exposes: a blocking run
// loop which only returns on an unrecoverable error. pause is the delay
// the worker inserts between its own iterations; the supervisor passes
// it through verbatim and places no other requirement on the worker.
//
// There is no cooperative cancellation. Once invoked, Run cannot be
// interrupted; the supervisor may only decline to invoke it again.
// Worker goroutines are therefore daemon-equivalent: process exit does
// not wait for them.
type Worker interface {
	Run(pause time.Duration) error
}

// WorkerFunc adapts a plain function to the Worker contract.
type WorkerFunc func(pause time.Duration) error

func (f WorkerFunc) Run(pause time.Duration) error {
	return f(pause)
}

// Spec describes one supervised worker. Immutable once registered.
type Spec struct {
	// Name identifies the worker in logs and in the handle map.
	Name string

	// Worker is the blocking run loop to keep alive.
	Worker Worker

	// Pause is passed verbatim to Worker.Run.
	Pause time.Duration

	// RestartDelay is the fixed backoff between a failure and the next
	// attempt. Zero means the package default of 10 seconds.
	RestartDelay time.Duration
}

// Status is the lifecycle state of one worker's current attempt.
type Status int32

const (
	StatusStarting Status = iota
	StatusRunning
	StatusBackoff
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusBackoff:
		return "backoff"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// handle pairs a Spec with its one live runner goroutine. The done
// channel is closed when the goroutine exits, which is the liveness
// signal the monitor polls: a closed channel with the supervisor still
// running means the goroutine died outside the retry loop.
type handle struct {
	spec     Spec
	done     chan struct{}
	status   atomic.Int32
	restarts atomic.Uint64
}

func newHandle(spec Spec) *handle {
	return &handle{
		spec: spec,
		done: make(chan struct{}),
	}
}

func (h *handle) setStatus(s Status) {
	h.status.Store(int32(s))
}

func (h *handle) Status() Status {
	return Status(h.status.Load())
}

func (h *handle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
