package supervisor

import "errors"

var (
	// ErrAlreadyStarted is returned when Register or Run is called on a
	// supervisor whose Run already began.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrWorkerExists is returned when registering a worker under a name
	// that is already taken.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrInvalidSpec is returned when a spec misses its name or worker.
	ErrInvalidSpec = errors.New("invalid worker spec")

	// ErrNoWorkers is returned by Run when nothing was registered.
	ErrNoWorkers = errors.New("no workers registered")
)
