// Package supervisor keeps N independent, indefinitely-running workers
// alive, restarting them after failure and answering platform liveness
// probes through an attached health server.
//
// Overview
// Clients register uniquely named Specs, then call Run. Run launches one
// runner goroutine per worker (registration order, spaced by a stagger
// delay), the health serve loop, and a periodic liveness check. At most
// one runner goroutine exists per name at any instant.
//
// Each runner owns the catch-log-backoff-retry loop for its worker: a
// failed or panicked attempt is logged and retried after the spec's
// restart delay, as long as the running flag holds. The liveness check
// is a deliberately redundant backstop: it respawns runner goroutines
// that died without passing through the retry loop at all.
//
// Control flow:
//
//	Supervisor              runner{name}            Worker
//	    |                       |                      |
//	Register(spec) ------------>|                      |
//	Run() ------ go ----------->| Run(pause) --------->| blocks forever
//	    | gocron poll           |<------ error --------| (unrecoverable)
//	    | checkWorkers()        | log, backoff, retry  |
//	    |                       |                      |
//	Stop() clears running ----->| exits after current  |
//	                            | attempt finishes     |
//
// Invariants:
//   - At most one runner goroutine per name at a time.
//   - The running flag is written only by Run and Stop.
//   - A stop request never interrupts an in-flight Worker.Run; it only
//     prevents the next restart.
//   - Retry loops are iterative, never recursive.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRestartDelay  = 10 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultStagger       = 2 * time.Second
	defaultGrace         = 2 * time.Second
	defaultHealthBackoff = 5 * time.Second

	healthWorkerName = "health-server"
)

// HealthServer is the liveness endpoint the supervisor keeps alive
// alongside the workers. Serve blocks for the server's lifetime; a
// graceful Shutdown must make Serve return nil so the retry loop does
// not treat the stop as a failure.
type HealthServer interface {
	Serve() error
	Shutdown(ctx context.Context) error
}

// Options configure a Supervisor. The zero value gets the reference
// timings: 5s liveness poll, 2s startup stagger, 2s stop grace period
// and 5s health server backoff.
type Options struct {
	// PollInterval is the liveness check period.
	PollInterval time.Duration

	// Stagger separates consecutive worker startups.
	Stagger time.Duration

	// Grace is how long Stop lets in-flight cleanup and logs settle.
	Grace time.Duration

	// ReportCron enables a periodic status summary log line when set.
	// The expression must already be validated (config.ValidateCron).
	ReportCron string

	// Health is optional; nil disables the health endpoint.
	Health HealthServer

	// HealthBackoff is the retry delay after a health server failure,
	// shorter than worker restart delays since probes notice quickly.
	HealthBackoff time.Duration
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Stagger <= 0 {
		o.Stagger = defaultStagger
	}
	if o.Grace <= 0 {
		o.Grace = defaultGrace
	}
	if o.HealthBackoff <= 0 {
		o.HealthBackoff = defaultHealthBackoff
	}
}

// Supervisor composes the worker runners, the liveness monitor and the
// health server, and owns the process-wide running flag.
type Supervisor struct {
	opts      Options
	running   atomic.Bool
	started   atomic.Bool
	startedAt time.Time

	mu      sync.Mutex
	order   []string
	specs   map[string]Spec
	handles map[string]*handle
	health  *handle

	stopCh chan struct{}
}

func New(opts Options) *Supervisor {
	opts.withDefaults()
	return &Supervisor{
		opts:    opts,
		specs:   make(map[string]Spec),
		handles: make(map[string]*handle),
		stopCh:  make(chan struct{}),
	}
}

// Register adds a worker spec. It must be called before Run; worker
// names are unique.
func (s *Supervisor) Register(spec Spec) error {
	if s.started.Load() {
		return ErrAlreadyStarted
	}
	if spec.Name == "" || spec.Worker == nil {
		return fmt.Errorf("%w: name and worker are required", ErrInvalidSpec)
	}
	if spec.RestartDelay <= 0 {
		spec.RestartDelay = defaultRestartDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerExists, spec.Name)
	}
	s.specs[spec.Name] = spec
	s.order = append(s.order, spec.Name)
	return nil
}

// Run starts every registered worker in registration order, separated
// by the stagger delay, then the health serve loop and the liveness
// scheduler. It blocks until Stop is called or ctx is cancelled and
// returns nil on a graceful stop. Initialization errors are returned
// before any worker starts.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.mu.Lock()
	order := append([]string(nil), s.order...)
	s.mu.Unlock()
	if len(order) == 0 {
		return ErrNoWorkers
	}

	sched, err := s.newScheduler(ctx)
	if err != nil {
		return err
	}

	s.running.Store(true)
	s.startedAt = time.Now()
	slog.InfoContext(ctx, "starting all pipelines", "workers", len(order))

	for i, name := range order {
		if i > 0 {
			time.Sleep(s.opts.Stagger)
		}
		s.spawn(ctx, name)
	}

	var g errgroup.Group
	if s.opts.Health != nil {
		hh := newHandle(Spec{
			Name:         healthWorkerName,
			RestartDelay: s.opts.HealthBackoff,
			Worker: WorkerFunc(func(time.Duration) error {
				return s.opts.Health.Serve()
			}),
		})
		s.mu.Lock()
		s.health = hh
		s.mu.Unlock()
		g.Go(func() error {
			s.runWorker(ctx, hh)
			return nil
		})
	}

	sched.Start()
	slog.InfoContext(ctx, "all pipelines running")

	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.stopCh:
	}

	if err := sched.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down scheduler failed", "error", err)
	}
	// worker goroutines are not joined, only the health serve loop is
	// guaranteed to unblock after Stop
	_ = g.Wait()

	time.Sleep(s.opts.Grace)
	slog.InfoContext(ctx, "all pipelines stopped")
	return nil
}

// Stop clears the running flag and gracefully stops the health server.
// It never interrupts an in-flight Worker.Run: the current attempt runs
// to completion and the cleared flag only prevents the next restart.
// Calling Stop again is a safe no-op.
func (s *Supervisor) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	slog.Info("stopping all pipelines")

	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Grace)
		defer cancel()
		if err := s.opts.Health.Shutdown(ctx); err != nil {
			slog.Error("health server shutdown failed", "error", err)
		}
	}
	close(s.stopCh)
}

// Running reports the process-wide running flag, the single source of
// truth consulted before every restart decision.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Status returns the current status of a registered worker.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name]
	if !ok {
		return StatusStopped, false
	}
	return h.Status(), true
}

// Restarts returns how many times the named worker was restarted,
// counting both retry-loop restarts and monitor respawns.
func (s *Supervisor) Restarts(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name]
	if !ok {
		return 0
	}
	return h.restarts.Load()
}

// spawn creates the handle and runner goroutine for one registered
// worker. Handle-map writers (spawn, checkWorkers) serialize on s.mu so
// two paths never replace the same handle concurrently.
func (s *Supervisor) spawn(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := newHandle(s.specs[name])
	s.handles[name] = h
	go s.runWorker(ctx, h)
}

// checkWorkers is the liveness backstop. A handle whose done channel is
// closed while the supervisor is still running means the runner
// goroutine died without passing through its own retry loop; a fresh
// runner is spawned for it. Handles that are alive, including ones the
// retry loop already replaced, are skipped, so the check is idempotent.
func (s *Supervisor) checkWorkers(ctx context.Context) {
	if !s.running.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range s.handles {
		if h.alive() {
			continue
		}
		if !s.running.Load() {
			return
		}
		nh := newHandle(h.spec)
		nh.restarts.Store(h.restarts.Load() + 1)
		s.handles[name] = nh
		slog.WarnContext(ctx, "worker goroutine died, respawning", "worker", name)
		go s.runWorker(ctx, nh)
	}
}

// logStatus emits the periodic status summary when a report schedule is
// configured. The health HTTP body stays a static "ok" on purpose; this
// log line is where per-worker state is surfaced to operators.
func (s *Supervisor) logStatus(ctx context.Context) {
	attrs := make([]any, 0, len(s.order)+2)

	s.mu.Lock()
	for _, name := range s.order {
		h, ok := s.handles[name]
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Group(name,
			"status", h.Status().String(),
			"restarts", h.restarts.Load(),
		))
	}
	if s.health != nil {
		attrs = append(attrs, slog.Group(healthWorkerName,
			"status", s.health.Status().String(),
			"restarts", s.health.restarts.Load(),
		))
	}
	s.mu.Unlock()

	attrs = append(attrs, "uptime", time.Since(s.startedAt).Round(time.Second).String())
	slog.InfoContext(ctx, "pipeline status", attrs...)
}

func (s *Supervisor) newScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.opts.PollInterval),
		gocron.NewTask(func() { s.checkWorkers(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing liveness job: %w", err)
	}

	if s.opts.ReportCron != "" {
		_, err = sched.NewJob(
			gocron.CronJob(s.opts.ReportCron, false),
			gocron.NewTask(func() { s.logStatus(ctx) }),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing report job: %w", err)
		}
	}
	return sched, nil
}
