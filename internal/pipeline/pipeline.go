// Package pipeline adapts the scraping pipelines to the supervisor's
// Worker contract. The pipelines themselves, site discovery / template
// extraction and product extraction, are external programs; their
// scraping, parsing and persistence internals stay out of this process.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Command describes the child process implementing one pipeline.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// Exec runs one pipeline as a supervised child process. Run starts the
// process and blocks until it exits; the process is expected to loop
// forever, so any exit surfaces as the unrecoverable failure the
// supervisor's retry loop handles.
type Exec struct {
	name string
	cmd  Command
}

func NewExec(name string, cmd Command) *Exec {
	return &Exec{name: name, cmd: cmd}
}

// Run implements the worker contract. The pause between pipeline
// iterations is handed to the child through the PIPELINE_PAUSE
// environment variable as integer seconds, matching the pipelines'
// run-continuous entry point.
func (e *Exec) Run(pause time.Duration) error {
	cmd := exec.Command(e.cmd.Path, e.cmd.Args...)
	cmd.Env = append(os.Environ(), e.cmd.Env...)
	cmd.Env = append(cmd.Env, "PIPELINE_PAUSE="+strconv.Itoa(int(pause/time.Second)))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipeline %s: stdout pipe: %w", e.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipeline %s: stderr pipe: %w", e.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pipeline %s: starting %s: %w", e.name, e.cmd.Path, err)
	}
	slog.Info("pipeline process started", "pipeline", e.name, "path", e.cmd.Path, "pid", cmd.Process.Pid)

	// both pipes must be drained before Wait, it closes them
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.forward(stdout, slog.LevelInfo)
	}()
	go func() {
		defer wg.Done()
		e.forward(stderr, slog.LevelWarn)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pipeline %s exited: %w", e.name, err)
	}
	// a zero exit is still a contract breach, the caller logs it as such
	return nil
}

// forward turns the child's output lines into log records.
func (e *Exec) forward(r io.Reader, level slog.Level) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Log(context.Background(), level, scanner.Text(), "pipeline", e.name)
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		slog.Error("forwarding pipeline output", "pipeline", e.name, "error", err)
	}
}
