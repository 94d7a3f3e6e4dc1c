// Package supervisor runs the dependency-install and start steps inside a
// sandbox, streams combined process output to a caller-supplied sink as it
// arrives, and watches the start step for the server-ready signal.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/previewlabs/previewd/pkg/profile"
	"github.com/previewlabs/previewd/pkg/sandbox"
)

// DefaultInstallTimeout bounds the install step.
const DefaultInstallTimeout = 90 * time.Second

// TimeoutError reports a phase exceeding its time budget.
type TimeoutError struct {
	Phase  string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Phase, e.Budget)
}

// StartError reports that the start command could not be spawned. It is
// distinct from a post-start crash, which surfaces only as output.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start command could not be spawned: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Supervisor drives install/start steps through a sandbox runtime.
type Supervisor struct {
	rt             sandbox.Runtime
	installTimeout time.Duration
}

// New creates a Supervisor with the default install budget.
func New(rt sandbox.Runtime) *Supervisor {
	return &Supervisor{rt: rt, installTimeout: DefaultInstallTimeout}
}

// WithInstallTimeout overrides the install budget. Zero keeps the default.
func (s *Supervisor) WithInstallTimeout(d time.Duration) *Supervisor {
	if d > 0 {
		s.installTimeout = d
	}
	return s
}

// Install runs the dependency-install command and returns its exit code.
// A command with an empty program means the profile needs no install step.
// The sink receives every output line; sends never block completion
// detection (lines are dropped if the sink is full).
func (s *Supervisor) Install(ctx context.Context, h sandbox.Handle, cmd profile.Command, sink chan<- string) (int, error) {
	if cmd.Program == "" {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.installTimeout)
	defer cancel()

	proc, err := s.rt.Spawn(ctx, h, cmd.Program, cmd.Args)
	if err != nil {
		return -1, fmt.Errorf("spawning install: %w", err)
	}

	for proc.Scan() {
		push(sink, proc.Text())
	}
	code, err := proc.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return -1, &TimeoutError{Phase: "install", Budget: s.installTimeout}
	}
	if err != nil {
		return -1, err
	}
	return code, nil
}

// Start spawns the start command and blocks until the server-ready signal
// fires, the budget expires, or the process exits early. onReady is invoked
// exactly once, with the externally reachable preview URL, the first time
// the signal fires. Output continues streaming to the sink after Start
// returns, until the process exits.
func (s *Supervisor) Start(ctx context.Context, h sandbox.Handle, cmd profile.Command, budget time.Duration, sink chan<- string, onReady func(url string)) error {
	proc, err := s.rt.Spawn(ctx, h, cmd.Program, cmd.Args)
	if err != nil {
		return &StartError{Err: err}
	}

	ready := make(chan string, 1)
	exited := make(chan int, 1)

	go func() {
		signalled := false
		for proc.Scan() {
			line := proc.Text()
			push(sink, line)
			if signalled {
				continue
			}
			port, ok := ParseReadySignal(line)
			if !ok {
				continue
			}
			signalled = true
			url, err := s.rt.PreviewURL(ctx, h, port)
			if err != nil {
				url = fmt.Sprintf("http://localhost:%d", port)
			}
			ready <- url
		}
		code, _ := proc.Wait()
		exited <- code
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case url := <-ready:
		onReady(url)
		return nil
	case code := <-exited:
		return fmt.Errorf("dev server exited before ready (exit code %d)", code)
	case <-timer.C:
		_ = proc.Kill()
		return &TimeoutError{Phase: "start", Budget: budget}
	case <-ctx.Done():
		_ = proc.Kill()
		return ctx.Err()
	}
}

// push forwards a line to the sink without blocking. Slow consumers lose
// lines rather than stalling completion detection.
func push(sink chan<- string, line string) {
	if sink == nil {
		return
	}
	select {
	case sink <- line:
	default:
	}
}
