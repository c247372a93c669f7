// SPDX-License-Identifier: MIT

// Package procsup spawns and supervises one child OS process per camera
// pipeline. The supervisor never shares memory with a pipeline: the only
// channel between parent and child is the process's own exit status plus
// the signal used to ask it to stop, which is the typed, minimal "IPC"
// the design calls for.
//
// Reference: the supervisor/pipeline process boundary is a generalization
// of internal/stream/manager.go's FFmpeg-subprocess life-cycle (spawn,
// SIGINT, bounded wait, SIGKILL) one level up: here the supervised child is
// a re-exec of this same binary running a single camera's pipeline loop,
// rather than the transcoder itself.
package procsup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/util"
)

// PipelineArg is the hidden subcommand a re-exec'd child is started with;
// cmd/libreeye's main() dispatches on it before touching any supervisor
// state, so the child never starts a second control socket or scheduler.
const PipelineArg = "__pipeline__"

// DefaultStopTimeout bounds how long Stop waits for a graceful exit before
// escalating to SIGKILL.
const DefaultStopTimeout = 5 * time.Second

// executablePath resolves the path Spawn re-execs. Overridden in tests so
// they can exercise the supervision logic against a short-lived real
// process instead of re-execing the test binary itself.
var executablePath = os.Executable

// newCommand builds the *exec.Cmd for a pipeline child. Overridden in tests
// for the same reason as executablePath.
var newCommand = func(ctx context.Context, self, pipelineArg, cameraName string) *exec.Cmd {
	return exec.CommandContext(ctx, self, pipelineArg, cameraName)
}

// Process is a handle to one camera's supervised child process.
type Process struct {
	name        string
	sessionID   string
	stopTimeout time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	exitCode int
	exitErr  error
}

// Spawn re-execs the current binary as "<self> __pipeline__ <cameraName>",
// inheriting no file descriptors beyond the ones explicitly wired to
// stdout/stderr via logWriter, and starts a background goroutine to reap
// it. The returned Process is running; Spawn does not block waiting for
// the child's own pipeline loop to reach steady state (that race is the
// pipeline's "peek first byte vs first error" concern, not the
// supervisor's).
func Spawn(ctx context.Context, cameraName string, logWriter io.Writer, stopTimeout time.Duration) (*Process, error) {
	self, err := executablePath()
	if err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, "resolve self executable path", err)
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	cmd := newCommand(ctx, self, PipelineArg, cameraName)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	cmd.Stdin = nil
	// New process group so a signal delivered to the supervisor (e.g. a
	// terminal Ctrl-C) does not also race-deliver to children the
	// supervisor is trying to shut down in an orderly sequence.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	sessionID := uuid.NewString()

	if err := cmd.Start(); err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, fmt.Sprintf("spawn pipeline child for %q (session %s)", cameraName, sessionID), err)
	}

	fmt.Fprintf(logWriter, "[procsup] session=%s camera=%s pid=%d started\n", sessionID, cameraName, cmd.Process.Pid)

	p := &Process{
		name:        cameraName,
		sessionID:   sessionID,
		stopTimeout: stopTimeout,
		cmd:         cmd,
		exited:      make(chan struct{}),
	}

	util.SafeGo(fmt.Sprintf("procsup-reap-%s-%s", cameraName, sessionID), nil, func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		} else {
			p.exitCode = -1
		}
		p.mu.Unlock()
		close(p.exited)
	}, func(r any, _ []byte) {
		p.mu.Lock()
		p.exitErr = rerror.New(rerror.KindInternal, fmt.Sprintf("reap goroutine panicked: %v", r))
		p.exitCode = -1
		p.mu.Unlock()
		close(p.exited)
	})

	return p, nil
}

// Alive reports whether the child has not yet been reaped.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// PID returns the child's process ID, or 0 if it has already exited.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop sends SIGTERM and waits up to stopTimeout for the child to exit
// before escalating to SIGKILL, then returns the child's exit code.
// Calling Stop on an already-exited Process just returns its exit code.
//
// Reference: internal/stream/manager.go's stop(), generalized from
// SIGINT/5s/Kill to SIGTERM/stopTimeout/Kill against the re-exec'd child.
func (p *Process) Stop() int {
	p.mu.Lock()
	proc := p.cmd.Process
	p.mu.Unlock()

	if proc == nil {
		return p.ExitCode()
	}

	if !p.Alive() {
		return p.ExitCode()
	}

	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-p.exited:
		return p.ExitCode()
	case <-time.After(p.stopTimeout):
		_ = proc.Kill()
		<-p.exited
		return p.ExitCode()
	}
}

// ExitCode returns the child's exit code once it has been reaped, or -1 if
// it is still running.
func (p *Process) ExitCode() int {
	if p.Alive() {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Wait blocks until the child has been reaped and returns its exit code.
func (p *Process) Wait() int {
	<-p.exited
	return p.ExitCode()
}

// Name returns the camera name this process was spawned for.
func (p *Process) Name() string { return p.name }

// SessionID returns the correlation ID assigned to this spawn, used to tie
// together this process's own log lines with the supervisor's.
func (p *Process) SessionID() string { return p.sessionID }
