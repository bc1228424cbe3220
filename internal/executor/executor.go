// Package executor runs the external commands that perform all system
// mutations: package manager calls, service control, source builds, and
// privileged file writes. Every side effect of the program flows through a
// single Runner so failure handling, verbose output, and run journaling are
// centralized.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// maxOutputBytes is the maximum number of bytes captured per output stream.
const maxOutputBytes = 1 << 20 // 1 MiB

// Result is the outcome of one external command. Ephemeral, never persisted
// beyond the run journal.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecError reports a command that exited non-zero (or failed to start).
// It carries the structured argv and captured stderr for the top-level
// error message.
type ExecError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	argv := strings.Join(append([]string{e.Name}, e.Args...), " ")
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return fmt.Sprintf("command %q failed (exit %d): %s", argv, e.ExitCode, s)
	}
	if e.Err != nil {
		return fmt.Sprintf("command %q failed: %v", argv, e.Err)
	}
	return fmt.Sprintf("command %q failed (exit %d)", argv, e.ExitCode)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Recorder receives every dispatched command. The run journal implements it.
type Recorder interface {
	RecordCommand(name string, args []string, res *Result, err error, elapsed time.Duration)
}

// Runner executes external commands, elevating per command via sudo.
// In verbose mode command output is streamed live while still captured.
type Runner struct {
	logger   *slog.Logger
	verbose  bool
	recorder Recorder
}

// New creates a Runner. verbose enables live output streaming.
func New(logger *slog.Logger, verbose bool) *Runner {
	return &Runner{logger: logger, verbose: verbose}
}

// SetRecorder installs a command recorder. A nil recorder disables recording.
func (r *Runner) SetRecorder(rec Recorder) { r.recorder = rec }

// Run executes a command and fails with *ExecError on non-zero exit.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return r.dispatch(ctx, "", nil, name, args)
}

// RunInDir executes a command in a specific working directory.
func (r *Runner) RunInDir(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	return r.dispatch(ctx, dir, nil, name, args)
}

// Sudo wraps a command with sudo for privileged operations. The binary is
// resolved to an absolute path so the invocation matches sudoers rules.
func (r *Runner) Sudo(ctx context.Context, name string, args ...string) (*Result, error) {
	argv, err := sudoArgv(name, args)
	if err != nil {
		return nil, err
	}
	return r.dispatch(ctx, "", nil, "sudo", argv)
}

// SudoInDir wraps a command with sudo and runs it in dir.
func (r *Runner) SudoInDir(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	// Relative build tool paths (./bootstrap, ./configure) must resolve
	// against dir, not the caller's cwd, so skip LookPath for those.
	if strings.HasPrefix(name, "./") {
		return r.dispatch(ctx, dir, nil, "sudo", append([]string{name}, args...))
	}
	argv, err := sudoArgv(name, args)
	if err != nil {
		return nil, err
	}
	return r.dispatch(ctx, dir, nil, "sudo", argv)
}

// SudoWithStdin wraps a command with sudo and feeds it stdin.
func (r *Runner) SudoWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) (*Result, error) {
	argv, err := sudoArgv(name, args)
	if err != nil {
		return nil, err
	}
	return r.dispatch(ctx, "", stdin, "sudo", argv)
}

// Query runs a read-only probe command and returns its trimmed stdout.
// Callers that probe for optional facts (package presence, sound server)
// may ignore the error.
func (r *Runner) Query(ctx context.Context, name string, args ...string) (string, error) {
	res, err := r.dispatch(ctx, "", nil, name, args)
	if res == nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), err
}

// Check runs a command and reports whether it exited zero.
func (r *Runner) Check(ctx context.Context, name string, args ...string) bool {
	_, err := r.dispatch(ctx, "", nil, name, args)
	return err == nil
}

// sudoArgv resolves name and builds the argv passed to sudo.
func sudoArgv(name string, args []string) ([]string, error) {
	abs, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", name)
	}
	return append([]string{abs}, args...), nil
}

// dispatch runs the command, records it, and maps non-zero exits to ExecError.
func (r *Runner) dispatch(ctx context.Context, dir string, stdin io.Reader, name string, args []string) (*Result, error) {
	r.logger.Debug("executing", "command", name, "args", args, "dir", dir)

	start := time.Now()
	var res *Result
	var err error
	if r.verbose && stdin == nil {
		res, err = r.runStreaming(ctx, dir, name, args)
	} else {
		res, err = runBuffered(ctx, dir, stdin, name, args)
	}
	if r.recorder != nil {
		r.recorder.RecordCommand(name, args, res, err, time.Since(start))
	}

	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case err != nil:
		execErr := &ExecError{Name: name, Args: args, ExitCode: -1, Err: err}
		if res != nil {
			execErr.ExitCode = res.ExitCode
			execErr.Stderr = res.Stderr
			// The underlying exec error adds nothing once we have the
			// exit code and stderr.
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				execErr.Err = nil
			}
		}
		return res, execErr
	}
	return res, nil
}

// limitWriter stops capturing after limit bytes but keeps reporting full
// writes so the underlying command never fails on a full pipe.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
	n     int
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.n
	lw.n += len(p)
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	if _, err := lw.buf.Write(toWrite); err != nil {
		return len(p), err
	}
	return len(p), nil
}

func (lw *limitWriter) String() string {
	s := lw.buf.String()
	if lw.n > lw.limit {
		s += "\n[output truncated]"
	}
	return s
}

func runBuffered(ctx context.Context, dir string, stdin io.Reader, name string, args []string) (*Result, error) {
	c := exec.CommandContext(ctx, name, args...)
	c.Dir = dir
	c.Stdin = stdin

	stdout := &limitWriter{buf: &bytes.Buffer{}, limit: maxOutputBytes}
	stderr := &limitWriter{buf: &bytes.Buffer{}, limit: maxOutputBytes}
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()

	res := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}
	return res, err
}
