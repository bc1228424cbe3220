package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-cmd/cmd"
)

// runStreaming executes a command with live line-by-line output using
// go-cmd/cmd. Lines are echoed to the terminal as they are produced and
// still captured (capped) for the Result.
func (r *Runner) runStreaming(ctx context.Context, dir, name string, args []string) (*Result, error) {
	c := cmd.NewCmdOptions(cmd.Options{
		Buffered:  false,
		Streaming: true,
	}, name, args...)
	if dir != "" {
		c.Dir = dir
	}

	statusChan := c.Start()

	var stdoutBuf, stderrBuf strings.Builder
	var stdoutBytes, stderrBytes int

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for line := range c.Stdout {
			fmt.Fprintln(os.Stdout, line)
			if stdoutBytes += len(line) + 1; stdoutBytes <= maxOutputBytes {
				stdoutBuf.WriteString(line + "\n")
			}
		}
	}()
	go func() {
		defer wg.Done()
		for line := range c.Stderr {
			fmt.Fprintln(os.Stderr, line)
			if stderrBytes += len(line) + 1; stderrBytes <= maxOutputBytes {
				stderrBuf.WriteString(line + "\n")
			}
		}
	}()

	// Kill the child on cancellation; the status channel still delivers
	// the final (failed) status below.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-stopWatch:
		}
	}()

	status := <-statusChan
	close(stopWatch)
	wg.Wait()

	stdout := stdoutBuf.String()
	if stdoutBytes > maxOutputBytes {
		stdout += "\n[output truncated]"
	}
	stderr := stderrBuf.String()
	if stderrBytes > maxOutputBytes {
		stderr += "\n[output truncated]"
	}

	res := &Result{
		ExitCode: status.Exit,
		Stdout:   stdout,
		Stderr:   stderr,
	}

	err := status.Error
	if err == nil && status.Exit != 0 {
		err = fmt.Errorf("exit status %d", status.Exit)
	}
	return res, err
}
