// Package execx runs the external tools the render pipeline depends on
// (fluidsynth, timidity, ffmpeg, ffprobe, python). Commands are built as
// argument lists by typed builders, never by string concatenation.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds any external invocation that does not carry its
// own deadline. A hung synthesizer must not pin a request forever.
const DefaultTimeout = 2 * time.Minute

// Command is a fully built invocation: binary plus argument vector.
type Command struct {
	Bin  string
	Args []string
}

func (c Command) String() string {
	return c.Bin + " " + strings.Join(c.Args, " ")
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// LastStdoutLine returns the final non-empty stdout line, which is where
// the extraction script prints its duration.
func (r Result) LastStdoutLine() string {
	lines := strings.Split(strings.TrimSpace(r.Stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// ExitError is returned for a nonzero exit status and carries the tool's
// stderr for diagnostics.
type ExitError struct {
	Cmd    Command
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Cmd.Bin, e.Code, strings.TrimSpace(e.Stderr))
}

// Runner executes commands with captured output and a deadline.
type Runner struct {
	Timeout time.Duration
}

func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout}
}

// Run executes cmd, waiting for completion. Nonzero exit becomes an
// *ExitError; a missing binary or context cancellation is returned as-is.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := exec.CommandContext(ctx, cmd.Bin, cmd.Args...)
	var stdout, stderr bytes.Buffer
	ec.Stdout = &stdout
	ec.Stderr = &stderr

	err := ec.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", cmd.Bin, ctx.Err())
	}
	var xe *exec.ExitError
	if errors.As(err, &xe) {
		return res, &ExitError{Cmd: cmd, Code: xe.ExitCode(), Stderr: res.Stderr}
	}
	return res, fmt.Errorf("run %s: %w", cmd.Bin, err)
}
