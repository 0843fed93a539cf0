// Package compile runs the external command that compiles the plugin's Java
// sources. The build itself never invokes javac directly; projects point
// build.compile_command at whatever produces the classes directory.
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var ErrNoCommand = errors.New("no compile command configured")

// Result holds the outcome of one compile run
type Result struct {
	Output   string
	Duration time.Duration
}

// Runner executes the compile command
type Runner struct {
	dir     string
	argv    []string
	timeout time.Duration
}

// NewRunner creates a runner executing argv inside dir
func NewRunner(dir string, argv []string, timeout time.Duration) *Runner {
	return &Runner{
		dir:     dir,
		argv:    argv,
		timeout: timeout,
	}
}

// Configured reports whether there is anything to run
func (r *Runner) Configured() bool {
	return len(r.argv) > 0 && strings.TrimSpace(r.argv[0]) != ""
}

// Run executes the command, returning its combined output
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.Configured() {
		return Result{}, ErrNoCommand
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = r.dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Grandchildren holding the output pipe must not outlive the timeout.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: out.String(), Duration: time.Since(start)}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s timed out after %s", r.argv[0], r.timeout)
	}
	if err != nil {
		return res, fmt.Errorf("%s failed: %w%s", r.argv[0], err, tail(res.Output, 5))
	}

	return res, nil
}

// tail returns the last n non-empty lines of output for error messages
func tail(output string, n int) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimRight(line, "\r "); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return "\n" + strings.Join(lines, "\n")
}
