package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CodeRunner executes a snippet of source code.
// This abstraction keeps the python_repl tool testable without an interpreter.
type CodeRunner interface {
	Run(ctx context.Context, code string) (RunResult, error)
}

// RunResult is what an executed snippet produced.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output is the text reported back to the model: stdout, followed by the
// final stderr line when the script exited with an error.
func (r RunResult) Output() string {
	if r.ExitCode == 0 {
		return r.Stdout
	}
	last := lastLine(r.Stderr)
	if last == "" {
		last = fmt.Sprintf("exit status %d", r.ExitCode)
	}
	if r.Stdout == "" {
		return last
	}
	if !strings.HasSuffix(r.Stdout, "\n") {
		return r.Stdout + "\n" + last
	}
	return r.Stdout + last
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

const (
	defaultPythonBinary = "python3"
	defaultRunTimeout   = 2 * time.Minute
)

// RunError wraps a failure to run the interpreter with whatever it printed.
type RunError struct {
	Err    error
	Output string
}

func (e *RunError) Error() string {
	if e.Output == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Output)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// PythonRunner feeds code to a Python interpreter on stdin.
type PythonRunner struct {
	// Binary defaults to python3 on PATH.
	Binary string
	// Dir is the working directory; plots are written relative to it.
	Dir string
	// Timeout bounds a single run; zero means two minutes.
	Timeout time.Duration
	// Env is appended to the process environment.
	Env []string
}

// Run implements CodeRunner.
func (p *PythonRunner) Run(ctx context.Context, code string) (RunResult, error) {
	bin := p.Binary
	if bin == "" {
		bin = defaultPythonBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return RunResult{}, &RunError{Err: fmt.Errorf("python interpreter %q not found: %w", bin, err)}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-")
	cmd.Dir = p.Dir
	// Plots are written to files, never shown.
	cmd.Env = append(append(os.Environ(), "MPLBACKEND=Agg"), p.Env...)
	cmd.Stdin = strings.NewReader(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return res, &RunError{Err: fmt.Errorf("python run: %w", ctx.Err()), Output: lastLine(res.Stderr)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, &RunError{Err: fmt.Errorf("python run: %w", err), Output: res.Stderr}
	}
	return res, nil
}
