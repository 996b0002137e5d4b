// Package executor turns job scripts into running processes, on the host
// shell or inside a single-use container, and multiplexes their output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// CommandResult holds the output of a single buffered command execution.
type CommandResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandExecutor runs short-lived commands and buffers their output.
// Implementations: RealExecutor, and fakes in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error)
}

// Command is a streaming process invocation. A nil Env inherits the
// caller's environment; job scripts always pass an explicit list.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// ExitStatus is how a process ended. A process terminated by a signal has
// Signal set and Code = 128 + signal, so it always counts as a failure.
type ExitStatus struct {
	Code   int
	Signal int
}

// Signaled reports whether the process was killed by a signal.
func (s ExitStatus) Signaled() bool { return s.Signal != 0 }

func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("killed by signal %d (code %d)", s.Signal, s.Code)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// StreamRunner runs a process to completion while streaming its output.
// A returned error means no exit status exists (the process never started).
type StreamRunner interface {
	Stream(ctx context.Context, cmd Command) (ExitStatus, error)
}

// RealExecutor runs commands via os/exec.
type RealExecutor struct{}

// Execute runs a command with the given arguments and environment. A nil
// env inherits the caller's environment.
func (r *RealExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("execute command %q: %w", command, err)
		}
		exitCode = exitStatus(exitErr).Code
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// Stream runs cmd and reports its exit status.
func (r *RealExecutor) Stream(ctx context.Context, c Command) (ExitStatus, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	err := cmd.Run()
	if err == nil {
		return ExitStatus{}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr), nil
	}
	return ExitStatus{}, fmt.Errorf("spawn %q: %w", c.Name, err)
}

// CommandError is a container-engine command that exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// EnvList renders vars as KEY=VALUE entries with overlay taking precedence.
// Keys are sorted for a stable process environment.
func EnvList(vars map[string]string, overlay map[string]string) []string {
	merged := make(map[string]string, len(vars)+len(overlay))
	for k, v := range vars {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
