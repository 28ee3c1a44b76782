// Package runner executes external commands for the service lifecycle.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// Runner abstracts command execution for testability.
// Run blocks until the command exits; no timeout is applied.
type Runner interface {
	// Run executes commandLine with extraEnv merged over the inherited
	// environment and returns captured stdout. Stderr is discarded.
	Run(commandLine string, extraEnv map[string]string) (string, error)
}

// Func adapts an ordinary function to the Runner interface.
type Func func(commandLine string, extraEnv map[string]string) (string, error)

// Run calls f(commandLine, extraEnv).
func (f Func) Run(commandLine string, extraEnv map[string]string) (string, error) {
	return f(commandLine, extraEnv)
}

// ExecutionError reports a command that could not be run or exited non-zero.
type ExecutionError struct {
	Command string
	// ExitCode is -1 when the process never started.
	ExitCode int
	Err      error
}

// Error returns the formatted error string.
func (e *ExecutionError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("runner: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("runner: %s: exit status %d", e.Command, e.ExitCode)
}

// Unwrap returns the underlying cause, if any.
func (e *ExecutionError) Unwrap() error { return e.Err }

// ExecRunner implements Runner using os/exec. The command line is split into
// words with POSIX shell rules; no shell process is spawned.
type ExecRunner struct {
	logger  *slog.Logger
	verbose bool
}

// New returns an ExecRunner. When verbose is set every command line is
// echoed at info level instead of debug.
func New(logger *slog.Logger, verbose bool) *ExecRunner {
	return &ExecRunner{
		logger:  logger.With("component", "runner"),
		verbose: verbose,
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(commandLine string, extraEnv map[string]string) (string, error) {
	env := MergeEnv(os.Environ(), extraEnv)
	args, err := shell.Fields(commandLine, lookupFunc(env))
	if err != nil {
		return "", &ExecutionError{Command: commandLine, ExitCode: -1, Err: fmt.Errorf("parse command line: %w", err)}
	}
	if len(args) == 0 {
		return "", &ExecutionError{Command: commandLine, ExitCode: -1, Err: errors.New("empty command line")}
	}

	level := slog.LevelDebug
	if r.verbose {
		level = slog.LevelInfo
	}
	r.logger.Log(context.Background(), level, "exec", "command", commandLine, "env", envKeys(extraEnv))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 {
		r.logger.Debug("command stderr", "command", commandLine, "stderr", strings.TrimSpace(stderr.String()))
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", &ExecutionError{Command: commandLine, ExitCode: exitErr.ExitCode()}
		}
		return "", &ExecutionError{Command: commandLine, ExitCode: -1, Err: runErr}
	}
	return stdout.String(), nil
}

// Join quotes each word for the shell grammar Run understands and joins
// them with single spaces.
func Join(words ...string) (string, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("runner: quote %q: %w", w, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

// MergeEnv returns base with every entry of extra applied, overriding
// inherited values of the same name. New names are appended in sorted order.
func MergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[name]; ok {
			if !seen[name] {
				out = append(out, name+"="+v)
				seen[name] = true
			}
			continue
		}
		out = append(out, kv)
	}
	for _, name := range envKeys(extra) {
		if !seen[name] {
			out = append(out, name+"="+extra[name])
		}
	}
	return out
}

func lookupFunc(env []string) func(string) string {
	return func(name string) string {
		for i := len(env) - 1; i >= 0; i-- {
			if k, v, ok := strings.Cut(env[i], "="); ok && k == name {
				return v
			}
		}
		return ""
	}
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
