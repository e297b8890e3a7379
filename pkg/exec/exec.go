// Package exec runs host processes on behalf of the toolkit.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"

	"github.com/nektos/actions-toolkit/pkg/common"
)

// Options tune a single process invocation.
type Options struct {
	// Dir is the working directory, the current directory when empty.
	Dir string
	// Env is merged over the environment of the current process.
	Env map[string]string
	// Input is written to the process stdin.
	Input []byte
	// Silent suppresses echoing the command line and its output.
	Silent bool
	// IgnoreReturnCode turns a non-zero exit into a normal result.
	IgnoreReturnCode bool
	// Stdout and Stderr receive the output in addition to the capture buffers.
	Stdout io.Writer
	Stderr io.Writer
}

// Output is the captured result of a process.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when a process exits with a non-zero code.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("The process '%s' failed with exit code %d", e.Command, e.ExitCode)
}

// Runner runs processes.
type Runner interface {
	Exec(ctx context.Context, name string, args []string, opts *Options) (int, error)
	Output(ctx context.Context, name string, args []string, opts *Options) (*Output, error)
}

// RunnerFunc adapts a function returning captured output to a Runner.
type RunnerFunc func(ctx context.Context, name string, args []string, opts *Options) (*Output, error)

func (f RunnerFunc) Exec(ctx context.Context, name string, args []string, opts *Options) (int, error) {
	out, err := f(ctx, name, args, opts)
	if out == nil {
		return -1, err
	}
	return out.ExitCode, err
}

func (f RunnerFunc) Output(ctx context.Context, name string, args []string, opts *Options) (*Output, error) {
	return f(ctx, name, args, opts)
}

// HostRunner runs processes on the host with os/exec.
type HostRunner struct {
	// Stdout receives the echoed command line and process output when not silent.
	Stdout io.Writer
}

var defaultRunner Runner = &HostRunner{}

// Default returns the runner used by the package level functions.
func Default() Runner {
	return defaultRunner
}

// Exec runs name with args and returns its exit code.
func Exec(ctx context.Context, name string, args []string, opts *Options) (int, error) {
	common.Logger(ctx).Debugf("Exec.exec: %s", CommandLine(name, args))
	return defaultRunner.Exec(ctx, name, args, opts)
}

// GetExecOutput runs name with args and captures its output.
func GetExecOutput(ctx context.Context, name string, args []string, opts *Options) (*Output, error) {
	common.Logger(ctx).Debugf("Exec.getExecOutput: %s", CommandLine(name, args))
	return defaultRunner.Output(ctx, name, args, opts)
}

// CommandLine renders name and args as a shell-quoted command line.
func CommandLine(name string, args []string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}

func (r *HostRunner) Exec(ctx context.Context, name string, args []string, opts *Options) (int, error) {
	out, err := r.Output(ctx, name, args, opts)
	if out == nil {
		return -1, err
	}
	return out.ExitCode, err
}

func (r *HostRunner) Output(ctx context.Context, name string, args []string, opts *Options) (*Output, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := common.Logger(ctx)

	echo := r.Stdout
	if echo == nil {
		echo = os.Stdout
	}

	path, err := osexec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("unable to locate executable file: %s: %w", name, err)
	}

	cmdline := CommandLine(name, args)
	logger.Debugf("running %s in %q", cmdline, opts.Dir)

	cmd := osexec.CommandContext(ctx, path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	if opts.Input != nil {
		cmd.Stdin = bytes.NewReader(opts.Input)
	}

	var stdout, stderr bytes.Buffer
	stdoutWriters := []io.Writer{&stdout}
	stderrWriters := []io.Writer{&stderr}
	if opts.Stdout != nil {
		stdoutWriters = append(stdoutWriters, opts.Stdout)
	}
	if opts.Stderr != nil {
		stderrWriters = append(stderrWriters, opts.Stderr)
	}
	var lineWriters []io.Writer
	if !opts.Silent {
		_, _ = fmt.Fprintf(echo, "[command]%s %s\n", path, shellquote.Join(args...))
		// stdout and stderr are copied by separate goroutines
		var mu sync.Mutex
		emit := func(line string) bool {
			mu.Lock()
			defer mu.Unlock()
			_, _ = io.WriteString(echo, line)
			return true
		}
		outLines, errLines := common.NewLineWriter(emit), common.NewLineWriter(emit)
		lineWriters = []io.Writer{outLines, errLines}
		stdoutWriters = append(stdoutWriters, outLines)
		stderrWriters = append(stderrWriters, errLines)
	}
	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	err = cmd.Run()
	for _, w := range lineWriters {
		common.FlushLineWriter(w)
	}

	out := &Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *osexec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		out.ExitCode = exitErr.ExitCode()
	}

	if out.ExitCode != 0 && !opts.IgnoreReturnCode {
		return out, &ExitError{Command: path, ExitCode: out.ExitCode}
	}
	return out, nil
}

func mergeEnv(base []string, env map[string]string) []string {
	if len(env) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := env[k]; ok {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}
