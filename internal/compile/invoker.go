// Package compile drives the external geometry compiler for one render at a
// time: write source, spawn, capture, classify, clean up.
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"scad-studio/internal/domain"
)

// DefaultTimeout bounds one compiler invocation.
const DefaultTimeout = 60 * time.Second

// Request contains the source text and the pre-allocated workspace paths for
// one invocation. The paths come from the artifact store, which guarantees
// they are unique per render.
type Request struct {
	Source     string
	Kind       domain.OutputKind
	Dir        string
	InputPath  string
	OutputPath string
}

// Outcome captures a successful invocation: full process output plus the
// produced artifact path. The output file's lifetime is owned by the artifact
// store from here on.
type Outcome struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	ArtifactPath string
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// ErrorKind classifies invocation failures.
type ErrorKind string

const (
	// ErrorKindUnavailable means the compiler executable could not be
	// spawned at all. A deployment problem, never a user-source problem.
	ErrorKindUnavailable ErrorKind = "compiler_unavailable"
	// ErrorKindFailed means the compiler ran and rejected the source, or
	// reported success without producing usable output.
	ErrorKindFailed ErrorKind = "compilation_failed"
	// ErrorKindTimedOut means the process exceeded the bounded wait and
	// was killed.
	ErrorKindTimedOut ErrorKind = "compilation_timed_out"
)

// Error is a classified invocation failure with captured command context.
type Error struct {
	Kind       ErrorKind  `json:"kind"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats invocation failures for logs and API responses.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Kind,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Stderr returns the captured compiler diagnostics verbatim.
func (e *Error) Stderr() string {
	if e == nil {
		return ""
	}
	return e.CommandLog.Stderr
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// libraryStager copies uploaded include libraries next to a render's input
// file so the compiler can resolve them. Returns the staged copies.
type libraryStager interface {
	Stage(dstDir string) ([]string, error)
}

// Invoker runs the geometry compiler as a single-shot child process.
type Invoker struct {
	compilerPath string
	timeout      time.Duration
	libraries    libraryStager
	runner       commandRunner
	writeFile    func(name string, data []byte, perm os.FileMode) error
	stat         func(name string) (os.FileInfo, error)
	remove       func(name string) error
}

// NewInvoker constructs the production invoker with OS dependencies.
// libraries may be nil when no include libraries are configured.
func NewInvoker(compilerPath string, timeout time.Duration, libraries libraryStager) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Invoker{
		compilerPath: compilerPath,
		timeout:      timeout,
		libraries:    libraries,
		runner:       &execRunner{},
		writeFile:    os.WriteFile,
		stat:         os.Stat,
		remove:       os.Remove,
	}
}

// Invoke writes the source, spawns the compiler, and classifies the outcome.
// The input file and any staged library copies are removed on every exit
// path; the output file is intentionally left in place for the caller.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Outcome, error) {
	if err := inv.writeFile(req.InputPath, []byte(req.Source), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write source file: %w", err)
	}

	inputs := []string{req.InputPath}
	defer func() {
		for _, path := range inputs {
			_ = inv.remove(path)
		}
	}()

	if inv.libraries != nil {
		staged, err := inv.libraries.Stage(req.Dir)
		inputs = append(inputs, staged...)
		if err != nil {
			return Outcome{}, fmt.Errorf("stage include libraries: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	args := buildCompilerArgs(req)
	result, runErr := inv.runner.Run(runCtx, inv.compilerPath, args...)
	log := CommandLog{
		Command:  inv.compilerPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}

	if runErr != nil {
		return Outcome{}, inv.classifyRunError(runCtx, runErr, log)
	}

	info, err := inv.stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return Outcome{}, &Error{
			Kind:       ErrorKindFailed,
			Message:    "compiler reported success but produced no usable output",
			CommandLog: log,
			Err:        err,
		}
	}

	return Outcome{
		ExitCode:     result.ExitCode,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		ArtifactPath: req.OutputPath,
	}, nil
}

// classifyRunError maps a process failure onto the error taxonomy.
func (inv *Invoker) classifyRunError(ctx context.Context, runErr error, log CommandLog) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Kind:       ErrorKindTimedOut,
			Message:    fmt.Sprintf("compiler exceeded %s and was killed", inv.timeout),
			CommandLog: log,
			Err:        context.DeadlineExceeded,
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("compilation cancelled: %w", context.Canceled)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) || log.ExitCode > 0 {
		message := strings.TrimSpace(log.Stderr)
		if message == "" {
			message = runErr.Error()
		}
		return &Error{
			Kind:       ErrorKindFailed,
			Message:    message,
			CommandLog: log,
			Err:        runErr,
		}
	}

	return &Error{
		Kind:       ErrorKindUnavailable,
		Message:    fmt.Sprintf("cannot spawn compiler %q: %v", inv.compilerPath, runErr),
		CommandLog: log,
		Err:        runErr,
	}
}

// buildCompilerArgs builds the compiler CLI: output flag, format-specific
// flags, then the input file.
func buildCompilerArgs(req Request) []string {
	args := []string{"-o", req.OutputPath}
	if req.Kind == domain.OutputKindImage {
		args = append(args, "--imgsize", "800,600")
	}
	return append(args, req.InputPath)
}

// NewInvokerForTests constructs an invoker with injectable dependencies.
func NewInvokerForTests(
	compilerPath string,
	timeout time.Duration,
	libraries libraryStager,
	runner commandRunner,
	writeFile func(name string, data []byte, perm os.FileMode) error,
	stat func(name string) (os.FileInfo, error),
	remove func(name string) error,
) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Invoker{
		compilerPath: compilerPath,
		timeout:      timeout,
		libraries:    libraries,
		runner:       runner,
		writeFile:    writeFile,
		stat:         stat,
		remove:       remove,
	}
}
