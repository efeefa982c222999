package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"mvdan.cc/sh/v3/shell"

	"github.com/oshokin/cpu-optimizer-packager/internal/logger"
)

var (
	// ErrBuildFailed matches every unsuccessful toolchain run, including *BuildError.
	ErrBuildFailed = errors.New("build failed")
	// ErrToolchainNotFound is returned when the toolchain executable is not on PATH.
	ErrToolchainNotFound = errors.New("build toolchain not found")

	errEmptyCommand = errors.New("build command is empty")
)

// BuildError reports a toolchain process that exited with a non-zero status.
type BuildError struct {
	// Command is the command line that was run.
	Command string
	// ExitCode is the toolchain's exit status.
	ExitCode int
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %q exited with status %d", ErrBuildFailed, e.Command, e.ExitCode)
}

// Is lets errors.Is(err, ErrBuildFailed) match a *BuildError.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuildFailed
}

// Options are inputs for a single release build.
type Options struct {
	// Command is the toolchain command line, split with shell quoting rules.
	Command string
	// Dir is the project directory; empty means the current working directory.
	Dir string
	// Stdout receives the toolchain's standard output (os.Stdout when nil).
	Stdout io.Writer
	// Stderr receives the toolchain's diagnostics (os.Stderr when nil).
	Stderr io.Writer
}

// Run executes the toolchain and blocks until it exits.
// Only a zero exit status counts as success; nothing is retried.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "builder")

	argv, err := splitCommand(opts.Command)
	if err != nil {
		return err
	}

	executable, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("%s: %w", argv[0], ErrToolchainNotFound)
	}

	cmd := exec.CommandContext(ctx, executable, argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdout = writerOrDefault(opts.Stdout, os.Stdout)
	cmd.Stderr = writerOrDefault(opts.Stderr, os.Stderr)

	logger.InfoKV(ctx, "Running release build", "command", opts.Command)

	if err = cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: interrupted: %w", ErrBuildFailed, ctxErr)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &BuildError{
				Command:  opts.Command,
				ExitCode: exitErr.ExitCode(),
			}
		}

		return fmt.Errorf("%w: run %s: %w", ErrBuildFailed, argv[0], err)
	}

	logger.Info(ctx, "Release build finished")

	return nil
}

// splitCommand turns a command line into argv. Variables are not expanded:
// the build must not depend on the caller's environment.
func splitCommand(commandLine string) ([]string, error) {
	argv, err := shell.Fields(commandLine, func(string) string { return "" })
	if err != nil {
		return nil, fmt.Errorf("parse build command %q: %w", commandLine, err)
	}

	if len(argv) == 0 {
		return nil, errEmptyCommand
	}

	return argv, nil
}

func writerOrDefault(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}

	return w
}
