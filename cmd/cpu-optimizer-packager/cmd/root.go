package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/cpu-optimizer-packager/internal/config"
	"github.com/oshokin/cpu-optimizer-packager/internal/service/builder"
	"github.com/oshokin/cpu-optimizer-packager/internal/service/packager"
	"github.com/oshokin/cpu-optimizer-packager/internal/version"
)

// rootCmd rebuilds the native mod and packages it into the distributable archive.
//
//nolint:gochecknoglobals // Required by Cobra CLI framework architecture.
var rootCmd = &cobra.Command{
	Use:   "cpu-optimizer-packager",
	Short: "Build the CpuOptimizer mod in release mode and package it.",
	Long: `Runs a release build of the CpuOptimizer native mod and packages the result.

The build toolchain is invoked first (cargo build -r). Only when it succeeds are
the built module and its INI settings written into output.zip under
bin/NativeMods/. Any failure leaves no new archive behind.

Paths and the build command may be overridden by an optional
cpu-optimizer-packager.yaml in the working directory.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options := &packager.Options{
			ConfigPath: config.DefaultConfigFilename,
			Stdout:     cmd.OutOrStdout(),
			Stderr:     cmd.ErrOrStderr(),
		}

		return packager.Run(ctx, options)
	},
}

// Execute runs the CLI. A failed build exits with the toolchain's status, other errors with 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var buildErr *builder.BuildError
	if errors.As(err, &buildErr) && buildErr.ExitCode > 0 {
		return buildErr.ExitCode
	}

	return 1
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	version.AttachCobraVersionCommand(rootCmd)
}
