package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/cpu-optimizer-packager/internal/archive"
	"github.com/oshokin/cpu-optimizer-packager/internal/config"
	"github.com/oshokin/cpu-optimizer-packager/internal/logger"
	"github.com/oshokin/cpu-optimizer-packager/internal/modconfig"
	"github.com/oshokin/cpu-optimizer-packager/internal/service/builder"
)

// CompletionMessage is printed to stdout once the archive is published.
const CompletionMessage = "Done"

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is the optional project settings file (defaults to config.DefaultConfigFilename).
	ConfigPath string
	// Stdout receives the toolchain output and the completion message (os.Stdout when nil).
	Stdout io.Writer
	// Stderr receives the toolchain diagnostics (os.Stderr when nil).
	Stderr io.Writer
}

// packager runs one build-and-package cycle.
// It is unexported; callers use Run, which handles setup and cleanup.
type packager struct {
	// cfg holds the packaging constants.
	cfg *config.Config
	// stdout receives the toolchain output and the completion message.
	stdout io.Writer
	// stderr receives the toolchain diagnostics.
	stderr io.Writer
}

// errPackagerRunning indicates that another packaging run holds the marker.
var errPackagerRunning = errors.New("the packager is running now")

// Run builds the native module and packages it. Any failure aborts the run
// before the archive is published.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "cpu-optimizer-packager")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	pkg, err := newPackager(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	defer pkg.cleanup(ctx)

	if err = pkg.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Packaging failed", "error", err)
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.InfoKV(ctx, "Packager completed successfully", "archive", cfg.OutputPath)

	_, _ = fmt.Fprintln(pkg.stdout, CompletionMessage)

	return nil
}

// newPackager claims the run marker and prepares a packager.
func newPackager(ctx context.Context, cfg *config.Config, opts *Options) (*packager, error) {
	if IsPackagerRunningNow(ctx) {
		return nil, errPackagerRunning
	}

	if err := createMarker(); err != nil {
		return nil, fmt.Errorf("create run marker: %w", err)
	}

	return &packager{
		cfg:    cfg,
		stdout: writerOrDefault(opts.Stdout, os.Stdout),
		stderr: writerOrDefault(opts.Stderr, os.Stderr),
	}, nil
}

// Run executes the pipeline: build, check inputs, write the archive, verify it.
func (p *packager) Run(ctx context.Context) error {
	logger.Info(ctx, "Building the native module in release mode")

	buildOptions := &builder.Options{
		Command: p.cfg.BuildCommand,
		Stdout:  p.stdout,
		Stderr:  p.stderr,
	}

	if err := builder.Run(ctx, buildOptions); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted after build: %w", err)
	}

	logger.Info(ctx, "Checking packaging inputs")

	if err := p.checkInputs(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Writing archive", "path", p.cfg.OutputPath)

	if err := p.writeArchive(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Verifying archive contents")

	if err := archive.Verify(p.cfg.OutputPath, p.mappings()); err != nil {
		// A published archive that fails verification must not reach consumers.
		_ = os.Remove(p.cfg.OutputPath)

		return fmt.Errorf("verify archive: %w", err)
	}

	return nil
}

// mappings returns the fixed source-to-entry table in packaging order.
func (p *packager) mappings() []archive.Mapping {
	return []archive.Mapping{
		{Source: p.cfg.ArtifactPath, Entry: p.cfg.ArtifactEntry()},
		{Source: p.cfg.ModConfigPath, Entry: p.cfg.ModConfigEntry()},
	}
}

// checkInputs requires both sources to be regular files and the mod settings to be valid.
// The archive is not touched until these checks pass.
func (p *packager) checkInputs(ctx context.Context) error {
	for _, m := range p.mappings() {
		info, err := os.Stat(m.Source)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", m.Source, os.ErrNotExist)
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", m.Source, err)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: %w", m.Source, archive.ErrNotRegularFile)
		}

		logger.DebugKV(ctx, "Input found", "path", m.Source, "size", info.Size())
	}

	settings, err := modconfig.Load(p.cfg.ModConfigPath)
	if err != nil {
		return fmt.Errorf("%s: %w", p.cfg.ModConfigPath, err)
	}

	if settings.Defaulted {
		logger.WarnKV(ctx, "Mod settings section not found, the mod will use its defaults",
			"path", p.cfg.ModConfigPath, "section", modconfig.SectionName)
	}

	logger.InfoKV(ctx, "Mod settings",
		"enabled", settings.Enabled, "priority", settings.Priority.String())

	return nil
}

// writeArchive adds both entries and publishes the archive. On any error the
// in-memory archive is dropped and the output path is left as it was.
func (p *packager) writeArchive(ctx context.Context) error {
	w, err := archive.Create(p.cfg.OutputPath)
	if err != nil {
		return err
	}

	defer w.Abort()

	for _, m := range p.mappings() {
		logger.InfoKV(ctx, "Adding archive entry", "source", m.Source, "entry", m.Entry)

		if err = w.Add(m.Source, m.Entry); err != nil {
			return err
		}
	}

	if err = ctx.Err(); err != nil {
		return fmt.Errorf("interrupted before publishing %s: %w", w.Path(), err)
	}

	if err = w.Commit(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Archive written", "path", w.Path(), "entries", w.Entries())

	return nil
}

// cleanup releases the run marker.
func (p *packager) cleanup(ctx context.Context) {
	if err := removeMarker(); err != nil {
		logger.WarnKV(ctx, "Unable to remove run marker", "path", MarkerFilename, "error", err)
	}
}

func writerOrDefault(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}

	return w
}
