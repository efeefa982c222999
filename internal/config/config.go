package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/cpu-optimizer-packager/internal/logger"
)

// Config holds the packaging constants. Default returns the built-in values;
// a project settings file may override any of them.
type Config struct {
	// BuildCommand is the toolchain command line that produces a release build.
	BuildCommand string `yaml:"build_command"`
	// ArtifactPath is where the toolchain leaves the native module after a release build.
	ArtifactPath string `yaml:"artifact_path"`
	// ModConfigPath is the INI file shipped next to the native module.
	ModConfigPath string `yaml:"mod_config_path"`
	// OutputPath is the archive recreated on every run.
	OutputPath string `yaml:"output_path"`
	// ArchivePrefix is the directory inside the archive that receives both entries.
	ArchivePrefix string `yaml:"archive_prefix"`
	// LogLevel is the minimum level for packager log messages.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the optional project settings file looked up in the working directory.
	DefaultConfigFilename = "cpu-optimizer-packager.yaml"

	// DefaultBuildCommand requests an optimized cargo build.
	DefaultBuildCommand = "cargo build -r"

	// DefaultArtifactPath is cargo's release output for the mod.
	DefaultArtifactPath = "target/release/CpuOptimizer.dll"

	// DefaultModConfigPath is the mod settings file checked into the project.
	DefaultModConfigPath = "CpuOptimizer.ini"

	// DefaultOutputPath is the distributable archive.
	DefaultOutputPath = "output.zip"

	// DefaultArchivePrefix is the folder the game loads native mods from.
	DefaultArchivePrefix = "bin/NativeMods"

	// DefaultLogLevel is used when the settings file does not name one.
	DefaultLogLevel = "info"
)

var (
	errConfigIsNotSet        = errors.New("configuration is not set")
	errBuildCommandRequired  = errors.New("build command must be provided")
	errArtifactPathRequired  = errors.New("artifact path must be provided")
	errModConfigPathRequired = errors.New("mod config path must be provided")
	errOutputPathRequired    = errors.New("output path must be provided")
	errInvalidArchivePrefix  = errors.New("archive prefix must be a clean relative slash-separated path")
	errUnknownLogLevel       = errors.New("unknown log level")
	errEntryCollision        = errors.New("artifact and mod config map to the same archive entry")
)

// Default returns the built-in packaging settings.
func Default() *Config {
	return &Config{
		BuildCommand:  DefaultBuildCommand,
		ArtifactPath:  DefaultArtifactPath,
		ModConfigPath: DefaultModConfigPath,
		OutputPath:    DefaultOutputPath,
		ArchivePrefix: DefaultArchivePrefix,
		LogLevel:      DefaultLogLevel,
	}
}

// Load reads settings from filename on top of the defaults and validates the result.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file does not exist.
func LoadOrDefault(filename string) (*Config, error) {
	cfg, err := Load(filename)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Validate checks the settings for required fields and a usable archive layout.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	switch {
	case strings.TrimSpace(cfg.BuildCommand) == "":
		return errBuildCommandRequired
	case cfg.ArtifactPath == "":
		return errArtifactPathRequired
	case cfg.ModConfigPath == "":
		return errModConfigPathRequired
	case cfg.OutputPath == "":
		return errOutputPathRequired
	}

	if err := validateArchivePrefix(cfg.ArchivePrefix); err != nil {
		return err
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	if cfg.ArtifactEntry() == cfg.ModConfigEntry() {
		return fmt.Errorf("%w: %s", errEntryCollision, cfg.ArtifactEntry())
	}

	return nil
}

// ArtifactEntry is the internal archive path of the native module.
func (c *Config) ArtifactEntry() string {
	return path.Join(c.ArchivePrefix, filepath.Base(c.ArtifactPath))
}

// ModConfigEntry is the internal archive path of the mod settings file.
func (c *Config) ModConfigEntry() string {
	return path.Join(c.ArchivePrefix, filepath.Base(c.ModConfigPath))
}

func validateArchivePrefix(prefix string) error {
	if prefix == "" ||
		strings.Contains(prefix, `\`) ||
		path.IsAbs(prefix) ||
		path.Clean(prefix) != prefix ||
		prefix == "." ||
		prefix == ".." ||
		strings.HasPrefix(prefix, "../") {
		return fmt.Errorf("%w: %q", errInvalidArchivePrefix, prefix)
	}

	return nil
}
