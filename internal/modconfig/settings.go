package modconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// SectionName is the INI section the mod reads at load time, spelled as the mod spells it.
const SectionName = "CpuOptmizerMod"

const (
	keyEnabled  = "enabled"
	keyPriority = "priority"
)

// ErrInvalidSettings is returned when a value would be rejected by the mod.
var ErrInvalidSettings = errors.New("invalid mod settings")

// Priority is the process priority class the mod applies to the game.
type Priority int

// Priority classes in the order of their numeric INI codes (0 to 5).
const (
	// PriorityUnchanged means the mod leaves the process priority alone.
	PriorityUnchanged Priority = iota - 1
	PriorityIdle
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityRealtime
)

var priorityNames = map[string]Priority{
	"idle":         PriorityIdle,
	"below_normal": PriorityBelowNormal,
	"below normal": PriorityBelowNormal,
	"normal":       PriorityNormal,
	"above_normal": PriorityAboveNormal,
	"above normal": PriorityAboveNormal,
	"high":         PriorityHigh,
	"realtime":     PriorityRealtime,
}

// String returns the canonical INI name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityUnchanged:
		return "unchanged"
	case PriorityIdle:
		return "idle"
	case PriorityBelowNormal:
		return "below_normal"
	case PriorityNormal:
		return "normal"
	case PriorityAboveNormal:
		return "above_normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Settings are the values the mod will run with.
type Settings struct {
	// Enabled turns the mod on or off.
	Enabled bool
	// Priority is applied when the mod is enabled.
	Priority Priority
	// Defaulted is true when the file has no mod section and the mod falls back to defaults.
	Defaulted bool
}

// Default returns what the mod uses without a settings section.
func Default() *Settings {
	return &Settings{
		Enabled:   true,
		Priority:  PriorityHigh,
		Defaulted: true,
	}
}

// Load parses the INI file at path the way the mod interprets it.
func Load(path string) (*Settings, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read mod settings: %w", err)
	}

	return Parse(contents)
}

// Parse interprets INI contents. Keys are case-sensitive; values the mod
// would fail to parse are reported as ErrInvalidSettings.
func Parse(contents []byte) (*Settings, error) {
	file, err := ini.Load(contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	section, err := file.GetSection(SectionName)
	if err != nil {
		return Default(), nil
	}

	settings := &Settings{
		Enabled:  true,
		Priority: PriorityUnchanged,
	}

	if section.HasKey(keyEnabled) {
		if settings.Enabled, err = parseEnabled(section.Key(keyEnabled).String()); err != nil {
			return nil, err
		}
	}

	if section.HasKey(keyPriority) {
		if settings.Priority, err = ParsePriority(section.Key(keyPriority).String()); err != nil {
			return nil, err
		}
	}

	return settings, nil
}

// ParsePriority accepts a numeric class 0..5 or a case-insensitive class name.
func ParsePriority(value string) (Priority, error) {
	value = strings.TrimSpace(value)

	if code, err := strconv.ParseUint(value, 10, 32); err == nil {
		if code > uint64(PriorityRealtime) {
			return PriorityUnchanged, fmt.Errorf("%w: %s=%s is out of range 0..%d",
				ErrInvalidSettings, keyPriority, value, int(PriorityRealtime))
		}

		return Priority(code), nil
	}

	if priority, ok := priorityNames[strings.ToLower(value)]; ok {
		return priority, nil
	}

	return PriorityUnchanged, fmt.Errorf("%w: unknown %s %q", ErrInvalidSettings, keyPriority, value)
}

// parseEnabled accepts only the literals the mod understands.
func parseEnabled(value string) (bool, error) {
	switch strings.TrimSpace(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s must be true or false, got %q", ErrInvalidSettings, keyEnabled, value)
	}
}
