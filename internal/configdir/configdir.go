package configdir

import (
	"os"
	"path/filepath"
)

const defaultConfigDir = "/etc/jouletrace"
const defaultStateDir = "/var/lib/jouletrace"

// ConfigDir resolves the configuration directory respecting overrides
func ConfigDir() string {
	if env := os.Getenv("JOULETRACE_CONFIG_DIR"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
	}
	return defaultConfigDir
}

// StateDir resolves the runtime state directory (calibration profiles,
// lock files) respecting overrides. Falls back to a user-writable
// directory when not running as root.
func StateDir() string {
	if env := os.Getenv("JOULETRACE_STATE_DIR"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
	}
	if os.Geteuid() != 0 {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state", "jouletrace")
		}
		return filepath.Join(os.TempDir(), "jouletrace")
	}
	return defaultStateDir
}
