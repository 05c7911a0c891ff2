package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"jouletrace/internal/configdir"
)

const (
	systemConfigFile = "config.yaml"
	userConfigDir    = ".jouletrace"
	userConfigFile   = "config.yaml"
)

// Load loads and merges configuration from system and user files
// Priority: defaults < system config < user config
func Load() (Config, error) {
	cfg := DefaultConfig()

	systemPath := filepath.Join(configdir.ConfigDir(), systemConfigFile)
	if err := mergeConfigFile(&cfg, systemPath); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load system config: %w", err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(homeDir, userConfigDir, userConfigFile)
		if err := mergeConfigFile(&cfg, userPath); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to load user config: %w", err)
			}
		}
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads configuration from a specific file path
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is constructed from trusted sources
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)

	return nil
}

// mergeConfig merges non-zero values from src into dst
func mergeConfig(dst, src *Config) {
	if src.Socket.TargetSocket != 0 {
		dst.Socket.TargetSocket = src.Socket.TargetSocket
	}
	if src.Socket.SysfsPath != "" {
		dst.Socket.SysfsPath = src.Socket.SysfsPath
	}
	if src.Socket.ProcfsPath != "" {
		dst.Socket.ProcfsPath = src.Socket.ProcfsPath
	}

	if src.Calibrator.DurationSeconds != 0 {
		dst.Calibrator.DurationSeconds = src.Calibrator.DurationSeconds
	}
	if src.Calibrator.ValidityDays != 0 {
		dst.Calibrator.ValidityDays = src.Calibrator.ValidityDays
	}
	if src.Calibrator.MaxStartupCV != 0 {
		dst.Calibrator.MaxStartupCV = src.Calibrator.MaxStartupCV
	}
	if src.Calibrator.ProfilePath != "" {
		dst.Calibrator.ProfilePath = src.Calibrator.ProfilePath
	}

	if src.Executor.TimeoutSeconds != 0 {
		dst.Executor.TimeoutSeconds = src.Executor.TimeoutSeconds
	}
	if src.Executor.MemoryLimitMB != 0 {
		dst.Executor.MemoryLimitMB = src.Executor.MemoryLimitMB
	}
	if src.Executor.MinWallTimeSeconds != 0 {
		dst.Executor.MinWallTimeSeconds = src.Executor.MinWallTimeSeconds
	}
	if src.Executor.SettleDelayMillis != 0 {
		dst.Executor.SettleDelayMillis = src.Executor.SettleDelayMillis
	}
	if src.Executor.PythonInterpreter != "" {
		dst.Executor.PythonInterpreter = src.Executor.PythonInterpreter
	}

	if src.Aggregator.MinTrials != 0 {
		dst.Aggregator.MinTrials = src.Aggregator.MinTrials
	}
	if src.Aggregator.MaxTrials != 0 {
		dst.Aggregator.MaxTrials = src.Aggregator.MaxTrials
	}
	if src.Aggregator.TargetCVPercent != 0 {
		dst.Aggregator.TargetCVPercent = src.Aggregator.TargetCVPercent
	}
	if src.Aggregator.CooldownSeconds != 0 {
		dst.Aggregator.CooldownSeconds = src.Aggregator.CooldownSeconds
	}

	if src.Lock.Key != "" {
		dst.Lock.Key = src.Lock.Key
	}
	if src.Lock.TTLSeconds != 0 {
		dst.Lock.TTLSeconds = src.Lock.TTLSeconds
	}
	if src.Lock.PollIntervalSeconds != 0 {
		dst.Lock.PollIntervalSeconds = src.Lock.PollIntervalSeconds
	}
	if src.Lock.StatePath != "" {
		dst.Lock.StatePath = src.Lock.StatePath
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}

// SystemConfigPath returns the path to the system configuration file
func SystemConfigPath() string {
	return filepath.Join(configdir.ConfigDir(), systemConfigFile)
}

// UserConfigPath returns the path to the user configuration file
func UserConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, userConfigDir, userConfigFile)
}
