package config

import (
	"path/filepath"

	"jouletrace/internal/configdir"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	stateDir := configdir.StateDir()

	return Config{
		Socket: SocketConfig{
			TargetSocket: 0,
			SysfsPath:    "/sys",
			ProcfsPath:   "/proc",
		},
		Calibrator: CalibratorConfig{
			DurationSeconds: 30,
			ValidityDays:    7,
			MaxStartupCV:    5.0,
			ProfilePath:     filepath.Join(stateDir, "calibration.json"),
		},
		Executor: ExecutorConfig{
			TimeoutSeconds:     30.0,
			MemoryLimitMB:      512,
			MinWallTimeSeconds: 0.1,
			SettleDelayMillis:  2,
			PythonInterpreter:  "python3",
		},
		Aggregator: AggregatorConfig{
			MinTrials:       3,
			MaxTrials:       20,
			TargetCVPercent: 5.0,
			CooldownSeconds: 0.5,
		},
		Lock: LockConfig{
			Key:                 "jouletrace:socket0:lock",
			TTLSeconds:          300,
			PollIntervalSeconds: 0.5,
			StatePath:           filepath.Join(stateDir, "lock.json"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
