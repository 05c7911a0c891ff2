package config

import "fmt"

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSocket()...)
	errors = append(errors, c.validateCalibrator()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateAggregator()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSocket() []ValidationError {
	if c.Socket.TargetSocket < 0 {
		return []ValidationError{{
			Path:    "socket.target_socket",
			Message: fmt.Sprintf("must be non-negative, got %d", c.Socket.TargetSocket),
		}}
	}
	return nil
}

func (c *Config) validateCalibrator() []ValidationError {
	var errors []ValidationError

	if c.Calibrator.DurationSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "calibrator.duration_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Calibrator.DurationSeconds),
		})
	}
	if c.Calibrator.ValidityDays < 1 {
		errors = append(errors, ValidationError{
			Path:    "calibrator.validity_days",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Calibrator.ValidityDays),
		})
	}
	if c.Calibrator.MaxStartupCV <= 0 {
		errors = append(errors, ValidationError{
			Path:    "calibrator.max_startup_cv_percent",
			Message: fmt.Sprintf("must be positive, got %f", c.Calibrator.MaxStartupCV),
		})
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Path:    "executor.timeout_seconds",
			Message: fmt.Sprintf("must be positive, got %f", c.Executor.TimeoutSeconds),
		})
	}
	if c.Executor.MemoryLimitMB < 1 {
		errors = append(errors, ValidationError{
			Path:    "executor.memory_limit_mb",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Executor.MemoryLimitMB),
		})
	}
	if c.Executor.MinWallTimeSeconds < 0 {
		errors = append(errors, ValidationError{
			Path:    "executor.min_wall_time_seconds",
			Message: fmt.Sprintf("must be non-negative, got %f", c.Executor.MinWallTimeSeconds),
		})
	}
	if c.Executor.PythonInterpreter == "" {
		errors = append(errors, ValidationError{
			Path:    "executor.python_interpreter",
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateAggregator() []ValidationError {
	var errors []ValidationError

	if c.Aggregator.MinTrials < 1 {
		errors = append(errors, ValidationError{
			Path:    "aggregator.min_trials",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Aggregator.MinTrials),
		})
	}
	if c.Aggregator.MaxTrials < c.Aggregator.MinTrials {
		errors = append(errors, ValidationError{
			Path:    "aggregator.max_trials",
			Message: fmt.Sprintf("must be >= min_trials (%d), got %d", c.Aggregator.MinTrials, c.Aggregator.MaxTrials),
		})
	}
	if c.Aggregator.TargetCVPercent <= 0 {
		errors = append(errors, ValidationError{
			Path:    "aggregator.target_cv_percent",
			Message: fmt.Sprintf("must be positive, got %f", c.Aggregator.TargetCVPercent),
		})
	}
	if c.Aggregator.CooldownSeconds < 0 {
		errors = append(errors, ValidationError{
			Path:    "aggregator.cooldown_seconds",
			Message: fmt.Sprintf("must be non-negative, got %f", c.Aggregator.CooldownSeconds),
		})
	}

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.Key == "" {
		errors = append(errors, ValidationError{
			Path:    "lock.key",
			Message: "must not be empty",
		})
	}
	if c.Lock.TTLSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "lock.ttl_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Lock.TTLSeconds),
		})
	}
	if c.Lock.PollIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Path:    "lock.poll_interval_seconds",
			Message: fmt.Sprintf("must be positive, got %f", c.Lock.PollIntervalSeconds),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		errors = append(errors, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
		})
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, c.Logging.Format) {
		errors = append(errors, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validFormats, c.Logging.Format),
		})
	}

	return errors
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
