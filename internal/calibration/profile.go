// Package calibration persists and validates the idle-power baseline
// profile: a dated record of a socket's idle power, loaded by
// internal/orchestrator before each measurement run and produced by
// internal/calibrator.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"jouletrace/internal/fsutil"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
)

// Profile is the persisted baseline record.
type Profile struct {
	SocketID        int       `json:"socket_id"`
	IdlePowerWatts  float64   `json:"idle_power_watts"`
	MeanPowerWatts  float64   `json:"mean_power_watts"`
	StddevWatts     float64   `json:"stddev_watts"`
	CVPercent       float64   `json:"cv_percent"`
	Measurements    int       `json:"measurements"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
	ValidUntilDays  int       `json:"valid_until_days"`
}

// BaselineEnergy returns idle_power × duration, the energy attributable
// to the idle socket over the given wall duration.
func (p *Profile) BaselineEnergy(duration time.Duration) float64 {
	return p.IdlePowerWatts * duration.Seconds()
}

// IsUsable reports whether the profile can back a measurement right now:
// idle power must be positive and now must fall within the validity
// window from the profile's timestamp. It returns a human-readable
// reason either way.
func (p *Profile) IsUsable(now time.Time) (bool, string) {
	if p.IdlePowerWatts <= 0 {
		return false, "idle power is not positive"
	}
	if p.ValidUntilDays <= 0 {
		return false, "validity window is not positive"
	}

	age := now.Sub(p.Timestamp)
	window := time.Duration(p.ValidUntilDays) * 24 * time.Hour
	if age > window {
		return false, fmt.Sprintf("expired (%.1f days old, max %d)", age.Hours()/24, p.ValidUntilDays)
	}

	return true, "ok"
}

// Store loads and atomically persists Profile records at a fixed path.
type Store struct {
	path   string
	logger *logging.Logger
}

// NewStore creates a Store persisting its record at path.
func NewStore(path string, logger *logging.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads the profile from disk. Fails with ErrMissingCalibration if
// absent, ErrInvalidCalibration if malformed.
func (s *Store) Load() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", measurement.ErrMissingCalibration, s.path)
		}
		return nil, fmt.Errorf("%w: %v", measurement.ErrInvalidCalibration, err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", measurement.ErrInvalidCalibration, err)
	}

	if profile.IdlePowerWatts <= 0 || profile.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: profile missing idle_power_watts or timestamp", measurement.ErrInvalidCalibration)
	}

	return &profile, nil
}

// Save writes the profile atomically (write-temp-then-rename), so
// concurrent readers never observe a partial record.
func (s *Store) Save(profile *Profile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration profile: %w", err)
	}

	if err := fsutil.AtomicWriteFile(s.path, data, fsutil.DefaultFilePermissions, s.logger); err != nil {
		return fmt.Errorf("failed to persist calibration profile: %w", err)
	}

	s.logger.Info("calibration.saved", "calibration profile saved", map[string]interface{}{
		"path":             s.path,
		"socket_id":        profile.SocketID,
		"idle_power_watts": profile.IdlePowerWatts,
		"cv_percent":       profile.CVPercent,
	})

	return nil
}
