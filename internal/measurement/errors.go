package measurement

import "errors"

// Error taxonomy. Every kind is a distinct sentinel so callers
// can switch on it with errors.Is rather than matching message strings.
var (
	ErrBadRequest          = errors.New("measurement: bad request")
	ErrEnergyUnavailable   = errors.New("measurement: energy counter unavailable")
	ErrBadCPU              = errors.New("measurement: unknown CPU or socket")
	ErrMissingCalibration  = errors.New("measurement: calibration profile missing")
	ErrInvalidCalibration  = errors.New("measurement: calibration profile invalid")
	ErrStaleCalibration    = errors.New("measurement: calibration profile stale")
	ErrSocketNotIdle       = errors.New("measurement: socket is not idle")
	ErrTrialFailed         = errors.New("measurement: trial failed")
	ErrAllTrialsFailed     = errors.New("measurement: all trials failed")
	ErrBusy                = errors.New("measurement: serialization lock busy")
	ErrCancelled           = errors.New("measurement: cancelled")
)
