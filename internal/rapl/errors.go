package rapl

import "errors"

// ErrEnergyUnavailable is returned when a socket's package energy counter
// is absent or unreadable.
var ErrEnergyUnavailable = errors.New("rapl: energy counter unavailable")

// ErrMultiWrap is returned when a negative delta's magnitude implies more
// than one counter wraparound occurred between two reads; the caller
// cannot safely correct for this and must treat it as a measurement
// error rather than silently under-reporting.
var ErrMultiWrap = errors.New("rapl: delta implies more than one counter wraparound")
