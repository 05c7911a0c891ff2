package rapl

import "time"

// EnergyReading is an instantaneous sample from one socket's RAPL domains.
type EnergyReading struct {
	SocketID       int
	PackageJoules  float64
	DRAMJoules     float64
	CapturedAt     time.Time
}

// RolloverJoules is the joule range implied by a 32-bit microjoule
// counter, used as the rollover correction when the kernel does not
// expose max_energy_range_uj for a zone.
const RolloverJoules = float64((uint64(1) << 32)) / 1_000_000.0

// maxWrapJoules is kept as an internal alias for readability at call
// sites within this package.
const maxWrapJoules = RolloverJoules

// Delta computes a non-negative package/DRAM energy delta between two
// readings of the same socket, applying the single-wrap rollover
// correction described in the rollover policy. maxPackageJoules and
// maxDRAMJoules are the zones' max_energy_range_uj (in joules); pass 0 to
// fall back to the 2^32 microjoule assumption.
//
// Only a single wraparound is tolerated: if the corrected delta is still
// negative, or the magnitude implies more than one wrap could have
// occurred, ErrMultiWrap is returned instead of a silently wrong value.
func Delta(before, after EnergyReading, maxPackageJoules, maxDRAMJoules float64) (pkgDelta, dramDelta float64, err error) {
	pkgDelta, err = correctedDelta(before.PackageJoules, after.PackageJoules, maxPackageJoules)
	if err != nil {
		return 0, 0, err
	}
	dramDelta, err = correctedDelta(before.DRAMJoules, after.DRAMJoules, maxDRAMJoules)
	if err != nil {
		return 0, 0, err
	}
	return pkgDelta, dramDelta, nil
}

func correctedDelta(before, after, maxRange float64) (float64, error) {
	delta := after - before
	if delta >= 0 {
		return delta, nil
	}

	wrap := maxRange
	if wrap <= 0 {
		wrap = maxWrapJoules
	}

	corrected := delta + wrap
	if corrected < 0 {
		return 0, ErrMultiWrap
	}
	return corrected, nil
}
