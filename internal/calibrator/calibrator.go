// Package calibrator samples socket power while the socket is guaranteed
// idle and yields a calibration.Profile. The sampling loop
// follows the time.Ticker shape used elsewhere in this module's ambient
// stack for periodic sampling, narrowed here to draw exactly D samples
// instead of running until a stop signal.
package calibrator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"jouletrace/internal/calibration"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
	"jouletrace/internal/rapl"
	"jouletrace/internal/topology"

	"github.com/prometheus/procfs"
)

// Default calibration parameters.
const (
	DefaultDuration       = 30 * time.Second
	idleProbeGap          = 50 * time.Millisecond
	idleNonIdleJiffiesTol = 2.0 // allow tiny scheduler noise, in jiffies
)

// Calibrator measures a socket's idle power baseline.
type Calibrator struct {
	reader   rapl.Reader
	prober   *topology.Prober
	procfs   procfs.FS
	logger   *logging.Logger
}

// New constructs a Calibrator. procfsPath is typically "/proc" and is
// used for the idle-verification /proc/stat reads; the prober enumerates
// CPUs from its own configured path.
func New(reader rapl.Reader, prober *topology.Prober, procfsPath string, logger *logging.Logger) (*Calibrator, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", measurement.ErrEnergyUnavailable, err)
	}
	return &Calibrator{reader: reader, prober: prober, procfs: fs, logger: logger}, nil
}

// Calibrate runs the idle-power sampling procedure for socketID over duration,
// taking samples count = duration (1 Hz), plus one discarded warmup
// sample. maxStartupCV is a warn-only threshold: exceeding it does not
// fail calibration, it only logs a warning (the caller decides whether to
// retain the profile; a high startup CV is only a warning).
func (c *Calibrator) Calibrate(socketID int, duration time.Duration, validityDays int, maxStartupCV float64) (*calibration.Profile, error) {
	if err := c.verifySocketIdle(socketID); err != nil {
		return nil, err
	}

	c.reader.Invalidate(socketID)
	before, err := c.reader.Read(socketID)
	if err != nil {
		return nil, err
	}
	beforeAt := time.Now()

	// Warmup sample: discard.
	time.Sleep(1 * time.Second)
	c.reader.Invalidate(socketID)
	warmup, err := c.reader.Read(socketID)
	if err != nil {
		return nil, err
	}
	warmupAt := time.Now()
	_ = warmupPower(before, warmup, beforeAt, warmupAt)

	before, beforeAt = warmup, warmupAt

	samples := int(duration / time.Second)
	if samples < 1 {
		samples = 1
	}

	power := make([]float64, 0, samples)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for i := 0; i < samples; i++ {
		<-ticker.C
		c.reader.Invalidate(socketID)
		reading, err := c.reader.Read(socketID)
		if err != nil {
			return nil, err
		}
		now := time.Now()

		elapsed := now.Sub(beforeAt).Seconds()
		if elapsed > 0 {
			delta := reading.PackageJoules - before.PackageJoules
			if delta < 0 {
				delta += rapl.RolloverJoules
			}
			power = append(power, delta/elapsed)
		}

		before, beforeAt = reading, now
	}

	if len(power) == 0 {
		return nil, fmt.Errorf("%w: no power samples collected", measurement.ErrEnergyUnavailable)
	}

	median := medianOf(power)
	mean := meanOf(power)
	stddev := stddevOf(power, mean)
	cv := 0.0
	if mean != 0 {
		cv = stddev / mean * 100.0
	}

	if cv > maxStartupCV {
		c.logger.Warn("calibrator.high_variance", "idle power samples show high variance", map[string]interface{}{
			"cv_percent": cv,
			"threshold":  maxStartupCV,
		})
	}

	return &calibration.Profile{
		SocketID:        socketID,
		IdlePowerWatts:  median,
		MeanPowerWatts:  mean,
		StddevWatts:     stddev,
		CVPercent:       cv,
		Measurements:    len(power),
		DurationSeconds: duration.Seconds(),
		Timestamp:       time.Now().UTC(),
		ValidUntilDays:  validityDays,
	}, nil
}

// verifySocketIdle checks that no runnable threads are scheduled on any
// CPU belonging to socketID, by comparing /proc/stat non-idle jiffies
// across a short gap.
func (c *Calibrator) verifySocketIdle(socketID int) error {
	topo, err := c.prober.Discover()
	if err != nil {
		return err
	}
	cpus, err := topo.CPUsOf(socketID)
	if err != nil {
		return err
	}

	before, err := c.readNonIdleJiffies(cpus)
	if err != nil {
		return err
	}
	time.Sleep(idleProbeGap)
	after, err := c.readNonIdleJiffies(cpus)
	if err != nil {
		return err
	}

	for _, cpu := range cpus {
		delta := after[cpu] - before[cpu]
		if delta > idleNonIdleJiffiesTol {
			return fmt.Errorf("%w: cpu %d advanced %.1f non-idle jiffies in %s", measurement.ErrSocketNotIdle, cpu, delta, idleProbeGap)
		}
	}
	return nil
}

func (c *Calibrator) readNonIdleJiffies(cpus []int) (map[int]float64, error) {
	stat, err := c.procfs.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: reading /proc/stat: %v", measurement.ErrSocketNotIdle, err)
	}

	out := make(map[int]float64, len(cpus))
	for _, cpu := range cpus {
		cs, ok := stat.CPU[int64(cpu)]
		if !ok {
			return nil, fmt.Errorf("%w: no /proc/stat entry for cpu %d", measurement.ErrSocketNotIdle, cpu)
		}
		out[cpu] = cs.User + cs.Nice + cs.System + cs.IRQ + cs.SoftIRQ + cs.Steal
	}
	return out, nil
}

func warmupPower(before, after rapl.EnergyReading, beforeAt, afterAt time.Time) float64 {
	elapsed := afterAt.Sub(beforeAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := after.PackageJoules - before.PackageJoules
	if delta < 0 {
		delta += rapl.RolloverJoules
	}
	return delta / elapsed
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
