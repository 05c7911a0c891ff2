// Package aggregator drives the socket executor across N trials with
// cooldown, computes robust statistics (median, CV%), and stops early
// when a target coefficient of variation is reached, using median/mean/
// sample-stddev statistics over net trial energies.
package aggregator

import (
	"context"
	"math"
	"sort"
	"time"

	"jouletrace/internal/executor"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
)

// Default aggregation parameters.
const (
	DefaultMinTrials = 3
	DefaultMaxTrials = 20
	DefaultTargetCV  = 5.0
	DefaultCooldown  = 500 * time.Millisecond
)

// Params configures one aggregation run.
type Params struct {
	MinTrials int
	MaxTrials int
	TargetCV  float64
	Cooldown  time.Duration
}

// TrialRunner is the single operation the aggregator needs from the
// socket executor, kept as an interface so tests can substitute a fake
// without spawning real subprocesses.
type TrialRunner interface {
	RunTrial(ctx context.Context, req executor.TrialRequest, trialIndex int) measurement.TrialResult
}

// Aggregator runs the adaptive-stopping trial loop.
type Aggregator struct {
	exec   TrialRunner
	logger *logging.Logger
}

// New constructs an Aggregator over exec.
func New(exec TrialRunner, logger *logging.Logger) *Aggregator {
	return &Aggregator{exec: exec, logger: logger}
}

// Aggregate runs trials until the target CV is reached or the trial
// budget is exhausted, and returns the resulting AggregatedResult.
// Returns measurement.ErrAllTrialsFailed if every trial failed, or
// measurement.ErrCancelled if ctx is done before the loop finishes on
// its own terms; any trials already collected are discarded rather
// than summarized.
func (a *Aggregator) Aggregate(ctx context.Context, trialTemplate executor.TrialRequest, params Params) (*measurement.AggregatedResult, error) {
	var successes []measurement.TrialResult
	failedTrials := 0
	totalTrials := 0
	earlyStop := false
	earlyStopReason := ""

	for i := 0; i < params.MaxTrials; i++ {
		totalTrials = i + 1

		result := a.exec.RunTrial(ctx, trialTemplate, i)
		if !result.Success {
			failedTrials++
			a.logger.Warn("aggregator.trial_failed", "trial failed", map[string]interface{}{
				"trial": i,
				"kind":  result.ErrorKind,
				"error": result.ErrorMsg,
			})

			if ctx.Err() != nil {
				return nil, measurement.ErrCancelled
			}
			continue
		}

		successes = append(successes, result)
		a.logger.Debug("aggregator.trial_succeeded", "trial succeeded", map[string]interface{}{
			"trial":      i,
			"net_joules": result.NetTotalJoules,
			"duration_s": result.WallDuration.Seconds(),
		})

		if len(successes) >= params.MinTrials {
			energies := netEnergies(successes)
			cv := coefficientOfVariation(energies)
			if cv < params.TargetCV {
				earlyStop = true
				earlyStopReason = "achieved target"
				break
			}
			if i+1 >= params.MaxTrials {
				earlyStopReason = "max trials reached"
				break
			}
		}

		if ctx.Err() != nil {
			return nil, measurement.ErrCancelled
		}
		time.Sleep(params.Cooldown)
	}

	if len(successes) == 0 {
		return nil, measurement.ErrAllTrialsFailed
	}

	return summarize(successes, failedTrials, totalTrials, params.MinTrials, earlyStop, earlyStopReason), nil
}

func summarize(successes []measurement.TrialResult, failedTrials, totalTrials, minTrials int, earlyStop bool, earlyStopReason string) *measurement.AggregatedResult {
	energies := netEnergies(successes)
	pkgEnergies := make([]float64, len(successes))
	durations := make([]time.Duration, len(successes))
	for i, r := range successes {
		pkgEnergies[i] = r.NetPackageJoules
		durations[i] = r.WallDuration
	}

	medianEnergy := median(energies)
	meanEnergy := mean(energies)
	stddevEnergy := sampleStddev(energies, meanEnergy)
	cv := coefficientOfVariation(energies)

	medianDuration := medianDurations(durations)
	meanDuration := meanDurations(durations)

	medianPower := 0.0
	if medianDuration > 0 {
		medianPower = medianEnergy / medianDuration.Seconds()
	}
	meanPower := 0.0
	if meanDuration > 0 {
		meanPower = meanEnergy / meanDuration.Seconds()
	}

	confidence := assessConfidence(cv, len(successes), minTrials)

	return &measurement.AggregatedResult{
		SuccessfulTrials:    len(successes),
		FailedTrials:        failedTrials,
		TotalTrials:         totalTrials,
		TrialNetEnergies:    energies,
		TrialDurations:      durations,
		MedianEnergyJoules:  medianEnergy,
		MeanEnergyJoules:    meanEnergy,
		StddevJoules:        stddevEnergy,
		CVPercent:           cv,
		MedianPackageJoules: median(pkgEnergies),
		MedianDRAMJoules:    median(dramEnergies(successes)),
		MedianDuration:      medianDuration,
		MeanDuration:        meanDuration,
		MedianPower:         medianPower,
		MeanPower:           meanPower,
		MeasurementCore:     successes[len(successes)-1].CPUCore,
		Confidence:          confidence,
		EarlyStop:           earlyStop,
		EarlyStopReason:     earlyStopReason,
	}
}

// assessConfidence labels convergence confidence from CV%. A single
// successful trial always yields stddev=0, cv=0, which would otherwise
// read as "high"; the n>=2 guard keeps a lone trial honestly labeled
// "low".
func assessConfidence(cv float64, nSuccess, minTrials int) string {
	if nSuccess < 2 {
		return measurement.ConfidenceLow
	}
	if cv < 5.0 && nSuccess >= minTrials {
		return measurement.ConfidenceHigh
	}
	if cv < 10.0 && nSuccess >= minTrials {
		return measurement.ConfidenceMedium
	}
	return measurement.ConfidenceLow
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	m := mean(values)
	if m == 0 {
		return 0.0
	}
	return sampleStddev(values, m) / m * 100.0
}

func netEnergies(results []measurement.TrialResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.NetTotalJoules
	}
	return out
}

func dramEnergies(results []measurement.TrialResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.RawDRAMJoules
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func medianDurations(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	secs := make([]float64, len(values))
	for i, v := range values {
		secs[i] = v.Seconds()
	}
	return time.Duration(median(secs) * float64(time.Second))
}

func meanDurations(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return sum / time.Duration(len(values))
}
