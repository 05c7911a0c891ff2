// Package orchestrator wires validation, calibration, the serialization
// lock, the socket executor, and the statistical aggregator into one
// measurement pipeline: validate correctness, acquire exclusive use of
// the measurement socket, run trials, aggregate, and map every exit path
// (success, any typed failure, or cancellation) onto the response
// envelope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jouletrace/internal/aggregator"
	"jouletrace/internal/calibration"
	"jouletrace/internal/executor"
	"jouletrace/internal/lock"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
	"jouletrace/internal/validator"
)

// Service composes one measurement request's full lifecycle. It owns no
// package-level state: every collaborator is constructed once in
// cmd/jouletrace and passed in here.
type Service struct {
	socketID           int
	holder             string
	profiles           *calibration.Store
	locker             *lock.Manager
	lockTimeout        time.Duration
	trialRunner        aggregator.TrialRunner
	validate           validator.Validator
	minWallTimeSeconds float64
	logger             *logging.Logger

	meterType string
}

// New constructs a Service. holder identifies this process for lock
// ownership (e.g. hostname:pid); meterType labels the measurement
// environment in the response envelope (e.g. "rapl-sysfs");
// minWallTimeSeconds is the configured per-trial floor the driver's
// accumulation loop runs for, independent of the request timeout.
func New(
	socketID int,
	holder string,
	profiles *calibration.Store,
	locker *lock.Manager,
	lockTimeout time.Duration,
	trialRunner aggregator.TrialRunner,
	validate validator.Validator,
	minWallTimeSeconds float64,
	meterType string,
	logger *logging.Logger,
) *Service {
	return &Service{
		socketID:           socketID,
		holder:             holder,
		profiles:           profiles,
		locker:             locker,
		lockTimeout:        lockTimeout,
		trialRunner:        trialRunner,
		validate:           validate,
		minWallTimeSeconds: minWallTimeSeconds,
		meterType:          meterType,
		logger:             logger,
	}
}

// Measure runs one request end to end. It never returns a non-nil error
// for a request-scoped failure (timeout, trial failure, missing
// calibration, ...); those are reported as a Response with a non-
// Completed status and ErrorReason set. A non-nil error return means the
// request could not even be turned into a response (e.g. a malformed
// request).
func (s *Service) Measure(ctx context.Context, req measurement.MeasurementRequest, params aggregator.Params) (*measurement.Response, error) {
	start := time.Now()

	if req.Code == "" || req.EntryPoint == "" || len(req.TestInputs) == 0 {
		return nil, fmt.Errorf("%w: code, entry_point, and test_inputs are required", measurement.ErrBadRequest)
	}
	if len(req.ExpectedOutput) != len(req.TestInputs) {
		return nil, fmt.Errorf("%w: expected_outputs must pair one-to-one with test_inputs (%d vs %d)", measurement.ErrBadRequest, len(req.ExpectedOutput), len(req.TestInputs))
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	resp := &measurement.Response{RequestID: req.RequestID}

	// Energy is never measured for unvalidated code: every request goes
	// through the correctness gate before the lock is even considered.
	cases := buildTestCases(req)
	result, err := s.validate.Validate(req.Code, req.EntryPoint, cases, req.TimeoutSeconds, req.MemoryLimitMB)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	resp.Validation = &measurement.ValidationResponse{
		IsCorrect:   result.IsCorrect,
		PassedTests: result.PassedTests,
		TotalTests:  result.TotalTests,
		Summary:     result.Summary,
	}
	if !result.IsCorrect {
		resp.Status = measurement.StatusValidationFailed
		resp.ErrorReason = result.Summary
		resp.ProcessingTimeSeconds = time.Since(start).Seconds()
		s.logger.Info("orchestrator.validation_failed", "candidate solution failed correctness gate", map[string]interface{}{
			"request_id": req.RequestID,
			"passed":     result.PassedTests,
			"total":      result.TotalTests,
		})
		return resp, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.acquireLock(acquireCtx); err != nil {
		return s.failed(resp, start, err), nil
	}
	defer func() {
		if err := s.locker.Release(s.holder); err != nil {
			s.logger.Warn("orchestrator.lock_release_failed", "failed to release serialization lock", map[string]interface{}{
				"request_id": req.RequestID,
				"error":      err.Error(),
			})
		}
	}()

	profile, err := s.profiles.Load()
	if err != nil {
		return s.failed(resp, start, err), nil
	}
	usable, reason := profile.IsUsable(time.Now())
	if !usable {
		return s.failed(resp, start, fmt.Errorf("%w: %s", measurement.ErrStaleCalibration, reason)), nil
	}

	trialTemplate := executor.TrialRequest{
		Code:               req.Code,
		EntryPoint:         req.EntryPoint,
		Inputs:             req.TestInputs,
		SocketID:           s.socketID,
		CPUCore:            -1,
		TimeoutSeconds:     req.TimeoutSeconds,
		MemoryLimitMB:      req.MemoryLimitMB,
		MinWallTimeSeconds: s.minWallTimeSeconds,
		IdlePowerWatts:     profile.IdlePowerWatts,
	}

	agg := aggregator.New(s.trialRunner, s.logger)
	aggParams := resolveParams(req, params)

	aggregated, err := agg.Aggregate(ctx, trialTemplate, aggParams)
	if err != nil {
		if errors.Is(err, measurement.ErrCancelled) {
			resp.Status = measurement.StatusCancelled
			resp.ErrorReason = measurement.ErrCancelled.Error()
			resp.ProcessingTimeSeconds = time.Since(start).Seconds()
			return resp, nil
		}
		return s.failed(resp, start, err), nil
	}

	resp.Status = measurement.StatusCompleted
	resp.EnergyMetrics = buildEnergyMetrics(aggregated, len(req.TestInputs))
	resp.MeasurementEnvironment = &measurement.MeasurementEnvironment{
		MeterType:       s.meterType,
		MeasurementCore: aggregated.MeasurementCore,
		Timestamp:       time.Now(),
	}
	resp.ProcessingTimeSeconds = time.Since(start).Seconds()

	s.logger.Info("orchestrator.measurement_completed", "measurement completed", map[string]interface{}{
		"request_id":  req.RequestID,
		"trials":      aggregated.TotalTrials,
		"successful":  aggregated.SuccessfulTrials,
		"confidence":  aggregated.Confidence,
		"cv_percent":  aggregated.CVPercent,
	})

	return resp, nil
}

func (s *Service) acquireLock(ctx context.Context) error {
	deadline, hasDeadline := ctx.Deadline()
	timeout := s.lockTimeout
	if hasDeadline {
		timeout = time.Until(deadline)
	}
	if err := s.locker.Acquire(s.holder, true, timeout); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fmt.Errorf("%w", measurement.ErrBusy)
		}
		return err
	}
	return nil
}

func (s *Service) failed(resp *measurement.Response, start time.Time, err error) *measurement.Response {
	resp.Status = statusFor(err)
	resp.ErrorReason = err.Error()
	resp.ProcessingTimeSeconds = time.Since(start).Seconds()
	s.logger.Error("orchestrator.measurement_failed", "measurement failed", map[string]interface{}{
		"request_id": resp.RequestID,
		"error":      err.Error(),
	})
	return resp
}

// statusFor maps the typed error taxonomy onto the response envelope's
// terminal status. Everything that isn't cancellation or a busy lock
// reports as Failed; the distinct error text in ErrorReason carries the
// taxonomy detail.
func statusFor(err error) measurement.ResponseStatus {
	switch {
	case errors.Is(err, measurement.ErrCancelled):
		return measurement.StatusCancelled
	case errors.Is(err, measurement.ErrBusy):
		return measurement.StatusBusy
	default:
		return measurement.StatusFailed
	}
}

func resolveParams(req measurement.MeasurementRequest, defaults aggregator.Params) aggregator.Params {
	p := defaults
	if req.MinTrials > 0 {
		p.MinTrials = req.MinTrials
	}
	if req.MaxTrials > 0 {
		p.MaxTrials = req.MaxTrials
	}
	if req.TargetCV > 0 {
		p.TargetCV = req.TargetCV
	}
	return p
}

func buildTestCases(req measurement.MeasurementRequest) []validator.TestCase {
	cases := make([]validator.TestCase, len(req.TestInputs))
	for i, input := range req.TestInputs {
		cases[i] = validator.TestCase{
			TestID:         fmt.Sprintf("case-%d", i),
			Input:          input,
			ExpectedOutput: req.ExpectedOutput[i],
		}
	}
	return cases
}

func buildEnergyMetrics(agg *measurement.AggregatedResult, testCaseCount int) *measurement.EnergyMetrics {
	perCase := 0.0
	if testCaseCount > 0 {
		perCase = agg.MedianEnergyJoules / float64(testCaseCount)
	}
	efficiency := 0.0
	if agg.MedianEnergyJoules > 0 {
		efficiency = 1.0 / agg.MedianEnergyJoules
	}
	return &measurement.EnergyMetrics{
		MedianPackageEnergyJoules:  agg.MedianPackageJoules,
		MedianRAMEnergyJoules:      agg.MedianDRAMJoules,
		MedianTotalEnergyJoules:    agg.MedianEnergyJoules,
		MedianExecutionTimeSeconds: agg.MedianDuration.Seconds(),
		EnergyPerTestCaseJoules:    perCase,
		PowerConsumptionWatts:      agg.MedianPower,
		EnergyEfficiencyScore:      efficiency,
	}
}
