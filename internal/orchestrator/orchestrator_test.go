package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"jouletrace/internal/aggregator"
	"jouletrace/internal/calibration"
	"jouletrace/internal/executor"
	"jouletrace/internal/lock"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
	"jouletrace/internal/validator"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func rawInt(n int) json.RawMessage {
	data, _ := json.Marshal(n)
	return data
}

func baseRequest() measurement.MeasurementRequest {
	return measurement.MeasurementRequest{
		RequestID:      "req-1",
		Code:           "def add(x, y):\n    return x + y\n",
		EntryPoint:     "add",
		TestInputs:     []measurement.TestInput{{Kind: measurement.InputSequence, Raw: json.RawMessage(`[1, 2]`)}},
		ExpectedOutput: []json.RawMessage{rawInt(3)},
		TimeoutSeconds: 5,
		MinTrials:      1,
		MaxTrials:      1,
	}
}

type fakeRunner struct {
	results []measurement.TrialResult
	lastReq executor.TrialRequest
	calls   int
}

func (f *fakeRunner) RunTrial(ctx context.Context, req executor.TrialRequest, trialIndex int) measurement.TrialResult {
	f.calls++
	f.lastReq = req
	if ctx.Err() != nil {
		return measurement.TrialResult{TrialIndex: trialIndex, Success: false, ErrorKind: "cancelled", ErrorMsg: ctx.Err().Error()}
	}
	r := f.results[trialIndex%len(f.results)]
	r.TrialIndex = trialIndex
	return r
}

type fakeValidator struct {
	result measurement.ValidationResult
	err    error
}

func (f *fakeValidator) Validate(code, entryPoint string, cases []validator.TestCase, timeoutSeconds float64, memoryLimitMB int) (measurement.ValidationResult, error) {
	return f.result, f.err
}

func passingValidator() *fakeValidator {
	return &fakeValidator{result: measurement.ValidationResult{IsCorrect: true, PassedTests: 1, TotalTests: 1, Summary: "1/1 tests passed"}}
}

func newTestService(t *testing.T, runner aggregator.TrialRunner, val validator.Validator, profile *calibration.Profile) *Service {
	t.Helper()
	if val == nil {
		val = passingValidator()
	}
	dir := t.TempDir()

	profilePath := filepath.Join(dir, "profile.json")
	store := calibration.NewStore(profilePath, testLogger())
	if profile != nil {
		if err := store.Save(profile); err != nil {
			t.Fatalf("failed to seed profile: %v", err)
		}
	}

	lockPath := filepath.Join(dir, "lock.json")
	locker := lock.NewManager(lockPath, "jouletrace", 10*time.Second, 10*time.Millisecond, testLogger())

	return New(0, "test-holder", store, locker, time.Second, runner, val, 0.1, "rapl-sysfs", testLogger())
}

func validProfile() *calibration.Profile {
	return &calibration.Profile{
		SocketID:        0,
		IdlePowerWatts:  5.0,
		MeanPowerWatts:  5.0,
		Measurements:    30,
		DurationSeconds: 30,
		Timestamp:       time.Now(),
		ValidUntilDays:  7,
	}
}

func success(netJoules float64, dur time.Duration) measurement.TrialResult {
	return measurement.TrialResult{Success: true, NetTotalJoules: netJoules, NetPackageJoules: netJoules, WallDuration: dur}
}

func TestMeasureCompletesSuccessfully(t *testing.T) {
	trial := success(10.0, 100*time.Millisecond)
	trial.CPUCore = 3
	runner := &fakeRunner{results: []measurement.TrialResult{trial}}
	svc := newTestService(t, runner, nil, validProfile())

	resp, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusCompleted {
		t.Fatalf("Status = %q, want completed (reason=%s)", resp.Status, resp.ErrorReason)
	}
	if resp.EnergyMetrics == nil {
		t.Fatalf("expected EnergyMetrics to be populated")
	}
	if resp.MeasurementEnvironment == nil || resp.MeasurementEnvironment.MeasurementCore != 3 {
		t.Errorf("MeasurementEnvironment = %+v, want measurement core 3", resp.MeasurementEnvironment)
	}
}

func TestMeasureValidatesThenMeasures(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	val := &fakeValidator{result: measurement.ValidationResult{IsCorrect: true, PassedTests: 2, TotalTests: 2, Summary: "2/2 tests passed"}}
	svc := newTestService(t, runner, val, validProfile())

	req := baseRequest()
	req.Code = "def f(n):\n    return n * 2\n"
	req.EntryPoint = "f"
	req.TestInputs = []measurement.TestInput{
		{Kind: measurement.InputScalar, Raw: json.RawMessage(`5`)},
		{Kind: measurement.InputScalar, Raw: json.RawMessage(`10`)},
	}
	req.ExpectedOutput = []json.RawMessage{rawInt(10), rawInt(20)}

	resp, err := svc.Measure(context.Background(), req, aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusCompleted {
		t.Fatalf("Status = %q, want completed (reason=%s)", resp.Status, resp.ErrorReason)
	}
	if resp.Validation == nil || !resp.Validation.IsCorrect {
		t.Fatalf("Validation = %+v, want is_correct=true", resp.Validation)
	}
	if resp.Validation.PassedTests != 2 {
		t.Errorf("PassedTests = %d, want 2", resp.Validation.PassedTests)
	}
	if runner.calls == 0 {
		t.Errorf("expected trials to run after the correctness gate passed")
	}
	if resp.EnergyMetrics == nil || resp.EnergyMetrics.MedianTotalEnergyJoules <= 0 {
		t.Errorf("EnergyMetrics = %+v, want positive median total energy", resp.EnergyMetrics)
	}
}

func TestMeasureValidationFailureSkipsEnergyMeasurement(t *testing.T) {
	runner := &fakeRunner{}
	val := &fakeValidator{result: measurement.ValidationResult{IsCorrect: false, PassedTests: 0, TotalTests: 1, Summary: "0/1 tests passed"}}
	svc := newTestService(t, runner, val, validProfile())

	req := baseRequest()
	req.ExpectedOutput = []json.RawMessage{rawInt(999)}

	resp, err := svc.Measure(context.Background(), req, aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusValidationFailed {
		t.Fatalf("Status = %q, want validation_failed", resp.Status)
	}
	if resp.EnergyMetrics != nil {
		t.Errorf("expected no EnergyMetrics on validation failure")
	}
	if runner.calls != 0 {
		t.Errorf("expected no trials after a failed correctness gate, got %d", runner.calls)
	}
}

func TestMeasureMissingCalibrationFails(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	svc := newTestService(t, runner, nil, nil)

	resp, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusFailed {
		t.Fatalf("Status = %q, want failed", resp.Status)
	}
	if resp.ErrorReason == "" {
		t.Errorf("expected a non-empty error reason")
	}
}

func TestMeasureStaleCalibrationFails(t *testing.T) {
	stale := validProfile()
	stale.Timestamp = time.Now().Add(-30 * 24 * time.Hour)
	stale.ValidUntilDays = 7

	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	svc := newTestService(t, runner, nil, stale)

	resp, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusFailed {
		t.Fatalf("Status = %q, want failed", resp.Status)
	}
}

func TestMeasureAllTrialsFailedReportsFailed(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{{Success: false, ErrorKind: "subprocess_error"}}}
	svc := newTestService(t, runner, nil, validProfile())

	resp, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusFailed {
		t.Fatalf("Status = %q, want failed", resp.Status)
	}
}

func TestMeasureLockReleasedAfterCompletion(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.json")
	store := calibration.NewStore(profilePath, testLogger())
	if err := store.Save(validProfile()); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	lockPath := filepath.Join(dir, "lock.json")
	locker := lock.NewManager(lockPath, "jouletrace", 10*time.Second, 10*time.Millisecond, testLogger())
	svc := New(0, "test-holder", store, locker, time.Second, runner, passingValidator(), 0.1, "rapl-sysfs", testLogger())

	_, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}

	locked, err := locker.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked() error = %v", err)
	}
	if locked {
		t.Errorf("expected lock to be released after measurement completes")
	}
}

func TestMeasureRejectsEmptyRequest(t *testing.T) {
	svc := newTestService(t, &fakeRunner{}, nil, validProfile())
	req := baseRequest()
	req.TestInputs = nil

	_, err := svc.Measure(context.Background(), req, aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if !errors.Is(err, measurement.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestMeasureRejectsMissingExpectedOutputs(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner, nil, validProfile())
	req := baseRequest()
	req.ExpectedOutput = nil

	_, err := svc.Measure(context.Background(), req, aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if !errors.Is(err, measurement.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("expected no trials for a request with no expected outputs, got %d", runner.calls)
	}
}

func TestMeasureCancellationDiscardsPartialAggregate(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	svc := newTestService(t, runner, nil, validProfile())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := svc.Measure(ctx, baseRequest(), aggregator.Params{MinTrials: 3, MaxTrials: 5, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if resp.Status != measurement.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", resp.Status)
	}
	if resp.EnergyMetrics != nil {
		t.Errorf("expected no EnergyMetrics on cancellation")
	}
}

func TestMeasurePassesConfiguredMinWallTime(t *testing.T) {
	runner := &fakeRunner{results: []measurement.TrialResult{success(10.0, 100 * time.Millisecond)}}
	svc := newTestService(t, runner, nil, validProfile())

	_, err := svc.Measure(context.Background(), baseRequest(), aggregator.Params{MinTrials: 1, MaxTrials: 1, TargetCV: 5.0})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if runner.lastReq.MinWallTimeSeconds != 0.1 {
		t.Fatalf("MinWallTimeSeconds = %v, want the configured 0.1 floor, not the request timeout", runner.lastReq.MinWallTimeSeconds)
	}
}
