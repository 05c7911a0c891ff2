package aggregator

import (
	"context"
	"testing"
	"time"

	"jouletrace/internal/executor"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
)

type scriptedRunner struct {
	results []measurement.TrialResult
	calls   int
}

func (s *scriptedRunner) RunTrial(_ context.Context, _ executor.TrialRequest, trialIndex int) measurement.TrialResult {
	s.calls++
	r := s.results[trialIndex]
	r.TrialIndex = trialIndex
	return r
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func success(netJoules float64, dur time.Duration) measurement.TrialResult {
	return measurement.TrialResult{Success: true, NetTotalJoules: netJoules, NetPackageJoules: netJoules, WallDuration: dur}
}

func failure(kind string) measurement.TrialResult {
	return measurement.TrialResult{Success: false, ErrorKind: kind}
}

func TestAggregateStopsEarlyOnConvergence(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		success(10.0, 100*time.Millisecond),
		success(10.1, 100*time.Millisecond),
		success(9.9, 100*time.Millisecond),
	}}
	agg := New(runner, testLogger())

	result, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 20, TargetCV: 5.0, Cooldown: 0,
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if result.SuccessfulTrials != 3 {
		t.Errorf("SuccessfulTrials = %d, want 3", result.SuccessfulTrials)
	}
	if !result.EarlyStop || result.EarlyStopReason != "achieved target" {
		t.Errorf("expected early stop on convergence, got %+v", result)
	}
	if runner.calls != 3 {
		t.Errorf("expected exactly 3 trials run, got %d", runner.calls)
	}
}

func TestAggregateRunsToMaxTrialsOnHighVariance(t *testing.T) {
	results := []measurement.TrialResult{
		success(5.0, 100*time.Millisecond),
		success(50.0, 100*time.Millisecond),
		success(5.0, 100*time.Millisecond),
		success(50.0, 100*time.Millisecond),
	}
	runner := &scriptedRunner{results: results}
	agg := New(runner, testLogger())

	result, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 4, TargetCV: 1.0, Cooldown: 0,
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if result.EarlyStopReason != "max trials reached" {
		t.Errorf("EarlyStopReason = %q, want max trials reached", result.EarlyStopReason)
	}
	if result.EarlyStop {
		t.Errorf("exhausting the trial budget is not an early stop")
	}
	if result.TotalTrials != 4 {
		t.Errorf("TotalTrials = %d, want 4", result.TotalTrials)
	}
}

func TestAggregateAbsorbsFailuresUpToBudget(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		failure("timeout"),
		success(10.0, 100*time.Millisecond),
		success(10.1, 100*time.Millisecond),
		success(9.9, 100*time.Millisecond),
	}}
	agg := New(runner, testLogger())

	result, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 20, TargetCV: 5.0, Cooldown: 0,
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if result.FailedTrials != 1 {
		t.Errorf("FailedTrials = %d, want 1", result.FailedTrials)
	}
	if result.SuccessfulTrials != 3 {
		t.Errorf("SuccessfulTrials = %d, want 3", result.SuccessfulTrials)
	}
}

func TestAggregateAllTrialsFailed(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		failure("subprocess_error"),
		failure("subprocess_error"),
		failure("subprocess_error"),
	}}
	agg := New(runner, testLogger())

	_, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 3, TargetCV: 5.0, Cooldown: 0,
	})
	if err != measurement.ErrAllTrialsFailed {
		t.Fatalf("Aggregate() error = %v, want ErrAllTrialsFailed", err)
	}
}

func TestAggregateSingleSuccessfulTrialConfidenceLow(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		success(10.0, 100*time.Millisecond),
	}}
	agg := New(runner, testLogger())

	result, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 1, MaxTrials: 1, TargetCV: 5.0, Cooldown: 0,
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if result.StddevJoules != 0 {
		t.Errorf("StddevJoules = %v, want 0", result.StddevJoules)
	}
	if result.CVPercent != 0 {
		t.Errorf("CVPercent = %v, want 0", result.CVPercent)
	}
	if result.Confidence != measurement.ConfidenceLow {
		t.Errorf("Confidence = %q, want low", result.Confidence)
	}
}

func TestAggregateCancellationDiscardsPartialAggregate(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		success(10.0, 100*time.Millisecond),
		success(10.1, 100*time.Millisecond),
		success(9.9, 100*time.Millisecond),
	}}
	agg := New(runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Aggregate(ctx, executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 20, TargetCV: 5.0, Cooldown: 0,
	})
	if err != measurement.ErrCancelled {
		t.Fatalf("Aggregate() error = %v, want ErrCancelled", err)
	}
}

func TestAggregateCancellationAfterFailedTrialIsReported(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		failure("subprocess_error"),
	}}
	agg := New(runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Aggregate(ctx, executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 20, TargetCV: 5.0, Cooldown: 0,
	})
	if err != measurement.ErrCancelled {
		t.Fatalf("Aggregate() error = %v, want ErrCancelled", err)
	}
}

func TestAggregateSkipsCooldownAfterFailure(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		failure("subprocess_error"),
		failure("subprocess_error"),
		failure("subprocess_error"),
	}}
	agg := New(runner, testLogger())

	cooldown := 200 * time.Millisecond
	start := time.Now()
	_, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 3, TargetCV: 5.0, Cooldown: cooldown,
	})
	if err != measurement.ErrAllTrialsFailed {
		t.Fatalf("Aggregate() error = %v, want ErrAllTrialsFailed", err)
	}
	if elapsed := time.Since(start); elapsed >= cooldown {
		t.Errorf("elapsed = %v, cooldown should be skipped after failed trials", elapsed)
	}
}

func TestAggregateRespectsCooldown(t *testing.T) {
	runner := &scriptedRunner{results: []measurement.TrialResult{
		success(10.0, 10*time.Millisecond),
		success(10.0, 10*time.Millisecond),
		success(10.0, 10*time.Millisecond),
	}}
	agg := New(runner, testLogger())

	cooldown := 30 * time.Millisecond
	start := time.Now()
	_, err := agg.Aggregate(context.Background(), executor.TrialRequest{}, Params{
		MinTrials: 3, MaxTrials: 3, TargetCV: 0.0001, Cooldown: cooldown,
	})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	elapsed := time.Since(start)
	// Two cooldown sleeps occur between three trials before the
	// min-trials check on the third allows convergence evaluation.
	if elapsed < cooldown {
		t.Errorf("elapsed = %v, want >= %v (cooldown not respected)", elapsed, cooldown)
	}
}
