// Package measurement holds the data model shared across the core
// subsystems: the request/response envelope, tagged input variants, and
// the per-trial and aggregated result records. None of these types own
// behavior beyond small accessors; the subsystems in internal/calibration,
// internal/executor, internal/aggregator, and internal/orchestrator
// operate on them.
package measurement

import (
	"bytes"
	"encoding/json"
	"time"
)

// InputKind tags the shape of one test input, mirroring
// InputArgs = Union[Any, List[Any], Dict[str, Any]].
type InputKind string

const (
	// InputScalar carries a single positional argument.
	InputScalar InputKind = "scalar"
	// InputSequence carries a JSON array dispatched as positional args.
	InputSequence InputKind = "sequence"
	// InputMapping carries a JSON object dispatched as named args.
	InputMapping InputKind = "mapping"
)

// TestInput is one tagged test input. Raw holds the JSON encoding of the
// scalar/array/object exactly as supplied, so the driver payload can pass
// it through to the subprocess without the Go side interpreting its
// contents.
type TestInput struct {
	Kind InputKind       `json:"kind"`
	Raw  json.RawMessage `json:"raw"`
}

// UnmarshalJSON accepts either the tagged {"kind": ..., "raw": ...} form
// or a bare JSON value, inferring the tag from the value's shape: object
// dispatches as named arguments, array as positional arguments, anything
// else as a single positional argument.
func (t *TestInput) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Kind InputKind       `json:"kind"`
		Raw  json.RawMessage `json:"raw"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && len(tagged.Raw) > 0 {
		switch tagged.Kind {
		case InputScalar, InputSequence, InputMapping:
			t.Kind = tagged.Kind
			t.Raw = tagged.Raw
			return nil
		}
	}

	raw := json.RawMessage(bytes.TrimSpace(data))
	t.Kind = InferKind(raw)
	t.Raw = raw
	return nil
}

// InferKind tags a bare JSON value by its shape.
func InferKind(raw json.RawMessage) InputKind {
	if len(raw) > 0 {
		switch raw[0] {
		case '{':
			return InputMapping
		case '[':
			return InputSequence
		}
	}
	return InputScalar
}

// MeasurementRequest is the input contract for one measurement.
type MeasurementRequest struct {
	RequestID  string      `json:"request_id"`
	Code       string      `json:"code"`
	EntryPoint string      `json:"entry_point"`
	TestInputs []TestInput `json:"test_inputs"`

	// ExpectedOutput pairs one-to-one with TestInputs; the correctness
	// gate runs against these before any energy is measured.
	ExpectedOutput []json.RawMessage `json:"expected_outputs"`

	TimeoutSeconds float64 `json:"timeout_seconds"`
	MemoryLimitMB  int     `json:"memory_limit_mb"`

	TargetTrials  int     `json:"target_trials"`
	TargetCV      float64 `json:"target_cv_percent"`
	MinTrials     int     `json:"min_trials"`
	MaxTrials     int     `json:"max_trials"`
}

// EnergyReading mirrors internal/rapl.EnergyReading at the measurement
// layer. The executor itself records rapl.EnergyReading values at each
// trial boundary; rapl.EnergyReading is the authoritative capture type.
type EnergyReading struct {
	SocketID      int
	PackageJoules float64
	DRAMJoules    float64
	CapturedAt    time.Time
}

// TrialResult is one executed measurement.
type TrialResult struct {
	TrialIndex int
	Success    bool
	ErrorKind  string
	ErrorMsg   string

	WallDuration time.Duration

	RawPackageJoules float64
	RawDRAMJoules    float64
	BaselineJoules   float64
	NetPackageJoules float64
	NetTotalJoules   float64

	CPUCore   int
	Timestamp time.Time
}

// AggregatedResult is the output envelope from the statistical aggregator
// for one measurement request.
type AggregatedResult struct {
	SuccessfulTrials int
	FailedTrials     int
	TotalTrials      int

	TrialNetEnergies []float64
	TrialDurations   []time.Duration

	MedianEnergyJoules float64
	MeanEnergyJoules   float64
	StddevJoules       float64
	CVPercent          float64

	MedianPackageJoules float64
	MedianDRAMJoules    float64

	MedianDuration time.Duration
	MeanDuration   time.Duration
	MedianPower    float64
	MeanPower      float64

	MeasurementCore int

	Confidence string // "high", "medium", "low"

	EarlyStop       bool
	EarlyStopReason string
}

// Confidence labels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ValidationResult is the correctness gate's verdict.
type ValidationResult struct {
	IsCorrect   bool
	PassedTests int
	TotalTests  int
	Summary     string
}

// ResponseStatus enumerates the orchestrator's terminal states.
type ResponseStatus string

const (
	StatusCompleted         ResponseStatus = "completed"
	StatusValidationFailed  ResponseStatus = "validation_failed"
	StatusCancelled         ResponseStatus = "cancelled"
	StatusFailed            ResponseStatus = "failed"
	StatusBusy              ResponseStatus = "busy"
)

// EnergyMetrics is the response envelope's energy_metrics block.
type EnergyMetrics struct {
	MedianPackageEnergyJoules  float64 `json:"median_package_energy_joules"`
	MedianRAMEnergyJoules      float64 `json:"median_ram_energy_joules"`
	MedianTotalEnergyJoules    float64 `json:"median_total_energy_joules"`
	MedianExecutionTimeSeconds float64 `json:"median_execution_time_seconds"`
	EnergyPerTestCaseJoules    float64 `json:"energy_per_test_case_joules"`
	PowerConsumptionWatts      float64 `json:"power_consumption_watts"`
	EnergyEfficiencyScore      float64 `json:"energy_efficiency_score"`
}

// MeasurementEnvironment is the response envelope's measurement_environment
// block.
type MeasurementEnvironment struct {
	MeterType       string    `json:"meter_type"`
	MeasurementCore int       `json:"measurement_core"`
	Timestamp       time.Time `json:"timestamp"`
}

// Response is the orchestrator's output envelope.
type Response struct {
	RequestID              string                  `json:"request_id"`
	Status                 ResponseStatus          `json:"status"`
	Validation             *ValidationResponse     `json:"validation,omitempty"`
	EnergyMetrics          *EnergyMetrics          `json:"energy_metrics,omitempty"`
	MeasurementEnvironment *MeasurementEnvironment `json:"measurement_environment,omitempty"`
	ProcessingTimeSeconds  float64                 `json:"processing_time_seconds"`
	ErrorReason            string                  `json:"error_reason,omitempty"`
}

// ValidationResponse is the wire shape of the correctness validator's
// record.
type ValidationResponse struct {
	IsCorrect   bool   `json:"is_correct"`
	PassedTests int    `json:"passed_tests"`
	TotalTests  int    `json:"total_tests"`
	Summary     string `json:"summary,omitempty"`
}
