// Package validator implements the correctness gate: it runs each test
// case once against the submitted code, with no CPU pinning and no
// energy measurement, and compares actual vs expected output with a
// tolerant comparator: float epsilon and relative tolerance always apply;
// case-insensitive strings, whitespace-insensitive strings and
// order-insensitive lists are options that DefaultComparisonConfig
// leaves off.
//
// internal/orchestrator depends on the Validator interface rather than
// this concrete type, so the correctness gate can be swapped without
// touching the measurement pipeline.
package validator

import (
	_ "embed"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
)

//go:embed script.py
var script []byte

// TestCase pairs one tagged input with its expected output, the contract
// the correctness validator needs beyond what MeasurementRequest's
// TestInputs alone provide.
type TestCase struct {
	TestID         string
	Input          measurement.TestInput
	ExpectedOutput json.RawMessage
}

// Validator is the correctness-gate interface the orchestrator depends
// on.
type Validator interface {
	Validate(code, entryPoint string, cases []TestCase, timeoutSeconds float64, memoryLimitMB int) (measurement.ValidationResult, error)
}

// DefaultValidator is the subprocess-backed default implementation.
type DefaultValidator struct {
	interpreter string
	scratchDir  string
	comparator  *Comparator
	logger      *logging.Logger
}

// NewDefaultValidator constructs a DefaultValidator.
func NewDefaultValidator(interpreter, scratchDir string, cfg ComparisonConfig, logger *logging.Logger) *DefaultValidator {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &DefaultValidator{
		interpreter: interpreter,
		scratchDir:  scratchDir,
		comparator:  NewComparator(cfg),
		logger:      logger,
	}
}

type payloadCase struct {
	TestID string          `json:"test_id"`
	Kind   string          `json:"kind"`
	Raw    json.RawMessage `json:"raw"`
}

type payload struct {
	EntryPoint string        `json:"entry_point"`
	Code       string        `json:"code"`
	TestCases  []payloadCase `json:"test_cases"`
}

type scriptResult struct {
	LoadError string `json:"load_error,omitempty"`
	Results   []struct {
		TestID string          `json:"test_id"`
		Output json.RawMessage `json:"output,omitempty"`
		Error  string          `json:"error,omitempty"`
	} `json:"results"`
}

// Validate runs every test case once and reports pass/fail. This package
// never touches the energy subsystem; the orchestrator is responsible for
// never proceeding to lock acquisition when validation fails.
func (v *DefaultValidator) Validate(code, entryPoint string, cases []TestCase, timeoutSeconds float64, memoryLimitMB int) (measurement.ValidationResult, error) {
	scriptFile, err := os.CreateTemp(v.scratchDir, "jouletrace-validate-*.py")
	if err != nil {
		return measurement.ValidationResult{}, fmt.Errorf("failed to create validator script: %w", err)
	}
	scriptPath := scriptFile.Name()
	defer os.Remove(scriptPath)
	if _, err := scriptFile.Write(script); err != nil {
		scriptFile.Close()
		return measurement.ValidationResult{}, fmt.Errorf("failed to write validator script: %w", err)
	}
	scriptFile.Close()

	p := payload{EntryPoint: entryPoint, Code: code}
	for _, c := range cases {
		p.TestCases = append(p.TestCases, payloadCase{TestID: c.TestID, Kind: string(c.Input.Kind), Raw: c.Input.Raw})
	}
	data, err := json.Marshal(p)
	if err != nil {
		return measurement.ValidationResult{}, fmt.Errorf("failed to marshal validator payload: %w", err)
	}

	payloadFile, err := os.CreateTemp(v.scratchDir, "jouletrace-validate-payload-*.json")
	if err != nil {
		return measurement.ValidationResult{}, fmt.Errorf("failed to create validator payload: %w", err)
	}
	payloadPath := payloadFile.Name()
	defer os.Remove(payloadPath)
	if _, err := payloadFile.Write(data); err != nil {
		payloadFile.Close()
		return measurement.ValidationResult{}, fmt.Errorf("failed to write validator payload: %w", err)
	}
	payloadFile.Close()

	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// #nosec G204 -- interpreter is operator configuration; script/payload
	// paths are ephemeral files this process created.
	cmd := exec.Command(v.interpreter, scriptPath, payloadPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return measurement.ValidationResult{}, fmt.Errorf("failed to start validator subprocess: %w", err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return measurement.ValidationResult{
				IsCorrect:   false,
				PassedTests: 0,
				TotalTests:  len(cases),
				Summary:     strings.TrimSpace(stderr.String()),
			}, nil
		}
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return measurement.ValidationResult{
			IsCorrect:   false,
			PassedTests: 0,
			TotalTests:  len(cases),
			Summary:     fmt.Sprintf("validation timed out after %.1fs", timeout.Seconds()),
		}, nil
	}

	var result scriptResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return measurement.ValidationResult{}, fmt.Errorf("failed to parse validator output: %w", err)
	}

	if result.LoadError != "" {
		return measurement.ValidationResult{
			IsCorrect:   false,
			PassedTests: 0,
			TotalTests:  len(cases),
			Summary:     result.LoadError,
		}, nil
	}

	expectedByID := make(map[string]json.RawMessage, len(cases))
	for _, c := range cases {
		expectedByID[c.TestID] = c.ExpectedOutput
	}

	passed := 0
	for _, r := range result.Results {
		if r.Error != "" {
			continue
		}
		expected, ok := expectedByID[r.TestID]
		if !ok {
			continue
		}
		if v.comparator.Compare(expected, r.Output) {
			passed++
		}
	}

	isCorrect := passed == len(cases) && len(cases) > 0
	summary := fmt.Sprintf("%d/%d tests passed", passed, len(cases))

	return measurement.ValidationResult{
		IsCorrect:   isCorrect,
		PassedTests: passed,
		TotalTests:  len(cases),
		Summary:     summary,
	}, nil
}
