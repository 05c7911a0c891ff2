// Package driver materializes the fixed interpreter-side driver script
// and a per-trial JSON payload to ephemeral files: the driver's text
// never varies, so there is no string-template escaping, only the
// payload content changes between trials.
package driver

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"jouletrace/internal/measurement"
)

// Script is the embedded, fixed-text driver program materialized once
// per trial.
//
//go:embed script.py
var Script []byte

// Payload is the per-trial side-car data the driver script reads from
// its sole argument path.
type Payload struct {
	EntryPoint         string               `json:"entry_point"`
	Code               string               `json:"code"`
	Inputs             []measurement.TestInput `json:"inputs"`
	MinWallTimeSeconds float64              `json:"min_wall_time_seconds"`
	MemoryLimitMB      int                  `json:"memory_limit_mb"`
}

// Files holds the ephemeral paths for one trial's driver invocation.
type Files struct {
	ScriptPath  string
	PayloadPath string
	cleanup     func()
}

// Close removes the ephemeral files. Safe to call multiple times.
func (f *Files) Close() {
	if f.cleanup != nil {
		f.cleanup()
		f.cleanup = nil
	}
}

// Write materializes the fixed driver script and the given payload under
// dir (an ephemeral scratch directory, typically os.TempDir()), returning
// paths to invoke as `python3 <script> <payload>`. The caller must defer
// Close() to guarantee cleanup on every exit path.
func Write(dir string, payload Payload) (*Files, error) {
	scriptFile, err := os.CreateTemp(dir, "jouletrace-driver-*.py")
	if err != nil {
		return nil, fmt.Errorf("failed to create driver script file: %w", err)
	}
	scriptPath := scriptFile.Name()
	if _, err := scriptFile.Write(Script); err != nil {
		scriptFile.Close()
		os.Remove(scriptPath)
		return nil, fmt.Errorf("failed to write driver script: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("failed to close driver script: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("failed to marshal driver payload: %w", err)
	}

	payloadFile, err := os.CreateTemp(dir, "jouletrace-payload-*.json")
	if err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("failed to create driver payload file: %w", err)
	}
	payloadPath := payloadFile.Name()
	if _, err := payloadFile.Write(data); err != nil {
		payloadFile.Close()
		os.Remove(scriptPath)
		os.Remove(payloadPath)
		return nil, fmt.Errorf("failed to write driver payload: %w", err)
	}
	if err := payloadFile.Close(); err != nil {
		os.Remove(scriptPath)
		os.Remove(payloadPath)
		return nil, fmt.Errorf("failed to close driver payload: %w", err)
	}

	files := &Files{
		ScriptPath:  scriptPath,
		PayloadPath: payloadPath,
		cleanup: func() {
			os.Remove(scriptPath)
			os.Remove(payloadPath)
		},
	}
	return files, nil
}
