package driver

import (
	"encoding/json"
	"os"
	"testing"

	"jouletrace/internal/measurement"
)

func TestWriteProducesReadablePayload(t *testing.T) {
	dir := t.TempDir()

	payload := Payload{
		EntryPoint: "solve",
		Code:       "def solve(n):\n    return n * 2\n",
		Inputs: []measurement.TestInput{
			{Kind: measurement.InputScalar, Raw: json.RawMessage(`5`)},
		},
		MinWallTimeSeconds: 0.1,
		MemoryLimitMB:      512,
	}

	files, err := Write(dir, payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	defer files.Close()

	scriptData, err := os.ReadFile(files.ScriptPath)
	if err != nil {
		t.Fatalf("failed to read script: %v", err)
	}
	if string(scriptData) != string(Script) {
		t.Errorf("materialized script differs from embedded Script")
	}

	payloadData, err := os.ReadFile(files.PayloadPath)
	if err != nil {
		t.Fatalf("failed to read payload: %v", err)
	}

	var roundTrip Payload
	if err := json.Unmarshal(payloadData, &roundTrip); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if roundTrip.EntryPoint != payload.EntryPoint {
		t.Errorf("EntryPoint = %q, want %q", roundTrip.EntryPoint, payload.EntryPoint)
	}
}

func TestCloseRemovesFiles(t *testing.T) {
	dir := t.TempDir()

	files, err := Write(dir, Payload{EntryPoint: "solve", Code: "def solve(x): return x"})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	files.Close()

	if _, err := os.Stat(files.ScriptPath); !os.IsNotExist(err) {
		t.Errorf("script file still exists after Close()")
	}
	if _, err := os.Stat(files.PayloadPath); !os.IsNotExist(err) {
		t.Errorf("payload file still exists after Close()")
	}

	// Idempotent.
	files.Close()
}
