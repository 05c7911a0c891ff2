// Command jouletrace is a thin composition root: it wires configuration,
// logging, topology discovery, the RAPL reader, the serialization lock,
// calibration storage, the socket executor, the statistical aggregator,
// and the correctness validator into internal/orchestrator.Service, then
// exposes that service over a small CLI. It owns no measurement logic of
// its own.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"jouletrace/internal/aggregator"
	"jouletrace/internal/calibration"
	"jouletrace/internal/calibrator"
	"jouletrace/internal/config"
	"jouletrace/internal/executor"
	"jouletrace/internal/lock"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
	"jouletrace/internal/orchestrator"
	"jouletrace/internal/rapl"
	"jouletrace/internal/topology"
	"jouletrace/internal/validator"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) <= 1 {
		printUsage()
		os.Exit(1)
	}

	command := strings.ToLower(os.Args[1])
	switch command {
	case "measure":
		runMeasure()
	case "calibrate":
		runCalibrate()
	case "lock-status":
		runLockStatus()
	case "version":
		fmt.Printf("jouletrace version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: jouletrace <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  measure       Read a MeasurementRequest as JSON on stdin, write a Response as JSON on stdout")
	fmt.Println("  calibrate     Re-calibrate the configured socket's idle-power baseline")
	fmt.Println("  lock-status   Print the current state of the serialization lock")
	fmt.Println("  version       Print the version")
}

func loadConfigOrExit() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loggerFor(cfg config.Config) *logging.Logger {
	level := logging.Level(cfg.Logging.Level)
	return logging.NewLogger(level)
}

func currentHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	who := "unknown-user"
	if u, err := user.Current(); err == nil {
		who = u.Username
	}
	return fmt.Sprintf("%s:%s:%d", host, who, os.Getpid())
}

func runMeasure() {
	cfg := loadConfigOrExit()
	logger := loggerFor(cfg)

	var req measurement.MeasurementRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding measurement request: %v\n", err)
		os.Exit(1)
	}

	svc, err := buildService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing jouletrace: %v\n", err)
		os.Exit(1)
	}

	params := aggregator.Params{
		MinTrials: cfg.Aggregator.MinTrials,
		MaxTrials: cfg.Aggregator.MaxTrials,
		TargetCV:  cfg.Aggregator.TargetCVPercent,
		Cooldown:  time.Duration(cfg.Aggregator.CooldownSeconds * float64(time.Second)),
	}

	resp, err := svc.Measure(context.Background(), req, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error measuring request: %v\n", err)
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
		os.Exit(1)
	}

	if resp.Status != measurement.StatusCompleted {
		os.Exit(1)
	}
}

func runCalibrate() {
	cfg := loadConfigOrExit()
	logger := loggerFor(cfg)

	reader, err := rapl.NewSysfsReader(cfg.Socket.SysfsPath, 100*time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing RAPL reader: %v\n", err)
		os.Exit(1)
	}
	prober := topology.NewProber(cfg.Socket.ProcfsPath)

	cal, err := calibrator.New(reader, prober, cfg.Socket.ProcfsPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing calibrator: %v\n", err)
		os.Exit(1)
	}

	duration := time.Duration(cfg.Calibrator.DurationSeconds) * time.Second
	fmt.Printf("Calibrating socket %d for %s...\n", cfg.Socket.TargetSocket, duration)

	profile, err := cal.Calibrate(cfg.Socket.TargetSocket, duration, cfg.Calibrator.ValidityDays, cfg.Calibrator.MaxStartupCV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Calibration failed: %v\n", err)
		os.Exit(1)
	}

	store := calibration.NewStore(cfg.Calibrator.ProfilePath, logger)
	if err := store.Save(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving calibration profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Idle power: %.3f W (CV %.2f%%, %d samples)\n", profile.IdlePowerWatts, profile.CVPercent, profile.Measurements)
	fmt.Printf("Saved to %s, valid for %d days.\n", cfg.Calibrator.ProfilePath, profile.ValidUntilDays)
}

func runLockStatus() {
	cfg := loadConfigOrExit()
	logger := loggerFor(cfg)

	locker := lock.NewManager(
		cfg.Lock.StatePath,
		cfg.Lock.Key,
		time.Duration(cfg.Lock.TTLSeconds)*time.Second,
		time.Duration(cfg.Lock.PollIntervalSeconds*float64(time.Second)),
		logger,
	)

	status, err := locker.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading lock status: %v\n", err)
		os.Exit(1)
	}

	if status.Holder == "" {
		fmt.Println("Lock is free.")
		return
	}
	fmt.Printf("Lock %q held by %s since %s (ttl %ds)\n", status.Key, status.Holder, status.SinceTS.Format(time.RFC3339), status.TTL)
}

// buildService wires every collaborator together exactly as
// cmd/jouletrace's one and only composition point.
func buildService(cfg config.Config, logger *logging.Logger) (*orchestrator.Service, error) {
	reader, err := rapl.NewSysfsReader(cfg.Socket.SysfsPath, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RAPL reader: %w", err)
	}
	prober := topology.NewProber(cfg.Socket.ProcfsPath)

	profiles := calibration.NewStore(cfg.Calibrator.ProfilePath, logger)

	locker := lock.NewManager(
		cfg.Lock.StatePath,
		cfg.Lock.Key,
		time.Duration(cfg.Lock.TTLSeconds)*time.Second,
		time.Duration(cfg.Lock.PollIntervalSeconds*float64(time.Second)),
		logger,
	)

	exec := executor.New(
		reader,
		prober,
		cfg.Executor.PythonInterpreter,
		time.Duration(cfg.Executor.SettleDelayMillis)*time.Millisecond,
		os.TempDir(),
		logger,
	)

	val := validator.NewDefaultValidator(cfg.Executor.PythonInterpreter, os.TempDir(), validator.DefaultComparisonConfig(), logger)

	lockTimeout := time.Duration(cfg.Lock.TTLSeconds) * time.Second

	svc := orchestrator.New(
		cfg.Socket.TargetSocket,
		currentHolder(),
		profiles,
		locker,
		lockTimeout,
		exec,
		val,
		cfg.Executor.MinWallTimeSeconds,
		"rapl-sysfs",
		logger,
	)

	return svc, nil
}
