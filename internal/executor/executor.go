// Package executor runs one measured trial: pins a subprocess to a fixed
// CPU core on the target socket, reads RAPL counters before and after,
// and subtracts the calibrated idle baseline to yield net energy.
// Process construction follows the exec.Command wrapping style used
// elsewhere in this module's service-runtime code: separate stdout/stderr
// buffers and wrapped errors, no shell interpolation.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"jouletrace/internal/driver"
	"jouletrace/internal/logging"
	"jouletrace/internal/measurement"
	"jouletrace/internal/rapl"
	"jouletrace/internal/topology"
)

// Default per-trial parameters.
const (
	DefaultSettleDelay       = 2 * time.Millisecond
	DefaultMinWallTime       = 100 * time.Millisecond
	DefaultTimeout           = 30 * time.Second
	DefaultPythonInterpreter = "python3"
)

// TrialRequest is the input to one RunTrial call.
type TrialRequest struct {
	Code               string
	EntryPoint         string
	Inputs             []measurement.TestInput
	SocketID           int
	CPUCore            int // -1 selects the socket's first CPU
	TimeoutSeconds     float64
	MemoryLimitMB      int
	MinWallTimeSeconds float64
	IdlePowerWatts     float64
}

// Executor runs trials on an isolated socket.
type Executor struct {
	reader      rapl.Reader
	prober      *topology.Prober
	interpreter string
	settleDelay time.Duration
	scratchDir  string
	logger      *logging.Logger
}

// New constructs an Executor. scratchDir is where ephemeral driver files
// are materialized (typically os.TempDir()).
func New(reader rapl.Reader, prober *topology.Prober, interpreter string, settleDelay time.Duration, scratchDir string, logger *logging.Logger) *Executor {
	if interpreter == "" {
		interpreter = DefaultPythonInterpreter
	}
	return &Executor{
		reader:      reader,
		prober:      prober,
		interpreter: interpreter,
		settleDelay: settleDelay,
		scratchDir:  scratchDir,
		logger:      logger,
	}
}

// RunTrial executes one trial: pin to a core, read energy before and
// after one driver subprocess (which repeats the input list until the
// minimum wall time is reached), and compute net energy.
func (e *Executor) RunTrial(ctx context.Context, req TrialRequest, trialIndex int) measurement.TrialResult {
	core, err := e.resolveCore(req)
	if err != nil {
		return failedTrial(trialIndex, req.CPUCore, "", err.Error())
	}

	maxPkg, maxDram := e.reader.MaxJoules(req.SocketID)

	e.reader.Invalidate(req.SocketID)
	time.Sleep(e.settleDelay)

	before, err := e.reader.Read(req.SocketID)
	if err != nil {
		return failedTrial(trialIndex, core, "", err.Error())
	}

	files, err := driver.Write(e.scratchDir, driver.Payload{
		EntryPoint:         req.EntryPoint,
		Code:               req.Code,
		Inputs:             req.Inputs,
		MinWallTimeSeconds: req.MinWallTimeSeconds,
		MemoryLimitMB:      req.MemoryLimitMB,
	})
	if err != nil {
		return failedTrial(trialIndex, core, "", fmt.Sprintf("failed to prepare driver: %v", err))
	}
	defer files.Close()

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- core and interpreter are operator configuration, not
	// request-controlled; script/payload paths are ephemeral files this
	// process created.
	cmd := exec.CommandContext(runCtx, "taskset", "-c", strconv.Itoa(core), e.interpreter, files.ScriptPath, files.PayloadPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	time.Sleep(e.settleDelay)
	e.reader.Invalidate(req.SocketID)
	after, readErr := e.reader.Read(req.SocketID)
	if readErr != nil {
		return failedTrial(trialIndex, core, "", readErr.Error())
	}

	// Wall duration spans the two counter reads on the outer monotonic
	// clock, never any time self-reported by the subprocess.
	wallDuration := after.CapturedAt.Sub(before.CapturedAt)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failedTrial(trialIndex, core, "timeout", fmt.Sprintf("execution exceeded %.3fs timeout", timeout.Seconds()))
	}

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return failedTrial(trialIndex, core, "subprocess_error", msg)
	}

	if !strings.Contains(stderr.String(), "SUCCESS") {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "driver did not report success"
		}
		return failedTrial(trialIndex, core, "subprocess_error", msg)
	}

	pkgDelta, dramDelta, err := rapl.Delta(before, after, maxPkg, maxDram)
	if err != nil {
		return failedTrial(trialIndex, core, "rollover_error", err.Error())
	}

	baseline := req.IdlePowerWatts * wallDuration.Seconds()
	netPkg := pkgDelta - baseline
	if netPkg < 0 {
		netPkg = 0
	}
	dramNet := dramDelta
	if dramNet < 0 {
		dramNet = 0
	}
	netTotal := netPkg + dramNet

	return measurement.TrialResult{
		TrialIndex:       trialIndex,
		Success:          true,
		WallDuration:     wallDuration,
		RawPackageJoules: pkgDelta,
		RawDRAMJoules:    dramDelta,
		BaselineJoules:   baseline,
		NetPackageJoules: netPkg,
		NetTotalJoules:   netTotal,
		CPUCore:          core,
		Timestamp:        after.CapturedAt,
	}
}

func (e *Executor) resolveCore(req TrialRequest) (int, error) {
	if req.CPUCore >= 0 {
		return req.CPUCore, nil
	}
	topo, err := e.prober.Discover()
	if err != nil {
		return 0, err
	}
	cpus, err := topo.CPUsOf(req.SocketID)
	if err != nil {
		return 0, err
	}
	if len(cpus) == 0 {
		return 0, fmt.Errorf("%w: socket %d has no CPUs", measurement.ErrBadCPU, req.SocketID)
	}
	return cpus[0], nil
}

func failedTrial(trialIndex, core int, kind, msg string) measurement.TrialResult {
	return measurement.TrialResult{
		TrialIndex: trialIndex,
		Success:    false,
		ErrorKind:  kind,
		ErrorMsg:   msg,
		CPUCore:    core,
		Timestamp:  time.Now(),
	}
}
