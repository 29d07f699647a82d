package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ProbeFlag is passed to an engine executable to request a one-shot probe.
const ProbeFlag = "--probe"

// Executor runs one-shot engine probes with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates a new Executor with the given timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout}
}

// Probe starts the engine with --probe, writes req as JSON to its stdin and
// parses its stdout as a ProbeResponse. The engine is expected to check that
// it can load the requested model and exit.
func (e *Executor) Probe(ctx context.Context, eng *Engine, req *ProbeRequest) (*ProbeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, eng.Executable, ProbeFlag)
	cmd.Dir = eng.Path

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal probe request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("engine probe timeout after %s", e.timeout)
	}

	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("engine probe failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("engine probe failed: %w", err)
	}

	var response ProbeResponse
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse probe response: %w, stdout: %s", err, stdout.String())
	}

	return &response, nil
}
