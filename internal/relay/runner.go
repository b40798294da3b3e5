package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// StageRunner executes one hardware test stage for a serial and reports the
// resulting event. The integration with the actual tester (subprocess, file
// trigger, ...) lives behind this interface; the relay never constructs one.
type StageRunner interface {
	RunStage(ctx context.Context, stage, serial string) (Event, error)
}

// CommandRunner runs an external tester binary, one invocation per stage.
// The binary is expected to print a single JSON event on stdout.
type CommandRunner struct {
	Path    string
	Timeout time.Duration
}

func (c *CommandRunner) RunStage(ctx context.Context, stage, serial string) (Event, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.Path, stage, serial).Output()
	if err != nil {
		return Event{}, fmt.Errorf("stage %s execution failed: %w", stage, err)
	}

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(out), &ev); err != nil {
		return Event{}, fmt.Errorf("stage %s produced invalid output: %w", stage, err)
	}
	return ev, nil
}

// RunSequence drives a full test run for a serial: for every stage it
// broadcasts a testing event, invokes the runner, then broadcasts the
// runner's result. A failed or unparsable stage is reported as a fail event
// and the sequence moves on to the next stage.
func (r *Relay) RunSequence(ctx context.Context, serial string, runner StageRunner) error {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return &ValidationError{Message: "serial is required"}
	}
	if runner == nil {
		return errors.New("no stage runner configured")
	}

	for _, stage := range Stages {
		r.broadcastStageEvent(serial, stage, "testing", nil)

		ev, err := runner.RunStage(ctx, stage, serial)
		if err != nil {
			log.Printf("relay: stage %s failed for serial %s: %v", stage, serial, err)
			r.broadcastStageEvent(serial, stage, "fail", map[string]any{"error": "test execution failed"})
			continue
		}

		if _, err := r.Submit(ev); err != nil {
			log.Printf("relay: stage %s produced invalid event for serial %s: %v", stage, serial, err)
			r.broadcastStageEvent(serial, stage, "fail", map[string]any{"error": "invalid test output"})
		}
	}

	log.Printf("relay: all stages completed for serial %s", serial)
	return nil
}
