package deploy

import (
	"errors"
	"fmt"
)

// ErrAlreadyInProgress is returned when a deployment request arrives
// for a target that already has an attempt in flight. The request is
// rejected immediately, never queued: two interleaved hard resets on
// the same working tree would race.
var ErrAlreadyInProgress = errors.New("deployment already in progress")

// CommandError reports the remote step that terminated a deployment.
// The captured output carries enough context to diagnose the failure
// without re-running.
type CommandError struct {
	StepIndex int
	Result    StepResult
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command %d exited with code %d (command: %s)",
		e.StepIndex, e.Result.ExitCode, e.Result.Command)
}
