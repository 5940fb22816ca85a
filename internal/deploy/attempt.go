package deploy

import (
	"time"

	"gitship/internal/target"
)

// State identifies where an attempt is in its pipeline. Transitions
// never skip a state: Idle -> Resolving -> Connecting -> Deploying ->
// {Succeeded, Failed}.
type State string

const (
	StateIdle       State = "idle"
	StateResolving  State = "resolving"
	StateConnecting State = "connecting"
	StateDeploying  State = "deploying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// pipelineOrder maps each non-terminal state to its only legal
// successor besides the terminal states.
var pipelineOrder = map[State]State{
	StateIdle:       StateResolving,
	StateResolving:  StateConnecting,
	StateConnecting: StateDeploying,
}

// validTransition reports whether moving from one state to the next
// is legal. Terminal states are reachable from any pipeline state but
// never left.
func validTransition(from, to State) bool {
	if from == StateSucceeded || from == StateFailed {
		return false
	}
	if to == StateSucceeded || to == StateFailed {
		return true
	}
	return pipelineOrder[from] == to
}

// Status is the terminal outcome of an attempt. TimedOut is distinct
// from Failed so that callers can apply different alerting and retry
// policy upstream.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusRejected  Status = "rejected"
)

// StepResult captures one remote command's outcome. The output is
// combined stdout/stderr, already scrubbed of credential material.
type StepResult struct {
	Command  string
	ExitCode int
	Output   string
	Duration time.Duration
}

// OK checks if the step was successful
func (r *StepResult) OK() bool {
	return r.ExitCode == 0
}

// Attempt is one end-to-end deployment execution against one target.
// It is owned exclusively by the orchestrator for its lifetime; the
// step list is append-only.
type Attempt struct {
	Target      string
	Branch      string
	Spec        *target.DeploymentSpec
	StartedAt   time.Time
	CompletedAt time.Time
	Steps       []StepResult
	Status      Status
	Err         error

	state       State
	transitions []State
}

func newAttempt(targetName string) *Attempt {
	return &Attempt{
		Target:      targetName,
		StartedAt:   time.Now(),
		state:       StateIdle,
		transitions: []State{StateIdle},
	}
}

// advance moves the attempt to the next state, recording the
// transition. Illegal transitions are refused.
func (a *Attempt) advance(next State) bool {
	if !validTransition(a.state, next) {
		return false
	}
	a.state = next
	a.transitions = append(a.transitions, next)
	return true
}

// State returns the attempt's current state.
func (a *Attempt) State() State {
	return a.state
}

// Transitions returns the ordered list of states the attempt has
// passed through, starting with Idle.
func (a *Attempt) Transitions() []State {
	out := make([]State, len(a.transitions))
	copy(out, a.transitions)
	return out
}

// Duration returns the wall-clock time of the attempt.
func (a *Attempt) Duration() time.Duration {
	if a.CompletedAt.IsZero() {
		return time.Since(a.StartedAt)
	}
	return a.CompletedAt.Sub(a.StartedAt)
}
