package deploy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gitship/internal/target"
)

// Resolver yields a fully populated deployment spec for a named
// target, or a *target.ConfigError.
type Resolver interface {
	Resolve(name string) (*target.DeploymentSpec, error)
}

// Connector establishes a verified session to the spec's target.
type Connector interface {
	Connect(ctx context.Context, spec *target.DeploymentSpec) (Session, error)
}

// Reporter consumes terminal attempts. Implementations must never
// fail the deployment: sink errors are theirs to swallow.
type Reporter interface {
	Report(ctx context.Context, attempt *Attempt)
}

// Orchestrator sequences resolver -> connection -> executor for one
// target, enforcing the per-target mutual exclusion lock and the
// per-attempt wall-clock budget. Connection retry policy lives in the
// connector; the orchestrator never re-runs remote commands.
type Orchestrator struct {
	Resolver  Resolver
	Connector Connector
	Executor  *Executor
	Locks     *LockManager
	Reporter  Reporter
	Logger    *slog.Logger
}

// NewOrchestrator wires an orchestrator with a fresh lock registry.
func NewOrchestrator(resolver Resolver, connector Connector, reporter Reporter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Resolver:  resolver,
		Connector: connector,
		Executor:  NewExecutor(),
		Locks:     NewLockManager(),
		Reporter:  reporter,
		Logger:    logger,
	}
}

// Deploy runs one end-to-end attempt against the named target.
//
// Resolution failures return a nil attempt and a *target.ConfigError
// before any network activity. A second request for a target with an
// attempt in flight returns ErrAlreadyInProgress. Otherwise the
// terminal attempt is returned; its Status distinguishes Succeeded,
// Failed and TimedOut.
func (o *Orchestrator) Deploy(ctx context.Context, targetName string) (*Attempt, error) {
	attempt := newAttempt(targetName)
	attempt.advance(StateResolving)

	spec, err := o.Resolver.Resolve(targetName)
	if err != nil {
		return nil, err
	}

	// The lock is held from before Connecting until the terminal
	// state; concurrent requests are rejected, never queued.
	if !o.Locks.TryLock(targetName) {
		return nil, ErrAlreadyInProgress
	}
	defer o.Locks.Unlock(targetName)

	return o.run(ctx, attempt, spec), nil
}

// DeployResolved runs an attempt for a caller that already resolved
// the spec and holds the target lock (the webhook server acquires the
// lock before acknowledging the hook).
func (o *Orchestrator) DeployResolved(ctx context.Context, spec *target.DeploymentSpec) *Attempt {
	attempt := newAttempt(spec.Target.Name)
	attempt.advance(StateResolving)
	return o.run(ctx, attempt, spec)
}

func (o *Orchestrator) run(ctx context.Context, attempt *Attempt, spec *target.DeploymentSpec) *Attempt {
	attempt.Spec = spec
	attempt.Branch = spec.Target.Branch

	// Per-attempt wall-clock budget. Expiry cancels the attempt,
	// force-closes the session and yields TimedOut.
	ctx, cancel := context.WithTimeout(ctx, spec.Target.DeployTimeout)
	defer cancel()

	attempt.advance(StateConnecting)
	o.Logger.Info("connecting", "target", attempt.Target, "addr", spec.Target.Addr())

	session, err := o.Connector.Connect(ctx, spec)
	if err != nil {
		return o.finish(attempt, statusForError(ctx, err), err)
	}
	defer session.Close()

	attempt.advance(StateDeploying)
	o.Logger.Info("deploying", "target", attempt.Target, "branch", attempt.Branch, "steps", len(spec.Commands))

	steps, err := o.Executor.Run(ctx, session, spec)
	attempt.Steps = steps
	if err != nil {
		return o.finish(attempt, statusForError(ctx, err), err)
	}

	return o.finish(attempt, StatusSucceeded, nil)
}

// finish moves the attempt to its terminal state and hands it to the
// reporter. Reporting uses a fresh context: the attempt's own context
// may already be expired.
func (o *Orchestrator) finish(attempt *Attempt, status Status, err error) *Attempt {
	attempt.CompletedAt = time.Now()
	attempt.Status = status
	attempt.Err = err

	if status == StatusSucceeded {
		attempt.advance(StateSucceeded)
		o.Logger.Info("deployment succeeded",
			"target", attempt.Target,
			"branch", attempt.Branch,
			"duration_ms", attempt.Duration().Milliseconds(),
			"steps", len(attempt.Steps))
	} else {
		attempt.advance(StateFailed)
		o.Logger.Error("deployment did not succeed",
			"target", attempt.Target,
			"branch", attempt.Branch,
			"status", string(status),
			"duration_ms", attempt.Duration().Milliseconds(),
			"error", err)
	}

	if o.Reporter != nil {
		o.Reporter.Report(context.Background(), attempt)
	}

	return attempt
}

// statusForError distinguishes a cancelled attempt that exhausted its
// wall-clock budget from an ordinary failure.
func statusForError(ctx context.Context, err error) Status {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusTimedOut
	}
	return StatusFailed
}
