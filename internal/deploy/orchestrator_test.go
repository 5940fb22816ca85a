package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gitship/internal/target"
)

type fakeResolver struct {
	spec *target.DeploymentSpec
	err  error
}

func (r *fakeResolver) Resolve(name string) (*target.DeploymentSpec, error) {
	return r.spec, r.err
}

type fakeConnector struct {
	session *fakeSession
	err     error
	calls   int
}

func (c *fakeConnector) Connect(ctx context.Context, spec *target.DeploymentSpec) (Session, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

type fakeReporter struct {
	attempts []*Attempt
}

func (r *fakeReporter) Report(ctx context.Context, attempt *Attempt) {
	r.attempts = append(r.attempts, attempt)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(resolver Resolver, connector Connector, reporter *fakeReporter) *Orchestrator {
	return NewOrchestrator(resolver, connector, reporter, discardLogger())
}

func TestOrchestrator_DeploySuccess(t *testing.T) {
	spec := testSpec("git fetch origin main", "git reset --hard origin/main")
	session := &fakeSession{
		output: markerStream(
			fakeStep{0, "fetched\n", 0},
			fakeStep{1, "reset\n", 0},
		),
	}
	reporter := &fakeReporter{}
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{session: session}, reporter)

	attempt, err := orch.Deploy(context.Background(), "box")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	if attempt.Status != StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", attempt.Status)
	}
	if attempt.State() != StateSucceeded {
		t.Errorf("expected terminal state succeeded, got %s", attempt.State())
	}
	if len(attempt.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(attempt.Steps))
	}
	if attempt.Branch != "main" {
		t.Errorf("expected branch main, got %s", attempt.Branch)
	}
	if !session.closed {
		t.Error("expected session to be closed")
	}

	want := []State{StateIdle, StateResolving, StateConnecting, StateDeploying, StateSucceeded}
	got := attempt.Transitions()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if len(reporter.attempts) != 1 {
		t.Fatalf("expected 1 reported attempt, got %d", len(reporter.attempts))
	}
}

func TestOrchestrator_ResolutionFailure(t *testing.T) {
	configErr := &target.ConfigError{Target: "box", Problems: []string{"  - missing host"}}
	connector := &fakeConnector{}
	orch := newTestOrchestrator(&fakeResolver{err: configErr}, connector, &fakeReporter{})

	attempt, err := orch.Deploy(context.Background(), "box")
	if attempt != nil {
		t.Error("expected nil attempt on resolution failure")
	}

	var got *target.ConfigError
	if !errors.As(err, &got) {
		t.Fatalf("expected *target.ConfigError, got %T", err)
	}
	// No network activity on a config error.
	if connector.calls != 0 {
		t.Errorf("expected no connection attempts, got %d", connector.calls)
	}
}

func TestOrchestrator_AlreadyInProgress(t *testing.T) {
	spec := testSpec("git fetch origin main")
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{session: &fakeSession{}}, &fakeReporter{})

	if !orch.Locks.TryLock("box") {
		t.Fatal("failed to pre-acquire lock")
	}
	defer orch.Locks.Unlock("box")

	_, err := orch.Deploy(context.Background(), "box")
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
}

func TestOrchestrator_LockReleasedAfterAttempt(t *testing.T) {
	spec := testSpec("git fetch origin main")
	session := &fakeSession{output: markerStream(fakeStep{0, "", 0})}
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{session: session}, &fakeReporter{})

	if _, err := orch.Deploy(context.Background(), "box"); err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}

	// Fresh session: the fake remembers state across runs.
	if !orch.Locks.TryLock("box") {
		t.Error("expected lock to be released after the attempt finished")
	}
	orch.Locks.Unlock("box")
}

func TestOrchestrator_ConnectFailure(t *testing.T) {
	spec := testSpec("git fetch origin main")
	connErr := errors.New("dial tcp: connection refused")
	reporter := &fakeReporter{}
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{err: connErr}, reporter)

	attempt, err := orch.Deploy(context.Background(), "box")
	if err != nil {
		t.Fatalf("Deploy returned error, want terminal attempt: %v", err)
	}

	if attempt.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", attempt.Status)
	}
	if !errors.Is(attempt.Err, connErr) {
		t.Errorf("expected connection error on attempt, got %v", attempt.Err)
	}
	if attempt.State() != StateFailed {
		t.Errorf("expected terminal state failed, got %s", attempt.State())
	}
	if len(reporter.attempts) != 1 {
		t.Errorf("failed attempts must be reported too, got %d", len(reporter.attempts))
	}
}

func TestOrchestrator_StepFailure(t *testing.T) {
	spec := testSpec("git fetch origin main", "git reset --hard origin/main", "systemctl restart app")
	session := &fakeSession{
		output: markerStream(
			fakeStep{0, "", 0},
			fakeStep{1, "fatal\n", 1},
		),
		exitCode: 1,
	}
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{session: session}, &fakeReporter{})

	attempt, err := orch.Deploy(context.Background(), "box")
	if err != nil {
		t.Fatalf("Deploy returned error, want terminal attempt: %v", err)
	}

	if attempt.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", attempt.Status)
	}
	var cmdErr *CommandError
	if !errors.As(attempt.Err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", attempt.Err)
	}
	// The third command must never have produced a result.
	if len(attempt.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(attempt.Steps))
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	spec := testSpec("sleep 60")
	spec.Target.DeployTimeout = 50 * time.Millisecond
	session := &fakeSession{delay: 5 * time.Second}
	reporter := &fakeReporter{}
	orch := newTestOrchestrator(&fakeResolver{spec: spec}, &fakeConnector{session: session}, reporter)

	attempt, err := orch.Deploy(context.Background(), "box")
	if err != nil {
		t.Fatalf("Deploy returned error, want terminal attempt: %v", err)
	}

	if attempt.Status != StatusTimedOut {
		t.Errorf("expected status timed_out, got %s", attempt.Status)
	}
	if !session.closed {
		t.Error("expected session to be force-closed on timeout")
	}
	if len(reporter.attempts) != 1 {
		t.Errorf("timed out attempts must be reported, got %d", len(reporter.attempts))
	}
}

func TestOrchestrator_DeployResolved(t *testing.T) {
	spec := testSpec("git fetch origin main")
	session := &fakeSession{output: markerStream(fakeStep{0, "", 0})}
	orch := newTestOrchestrator(&fakeResolver{}, &fakeConnector{session: session}, &fakeReporter{})

	attempt := orch.DeployResolved(context.Background(), spec)
	if attempt.Status != StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", attempt.Status)
	}
	if attempt.Target != "box" {
		t.Errorf("expected target box, got %s", attempt.Target)
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateResolving, true},
		{StateResolving, StateConnecting, true},
		{StateConnecting, StateDeploying, true},
		{StateDeploying, StateSucceeded, true},
		{StateConnecting, StateFailed, true},
		{StateIdle, StateConnecting, false},
		{StateResolving, StateDeploying, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateResolving, false},
	}

	for _, tc := range cases {
		if got := validTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("validTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
