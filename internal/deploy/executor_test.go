package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"gitship/internal/target"
)

// fakeSession plays back a canned combined output stream and exit
// code, simulating the remote side of a deployment.
type fakeSession struct {
	output   string
	exitCode int
	err      error
	delay    time.Duration

	script string
	closed bool
}

func (s *fakeSession) RunScript(ctx context.Context, script string, output io.Writer) (int, error) {
	s.script = script
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	io.WriteString(output, s.output)
	return s.exitCode, s.err
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func testSpec(commands ...string) *target.DeploymentSpec {
	return &target.DeploymentSpec{
		Target: &target.Target{
			Name:          "box",
			Host:          "example.com",
			Port:          22,
			Username:      "deploy",
			Branch:        "main",
			RemotePath:    "/srv/app",
			DeployTimeout: time.Minute,
		},
		Credential: target.NewCredential(nil, nil),
		Commands:   commands,
		ResolvedAt: time.Now(),
	}
}

// markerStream renders the output a well-behaved remote shell would
// produce for the given steps.
func markerStream(steps ...struct {
	index  int
	output string
	rc     int
}) string {
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "%s begin %d\n", stepMarker, s.index)
		if s.output != "" {
			b.WriteString(s.output)
		}
		fmt.Fprintf(&b, "%s end %d %d\n", stepMarker, s.index, s.rc)
	}
	return b.String()
}

type fakeStep = struct {
	index  int
	output string
	rc     int
}

func TestExecutor_RunSuccess(t *testing.T) {
	spec := testSpec("git fetch origin main", "git reset --hard origin/main")
	session := &fakeSession{
		output: markerStream(
			fakeStep{0, "remote: Enumerating objects\n", 0},
			fakeStep{1, "HEAD is now at abc1234\n", 0},
		),
		exitCode: 0,
	}

	steps, err := NewExecutor().Run(context.Background(), session, spec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Command != "git fetch origin main" {
		t.Errorf("unexpected step 0 command: %q", steps[0].Command)
	}
	if !steps[0].OK() || !steps[1].OK() {
		t.Errorf("expected both steps OK: %+v", steps)
	}
	if steps[1].Output != "HEAD is now at abc1234\n" {
		t.Errorf("unexpected step 1 output: %q", steps[1].Output)
	}
}

func TestExecutor_ScriptShape(t *testing.T) {
	spec := testSpec("git fetch origin main")
	session := &fakeSession{
		output:   markerStream(fakeStep{0, "", 0}),
		exitCode: 0,
	}

	if _, err := NewExecutor().Run(context.Background(), session, spec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// One script for the whole sequence: cd first, fail fast on a
	// non-zero step, markers around each command.
	if !strings.Contains(session.script, "cd /srv/app || exit $?") {
		t.Errorf("script missing cd prologue:\n%s", session.script)
	}
	if !strings.Contains(session.script, "git fetch origin main") {
		t.Errorf("script missing command:\n%s", session.script)
	}
	if !strings.Contains(session.script, stepMarker+" begin 0") {
		t.Errorf("script missing begin marker:\n%s", session.script)
	}
	if !strings.Contains(session.script, "|| exit \"${__gitship_rc}\"") {
		t.Errorf("script missing fail-fast guard:\n%s", session.script)
	}
}

func TestExecutor_StopsAtFirstFailure(t *testing.T) {
	spec := testSpec(
		"git fetch origin main",
		"git reset --hard origin/main",
		"systemctl restart app",
	)
	// The remote shell exits after step 1 fails; step 2 never emits
	// markers.
	session := &fakeSession{
		output: markerStream(
			fakeStep{0, "ok\n", 0},
			fakeStep{1, "fatal: could not reset\n", 128},
		),
		exitCode: 128,
	}

	steps, err := NewExecutor().Run(context.Background(), session, spec)
	if err == nil {
		t.Fatal("expected command error")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.StepIndex != 1 {
		t.Errorf("expected failure at step 1, got %d", cmdErr.StepIndex)
	}
	if cmdErr.Result.ExitCode != 128 {
		t.Errorf("expected exit code 128, got %d", cmdErr.Result.ExitCode)
	}

	if len(steps) != 2 {
		t.Fatalf("expected exactly 2 step results, got %d", len(steps))
	}
	if steps[1].Output != "fatal: could not reset\n" {
		t.Errorf("unexpected failing step output: %q", steps[1].Output)
	}
}

func TestExecutor_PrologueFailure(t *testing.T) {
	spec := testSpec("git fetch origin main")
	// cd fails before the first marker is emitted.
	session := &fakeSession{
		output:   "sh: cd: /srv/app: No such file or directory\n",
		exitCode: 2,
	}

	steps, err := NewExecutor().Run(context.Background(), session, spec)
	if err == nil {
		t.Fatal("expected prologue error")
	}
	if len(steps) != 0 {
		t.Errorf("expected no step results, got %d", len(steps))
	}
	if !strings.Contains(err.Error(), "/srv/app") {
		t.Errorf("error does not name the remote path: %v", err)
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("error does not carry the remote output: %v", err)
	}
}

func TestExecutor_TransportFailureMidStep(t *testing.T) {
	spec := testSpec("git fetch origin main")
	transportErr := errors.New("connection lost")
	session := &fakeSession{
		output:   stepMarker + " begin 0\npartial output\n",
		exitCode: -1,
		err:      transportErr,
	}

	steps, err := NewExecutor().Run(context.Background(), session, spec)
	if !errors.Is(err, transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}

	// The interrupted step is still reported with what was captured.
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Output != "partial output\n" {
		t.Errorf("unexpected partial output: %q", steps[0].Output)
	}
	if steps[0].ExitCode != -1 {
		t.Errorf("expected exit code -1 for interrupted step, got %d", steps[0].ExitCode)
	}
}

func TestExecutor_ScrubsCredentialMaterial(t *testing.T) {
	spec := testSpec("cat config")
	spec.Credential = target.NewCredential([]byte("hunter2-key-material"), nil)
	session := &fakeSession{
		output: markerStream(
			fakeStep{0, "key=hunter2-key-material\n", 0},
		),
		exitCode: 0,
	}

	steps, err := NewExecutor().Run(context.Background(), session, spec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if strings.Contains(steps[0].Output, "hunter2-key-material") {
		t.Errorf("credential material leaked into step output: %q", steps[0].Output)
	}
	if !strings.Contains(steps[0].Output, "***REDACTED***") {
		t.Errorf("expected redaction placeholder in output: %q", steps[0].Output)
	}
}

func TestExecutor_NoCommands(t *testing.T) {
	spec := testSpec()
	session := &fakeSession{}

	if _, err := NewExecutor().Run(context.Background(), session, spec); err == nil {
		t.Fatal("expected error for empty command sequence")
	}
}

func TestScriptParser_SplitWrites(t *testing.T) {
	// Marker lines arriving across multiple Write calls must still be
	// recognized.
	parser := newScriptParser([]string{"echo hi"})

	stream := markerStream(fakeStep{0, "hi\n", 0})
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		parser.Write([]byte(stream[i:end]))
	}

	steps := parser.finish(0)
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Output != "hi\n" {
		t.Errorf("unexpected output: %q", steps[0].Output)
	}
	if steps[0].ExitCode != 0 {
		t.Errorf("unexpected exit code: %d", steps[0].ExitCode)
	}
}

func TestScriptParser_MalformedMarkerIsOutput(t *testing.T) {
	parser := newScriptParser([]string{"echo hi"})
	parser.Write([]byte(stepMarker + " begin 0\n"))
	parser.Write([]byte(stepMarker + " begin notanumber\n"))
	parser.Write([]byte(stepMarker + " end 0 0\n"))

	steps := parser.finish(0)
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if !strings.Contains(steps[0].Output, "notanumber") {
		t.Errorf("malformed marker should be treated as output: %q", steps[0].Output)
	}
}
