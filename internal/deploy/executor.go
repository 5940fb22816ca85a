package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitship/internal/target"
	"gitship/pkg/cmdutil"
)

// Session is the minimal surface the executor needs from an
// established connection.
type Session interface {
	RunScript(ctx context.Context, script string, output io.Writer) (int, error)
	Close() error
}

// stepMarker delimits per-step output in the remote stream. Chosen to
// be unlikely in real command output; a collision garbles step
// attribution but never the overall exit status.
const stepMarker = ":::gitship-step:::"

// Executor runs an ordered command sequence on a remote session as a
// single logical shell script, so working directory and environment
// state carry across steps exactly as in a chained shell invocation.
// Execution stops at the first non-zero exit code; later steps are
// never run. The executor itself never retries: whether a partially
// applied deploy is retried is the orchestrator's decision.
type Executor struct{}

// NewExecutor creates an executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes the spec's command sequence in the target's remote
// path, returning one StepResult per executed step. A step failure is
// reported as a *CommandError; transport failures and cancellation
// surface as-is together with the steps completed so far.
func (e *Executor) Run(ctx context.Context, session Session, spec *target.DeploymentSpec) ([]StepResult, error) {
	commands := spec.Commands
	if len(commands) == 0 {
		return nil, fmt.Errorf("no commands to execute")
	}

	script := renderScript(spec.Target.RemotePath, commands)
	parser := newScriptParser(commands)

	exitCode, runErr := session.RunScript(ctx, script, parser)

	steps := parser.finish(exitCode)
	scrubSteps(steps, spec.Credential.Secrets())

	if runErr != nil {
		return steps, runErr
	}

	if exitCode != 0 {
		if len(steps) == 0 {
			// The prologue (cd) failed before the first command ran.
			return steps, fmt.Errorf("remote prologue failed with exit code %d (cd %s): %s",
				exitCode, spec.Target.RemotePath, strings.TrimSpace(parser.prologue()))
		}
		last := len(steps) - 1
		return steps, &CommandError{StepIndex: last, Result: steps[last]}
	}

	return steps, nil
}

// renderScript builds the remote shell script: cd into the working
// tree, then run each command bracketed by step markers, exiting at
// the first non-zero return code.
func renderScript(remotePath string, commands []string) string {
	var b strings.Builder

	b.WriteString("set -u\n")
	fmt.Fprintf(&b, "cd %s || exit $?\n", cmdutil.QuoteArg(remotePath))

	for i, cmd := range commands {
		fmt.Fprintf(&b, "echo '%s begin %d'\n", stepMarker, i)
		b.WriteString(cmd)
		b.WriteString("\n")
		b.WriteString("__gitship_rc=$?\n")
		fmt.Fprintf(&b, "echo \"%s end %d ${__gitship_rc}\"\n", stepMarker, i)
		b.WriteString("[ \"${__gitship_rc}\" -eq 0 ] || exit \"${__gitship_rc}\"\n")
	}

	b.WriteString("exit 0\n")
	return b.String()
}

// scrubSteps removes credential material from captured output before
// it reaches logs or history.
func scrubSteps(steps []StepResult, secrets []string) {
	if len(secrets) == 0 {
		return
	}
	for i := range steps {
		steps[i].Output = string(cmdutil.SanitizeOutput([]byte(steps[i].Output), secrets))
	}
}

// scriptParser is an io.Writer that splits the remote combined
// output stream into per-step results using the marker lines the
// rendered script emits. Durations are measured client-side between
// marker arrivals.
type scriptParser struct {
	commands []string

	mu       sync.Mutex
	buf      bytes.Buffer // partial line assembly
	pre      strings.Builder
	steps    []StepResult
	open     bool
	started  time.Time
	finished bool
}

func newScriptParser(commands []string) *scriptParser {
	return &scriptParser{commands: commands}
}

func (p *scriptParser) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for {
		line, ok := p.nextLine()
		if !ok {
			break
		}
		p.consumeLine(line)
	}
	return len(data), nil
}

// nextLine pops one complete line (without the newline) from the
// buffer.
func (p *scriptParser) nextLine() (string, bool) {
	raw := p.buf.Bytes()
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(raw[:idx])
	p.buf.Next(idx + 1)
	return strings.TrimSuffix(line, "\r"), true
}

func (p *scriptParser) consumeLine(line string) {
	if strings.HasPrefix(line, stepMarker+" ") {
		fields := strings.Fields(strings.TrimPrefix(line, stepMarker+" "))
		switch {
		case len(fields) == 2 && fields[0] == "begin":
			if idx, err := strconv.Atoi(fields[1]); err == nil {
				p.beginStep(idx)
				return
			}
		case len(fields) == 3 && fields[0] == "end":
			idx, idxErr := strconv.Atoi(fields[1])
			rc, rcErr := strconv.Atoi(fields[2])
			if idxErr == nil && rcErr == nil {
				p.endStep(idx, rc)
				return
			}
		}
		// Malformed marker, treat as ordinary output.
	}

	if p.open {
		last := &p.steps[len(p.steps)-1]
		last.Output += line + "\n"
		return
	}
	p.pre.WriteString(line + "\n")
}

func (p *scriptParser) beginStep(idx int) {
	command := ""
	if idx >= 0 && idx < len(p.commands) {
		command = p.commands[idx]
	}
	p.steps = append(p.steps, StepResult{Command: command})
	p.open = true
	p.started = time.Now()
}

func (p *scriptParser) endStep(idx, rc int) {
	if !p.open {
		return
	}
	last := &p.steps[len(p.steps)-1]
	last.ExitCode = rc
	last.Duration = time.Since(p.started)
	p.open = false
}

// finish flushes any trailing partial line and closes a step left
// open by a transport failure or cancellation, attributing the
// overall exit code to it. Returns the collected steps.
func (p *scriptParser) finish(exitCode int) []StepResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return p.steps
	}
	p.finished = true

	if p.buf.Len() > 0 {
		p.consumeLine(p.buf.String())
		p.buf.Reset()
	}

	if p.open {
		last := &p.steps[len(p.steps)-1]
		last.ExitCode = exitCode
		last.Duration = time.Since(p.started)
		p.open = false
	}

	return p.steps
}

// prologue returns output seen before the first step marker, which is
// where a cd failure lands.
func (p *scriptParser) prologue() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pre.String()
}
