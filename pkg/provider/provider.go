// Package provider implements the Provider Dispatcher (spec.md §4.5,
// §6 "Provider CLI contract"): it invokes provider CLIs as blocking
// child processes via exec.CommandContext, parses their structured
// output, extracts session IDs and token usage, and iterates a
// priority list on failure — grounded on the teacher's commandtool
// subprocess-invocation pattern (stdout/stderr pipes, exit-code
// capture, timeout-bounded exec.CommandContext).
package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/foundry-run/foundry/pkg/breaker"
)

// Usage is the token accounting parsed from a provider's structured
// output (spec.md §4.5, §6).
type Usage struct {
	InputTokens  int
	CachedTokens int
	TotalTokens  int
}

// Result is the Dispatcher's per-call result (spec.md §4.5 step 4).
type Result struct {
	Provider  string
	Stdout    string
	Stderr    string
	ExitCode  int
	RawOutput string
	SessionID string
	Usage     Usage
	Err       error
}

// CLI describes one provider's invocation contract (spec.md §6
// "Provider CLI contract"): command template, resume flag, and the
// function that extracts session id / usage from its structured
// output.
type CLI struct {
	Name    string
	Command string   // executable
	Args    []string // base args, before prompt/mode/resume flags
	// BuildArgs returns the full argv given the call's prompt, agent
	// mode, and resume session id (empty when starting a new session).
	BuildArgs func(prompt, agentMode, resumeSessionID string) []string
	Timeout   time.Duration
}

// DefaultDispatchTimeout and DefaultVerificationTimeout are the
// suggested ceilings from spec.md §5.
const (
	DefaultDispatchTimeout      = 30 * time.Minute
	DefaultVerificationTimeout = 5 * time.Minute
)

// OutputParser extracts session id, usage, and a circuit-tripping
// signal from raw provider output (spec.md §4.5 step 2-3, §6). It is
// pluggable because output shapes vary per provider, but all providers
// ultimately emit the agent output contract JSON (spec.md §4.6) plus
// usage metadata in the same structured payload.
type OutputParser func(raw string) (sessionID string, usage Usage, tripReason breaker.TripReason, tripped bool)

// Dispatcher holds the ordered provider priority list and the shared
// Breaker (spec.md §4.4, §4.5).
type Dispatcher struct {
	priority []CLI
	parser   OutputParser
	breaker  *breaker.Breaker
	runner   func(ctx context.Context, cli CLI, args []string) (stdout, stderr string, exitCode int, err error)
}

// New builds a Dispatcher. runner defaults to a real exec.CommandContext
// invocation; tests may override it with a fake.
func New(priority []CLI, parser OutputParser, b *breaker.Breaker) *Dispatcher {
	return &Dispatcher{
		priority: priority,
		parser:   parser,
		breaker:  b,
		runner:   runExec,
	}
}

// WithRunner overrides the subprocess runner (for tests).
func (d *Dispatcher) WithRunner(r func(ctx context.Context, cli CLI, args []string) (string, string, int, error)) *Dispatcher {
	d.runner = r
	return d
}

func runExec(ctx context.Context, cli CLI, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, cli.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && cmd.ProcessState == nil {
		// Failed to even start (binary missing, etc.)
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// Call is one dispatch request (spec.md §4.5).
type Call struct {
	Prompt           string
	WorkingDirectory string
	AgentMode        string
	SessionID        string // resume hint; empty starts a new session
	FeatureID        string
	TaskID           string
}

// Dispatch runs Call.Prompt against the first provider with a CLOSED
// breaker, falling over to the next on a circuit-tripping signal
// (spec.md §4.5 algorithm). preContext, if non-empty, is prepended to
// the prompt on every fallover attempt after the first (spec.md §4.11
// "Pre-context injection").
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, preContext string) (Result, error) {
	now := time.Now()
	attempted := false
	var lastErr error

	for i, cli := range d.priority {
		if !d.breaker.Allows(cli.Name, now) {
			continue
		}
		attempted = true

		prompt := call.Prompt
		if i > 0 && preContext != "" {
			prompt = preContext + "\n\n" + prompt
		}

		timeout := cli.Timeout
		if timeout == 0 {
			timeout = DefaultDispatchTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		args := cli.BuildArgs(prompt, call.AgentMode, call.SessionID)
		stdout, stderr, exitCode, err := d.runner(callCtx, cli, args)
		cancel()

		if err != nil {
			d.breaker.Trip(cli.Name, now, breaker.ReasonExecFailure)
			lastErr = err
			continue
		}

		sessionID, usage, tripReason, tripped := d.parser(stdout)
		result := Result{
			Provider:  cli.Name,
			Stdout:    stdout,
			Stderr:    stderr,
			ExitCode:  exitCode,
			RawOutput: stdout,
			SessionID: sessionID,
			Usage:     usage,
		}

		if tripped {
			d.breaker.Trip(cli.Name, now, tripReason)
			lastErr = fmt.Errorf("provider %s tripped the breaker (%s)", cli.Name, tripReason)
			continue
		}

		if exitCode != 0 {
			d.breaker.Trip(cli.Name, now, breaker.ReasonExecFailure)
			lastErr = fmt.Errorf("provider %s exited %d: %s", cli.Name, exitCode, stderr)
			continue
		}

		d.breaker.Succeed(cli.Name)
		return result, nil
	}

	if !attempted {
		return Result{}, errAllBreakersOpen
	}
	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: %v", errAllProvidersFailed, lastErr)
	}
	return Result{}, errAllProvidersFailed
}
