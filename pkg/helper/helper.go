// Package helper implements the Helper Agent (spec.md §4.11 step 1,
// scenario S5, boundary B4): a secondary provider invocation that
// proposes shell verification commands for uncertain criteria. Its
// responses are parsed and the proposed commands are executed
// deterministically, never trusted on their own.
package helper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/provider"
	"github.com/foundry-run/foundry/pkg/session"
)

// MaxPriorResponseChars bounds how much of the agent's prior response is
// embedded in the verification prompt (spec.md §4.11 step 1 "first 5000
// chars").
const MaxPriorResponseChars = 5000

// MaxCommands caps how many verification commands a single helper
// response may propose, a safety cap alongside the per-command exec
// timeout (spec.md §4.11 step 1, §5 suspension point (d)).
const MaxCommands = 10

// CommandTimeout bounds each verification command execution (spec.md
// §5 "5 minutes for verification commands").
const CommandTimeout = provider.DefaultVerificationTimeout

// Response is the helper agent's parsed output: a flat list of shell
// commands to run against the sandbox working directory.
type Response struct {
	Commands []string `json:"commands"`
}

// Outcome is the result of running a helper round.
type Outcome struct {
	Proposed []string
	Passed   []string
	Failed   []string
	AllPass  bool
}

// Agent dispatches helper-agent verification rounds.
type Agent struct {
	Dispatcher *provider.Dispatcher
	Sessions   *session.Registry
	Root       sandbox.Root
	RunCommand func(ctx context.Context, command, dir string) (exitCode int, output string, err error)
}

// New wires an Agent against the shared Dispatcher and Session Registry.
func New(d *provider.Dispatcher, sessions *session.Registry, root sandbox.Root, run func(ctx context.Context, command, dir string) (int, string, error)) *Agent {
	return &Agent{Dispatcher: d, Sessions: sessions, Root: root, RunCommand: run}
}

// BuildPrompt assembles the verification prompt (spec.md §4.11 step 1):
// the failed/uncertain criteria, the agent's prior response truncated
// to MaxPriorResponseChars, and the working directory.
func BuildPrompt(criteria []string, priorResponse, workingDirectory string) string {
	if len(priorResponse) > MaxPriorResponseChars {
		priorResponse = priorResponse[:MaxPriorResponseChars]
	}
	var b strings.Builder
	b.WriteString("The following acceptance criteria could not be confirmed deterministically:\n")
	for _, c := range criteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString("\nWorking directory: ")
	b.WriteString(workingDirectory)
	b.WriteString("\n\nPrior agent response (truncated):\n")
	b.WriteString(priorResponse)
	b.WriteString("\n\nPropose shell commands that would deterministically confirm or refute each criterion. ")
	b.WriteString("Respond with exactly one JSON object: {\"commands\": [\"...\"]}.")
	return b.String()
}

// Verify runs one helper round for featureID: dispatches the
// verification prompt to the helper:<feature_id> session, parses the
// response, and executes each proposed command under the sandbox root
// with the safety caps from spec.md §4.11 step 1 / §5.
func (a *Agent) Verify(ctx context.Context, featureID, workingDirectory string, criteria []string, priorResponse string) (Outcome, error) {
	helperFeature := session.HelperFeatureID(featureID)
	now := time.Now()

	call := provider.Call{
		Prompt:           BuildPrompt(criteria, priorResponse, workingDirectory),
		WorkingDirectory: workingDirectory,
		AgentMode:        "helper",
		FeatureID:        helperFeature,
	}
	if info, ok := a.Sessions.Resolve(helperFeature, now); ok {
		call.SessionID = info.SessionID
		call.TaskID = info.TaskID
	}

	result, err := a.Dispatcher.Dispatch(ctx, call, "")
	if err != nil {
		a.Sessions.RecordFailure(helperFeature, now)
		return Outcome{}, fmt.Errorf("helper dispatch: %w", err)
	}
	a.Sessions.RecordSuccess(helperFeature, result.Provider, result.SessionID, call.TaskID, result.Usage.TotalTokens, now)

	jsonBlock, ok := provider.ExtractJSON(result.RawOutput)
	if !ok {
		return Outcome{}, fmt.Errorf("helper response: no JSON object found")
	}
	var resp Response
	if err := json.Unmarshal([]byte(jsonBlock), &resp); err != nil {
		return Outcome{}, fmt.Errorf("helper response: %w", err)
	}
	if len(resp.Commands) > MaxCommands {
		resp.Commands = resp.Commands[:MaxCommands]
	}

	outcome := Outcome{Proposed: resp.Commands, AllPass: len(resp.Commands) > 0}
	for _, command := range resp.Commands {
		cmdCtx, cancel := context.WithTimeout(ctx, CommandTimeout)
		exitCode, _, runErr := a.RunCommand(cmdCtx, command, a.Root.Path())
		cancel()
		if runErr != nil || exitCode != 0 {
			outcome.Failed = append(outcome.Failed, command)
			outcome.AllPass = false
			continue
		}
		outcome.Passed = append(outcome.Passed, command)
	}
	return outcome, nil
}
