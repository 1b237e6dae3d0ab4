package provider

import "fmt"

// KnownBuilders are BuildArgs implementations for the provider CLIs
// named in spec.md §4.7's suggested context-limit table. Each mirrors
// that provider's actual non-interactive flag conventions; Foundry
// treats the exact flags as configuration (PROVIDER_PRIORITY, spec.md
// §6) rather than hardcoding one vendor's CLI.
var KnownBuilders = map[string]func(prompt, agentMode, resumeSessionID string) []string{
	"claude": func(prompt, agentMode, resume string) []string {
		args := []string{"-p", prompt, "--output-format", "json"}
		if agentMode != "" {
			args = append(args, "--permission-mode", agentMode)
		}
		if resume != "" {
			args = append(args, "--resume", resume)
		}
		return args
	},
	"codex": func(prompt, agentMode, resume string) []string {
		args := []string{"exec", "--json", prompt}
		if resume != "" {
			args = append(args, "--session", resume)
		}
		return args
	},
	"gemini": func(prompt, agentMode, resume string) []string {
		args := []string{"-p", prompt, "--json"}
		if resume != "" {
			args = append(args, "--resume", resume)
		}
		return args
	},
	"cursor": func(prompt, agentMode, resume string) []string {
		args := []string{"agent", "run", "--prompt", prompt, "--format", "json"}
		if resume != "" {
			args = append(args, "--session", resume)
		}
		return args
	},
	"copilot": func(prompt, agentMode, resume string) []string {
		args := []string{"suggest", "--prompt", prompt, "--json"}
		if resume != "" {
			args = append(args, "--thread", resume)
		}
		return args
	},
}

// BuildPriorityList constructs the ordered CLI list from
// PROVIDER_PRIORITY names (spec.md §6), resolving each to its command
// path and BuildArgs function.
func BuildPriorityList(names []string, commandPaths map[string]string) ([]CLI, error) {
	out := make([]CLI, 0, len(names))
	for _, name := range names {
		builder, ok := KnownBuilders[name]
		if !ok {
			return nil, fmt.Errorf("provider: unknown provider %q", name)
		}
		cmd := commandPaths[name]
		if cmd == "" {
			cmd = name
		}
		out = append(out, CLI{Name: name, Command: cmd, BuildArgs: builder, Timeout: DefaultDispatchTimeout})
	}
	return out, nil
}
