// Command foundry is the CLI for the Foundry control plane: it drives
// headless coding-agent CLIs through an operator-defined task graph,
// persisting all progress to the State Store between invocations.
//
// Usage:
//
//	foundry enqueue tasks.json --goal "ship the thing" -c foundry.yaml
//	foundry run -c foundry.yaml
//	foundry dump-state -c foundry.yaml
//	foundry reset-sessions feature-auth -c foundry.yaml
package main

import (
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/foundry-run/foundry"
	"github.com/foundry-run/foundry/internal/logging"
	"github.com/foundry-run/foundry/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Enqueue       EnqueueCmd       `cmd:"" help:"Validate a task file and merge it into the project's dependency graph."`
	Run           RunCmd           `cmd:"" help:"Start the control loop for a project."`
	DumpState     DumpStateCmd     `cmd:"" name:"dump-state" help:"Print (or serve) the project's persisted state, queue, audit log, and metrics."`
	ResetSessions ResetSessionsCmd `cmd:"" name:"reset-sessions" help:"Evict one feature's session, or every active session."`

	Config    string           `short:"c" help:"Path to the project config file." type:"path" default:"foundry.yaml"`
	LogLevel  string           `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string           `help:"Log format (text or json)." default:"text"`
	Version   kong.VersionFlag `help:"Print the build version and exit."`
}

// cliLogger builds the root logger from the global --log-level/--log-format
// flags. Each subcommand calls this itself rather than receiving a
// logger via injection, so every entry point (including tests that
// construct a CLI directly) gets the same logger construction.
func cliLogger(cli *CLI) *slog.Logger {
	level, _ := logging.ParseLevel(cli.LogLevel)
	return logging.New(logging.Options{Level: level, Format: cli.LogFormat})
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("foundry"),
		kong.Description("Foundry drives headless coding-agent CLIs through an operator-defined task plan."),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("foundry %s", foundry.Version)},
	)

	slog.SetDefault(cliLogger(&cli))

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
