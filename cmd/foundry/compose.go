package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/foundry-run/foundry/internal/observability"
	"github.com/foundry-run/foundry/internal/sandbox"
	"github.com/foundry-run/foundry/pkg/audit"
	"github.com/foundry-run/foundry/pkg/breaker"
	"github.com/foundry-run/foundry/pkg/cache"
	"github.com/foundry-run/foundry/pkg/config"
	"github.com/foundry-run/foundry/pkg/control"
	"github.com/foundry-run/foundry/pkg/halt"
	"github.com/foundry-run/foundry/pkg/helper"
	"github.com/foundry-run/foundry/pkg/metrics"
	"github.com/foundry-run/foundry/pkg/prompt"
	"github.com/foundry-run/foundry/pkg/provider"
	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/retry"
	"github.com/foundry-run/foundry/pkg/session"
	"github.com/foundry-run/foundry/pkg/store"
	"github.com/foundry-run/foundry/pkg/validator"
	"github.com/foundry-run/foundry/pkg/validator/ast"
)

// loadProjectConfig reads, defaults, and validates the project config
// at path, closing the underlying provider once loaded; cmd/foundry
// does not watch config files for changes between invocations.
func loadProjectConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("foundry: load config: %w", err)
	}
	_ = loader.Close()
	return cfg, nil
}

// openStore builds the State Store backend named by cfg.Store.
func openStore(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "file", "":
		return store.NewFileBackend(cfg.Store.Root)
	case "sql":
		return store.OpenSQLBackend(cfg.Store.Driver, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("foundry: store backend %q is not wired into this CLI", cfg.Store.Backend)
	}
}

// buildDispatcher assembles the Provider Dispatcher's priority list
// from cfg.Providers, resolving each provider's flag convention from
// provider.KnownBuilders rather than inventing a new one per project.
func buildDispatcher(cfg *config.Config) (*provider.Dispatcher, error) {
	priority := make([]provider.CLI, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		builder, ok := provider.KnownBuilders[p.Name]
		if !ok {
			return nil, fmt.Errorf("foundry: provider %q has no known argument convention; supported: claude, codex, gemini, cursor, copilot", p.Name)
		}
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = provider.DefaultDispatchTimeout
		}
		priority = append(priority, provider.CLI{
			Name:      p.Name,
			Command:   p.Command,
			BuildArgs: builder,
			Timeout:   timeout,
		})
	}
	return provider.New(priority, provider.DefaultParser, breaker.New()), nil
}

// runShellCommand executes command through a shell in dir, bounded by
// timeout when positive, mirroring the coding validator's own test/lint
// invocation convention.
func runShellCommand(timeout time.Duration) func(ctx context.Context, command, dir string) (int, string, error) {
	return func(ctx context.Context, command, dir string) (int, string, error) {
		cmdCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			cmdCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		exitCode := 0
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return exitCode, string(out), err
	}
}

// components bundles the collaborators shared across subcommands,
// built once per invocation from a loaded config.
type components struct {
	cfg      *config.Config
	store    store.Backend
	root     sandbox.Root
	goalRoot sandbox.Root
	obs      *observability.Manager
	audit    *audit.Log
	metrics  *metrics.Sink
	logger   *slog.Logger
}

// compose opens the State Store, sandbox roots, observability manager,
// audit log, and metrics sink for projectID. Every subcommand needs
// this subset; only RunCmd goes on to assemble a full control.Loop.
func compose(ctx context.Context, cfg *config.Config, projectID string, logger *slog.Logger) (*components, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	root, err := sandbox.New(cfg.SandboxRoot, projectID)
	if err != nil {
		return nil, fmt.Errorf("foundry: sandbox root: %w", err)
	}
	goalRoot, err := sandbox.New(cfg.SandboxRoot, "")
	if err != nil {
		return nil, fmt.Errorf("foundry: goal sandbox root: %w", err)
	}
	obs, err := observability.NewManager(ctx, &cfg.Obs)
	if err != nil {
		return nil, fmt.Errorf("foundry: observability: %w", err)
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("foundry: audit log: %w", err)
	}
	metricsSink, err := metrics.OpenSink(cfg.Metrics.Path)
	if err != nil {
		return nil, fmt.Errorf("foundry: metrics sink: %w", err)
	}
	return &components{
		cfg: cfg, store: st, root: root, goalRoot: goalRoot,
		obs: obs, audit: auditLog, metrics: metricsSink, logger: logger,
	}, nil
}

// buildLoop assembles a full Control Loop over q. The Helper Agent, if
// enabled, gets its own long-lived Session Registry distinct from the
// one the Loop rebuilds from SupervisorState every iteration: helper
// verification sessions never need to survive a supervisor restart, so
// there is nothing to persist for them, unlike the task-dispatch
// sessions tracked in ActiveSessions.
func buildLoop(c *components, q *queue.Queue) (*control.Loop, error) {
	cfg := c.cfg

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	policy := session.DefaultPolicy()

	tokenEstimator, err := session.NewEstimator()
	if err != nil {
		return nil, fmt.Errorf("foundry: token estimator: %w", err)
	}

	var helperAgent *helper.Agent
	if cfg.Helper.Enabled {
		helperSessions := session.NewRegistry(nil, policy)
		helperAgent = helper.New(dispatcher, helperSessions, c.root, runShellCommand(cfg.Helper.CommandTimeout))
	}

	promptBuilder := prompt.NewBuilder(cfg.Name, c.root.Path())
	codingValidator := validator.NewCodingValidator(c.root, cfg.Name, cache.New(), ast.DefaultRegistry(), validator.RuleSet{})
	v := &validator.Validator{Coding: codingValidator}

	retryOrchestrator := retry.New(helperAgent, dispatcher, q, c.root)
	retryOrchestrator.MaxInterrogationRounds = cfg.Retry.MaxInterrogationRounds
	retryOrchestrator.BuildFixPrompt = promptBuilder.BuildFix

	haltHandler := halt.New(c.audit, c.logger)

	return control.New(control.Config{
		ProjectID:     cfg.Name,
		Store:         c.store,
		Queue:         q,
		Root:          c.root,
		GoalRoot:      c.goalRoot,
		Dispatcher:     dispatcher,
		SessionPolicy:  policy,
		TokenEstimator: tokenEstimator,
		Prompt:         promptBuilder,
		Validator:     v,
		Retry:         retryOrchestrator,
		Halt:          haltHandler,
		Audit:         c.audit,
		MetricsSink:   c.metrics,
		Obs:           c.obs,
		Logger:        c.logger,
	}), nil
}
