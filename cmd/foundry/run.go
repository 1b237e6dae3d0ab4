package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/state"
)

// RunCmd starts the control loop for a project and runs it until the
// goal is met, the project halts, or SIGINT/SIGTERM asks for a clean
// shutdown (spec.md §5). Exit status is non-zero when loading or
// composing the project fails, when the loop returns an error other
// than a signal-triggered cancellation, or when the final persisted
// state shows the project HALTED.
type RunCmd struct{}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := cliLogger(cli)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := loadProjectConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	projectID := cfg.Name

	comp, err := compose(ctx, cfg, projectID, logger)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	s, ok, err := comp.store.LoadState(projectID)
	if err != nil {
		return fmt.Errorf("foundry: load state: %w", err)
	}
	if !ok {
		return fmt.Errorf("foundry: project %q has no state; run enqueue first", projectID)
	}

	tasks, err := loadTasks(cfg.Store.Root, projectID)
	if err != nil {
		return err
	}
	completedIDs := make([]string, 0, len(s.CompletedTasks))
	for _, ct := range s.CompletedTasks {
		completedIDs = append(completedIDs, ct.TaskID)
	}
	q, err := queue.Rebuild(projectID, tasks, completedIDs)
	if err != nil {
		return fmt.Errorf("foundry: %w", err)
	}

	loop, err := buildLoop(comp, q)
	if err != nil {
		return err
	}

	// A signal-triggered cancellation surfaces here as ctx.Err(); that
	// is a clean shutdown request, not a failure, so it must not turn
	// into a non-zero exit on its own (spec.md §5).
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("foundry: %w", err)
	}

	final, ok, err := comp.store.LoadState(projectID)
	if err != nil {
		return fmt.Errorf("foundry: reload state: %w", err)
	}
	if ok && final.Supervisor.Status == state.StatusHalted {
		return fmt.Errorf("foundry: project %q halted", projectID)
	}
	return nil
}
