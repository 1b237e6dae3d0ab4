package main

import (
	"context"
	"fmt"
	"os"

	"github.com/foundry-run/foundry/pkg/queue"
	"github.com/foundry-run/foundry/pkg/state"
	"github.com/foundry-run/foundry/pkg/task"
)

// EnqueueCmd validates a task file against the project's accumulated
// dependency graph, merges it in, and persists the result (spec.md §6
// "enqueue <task-file>": validate dependencies and cycles, split into
// ready/waiting, write the graph).
type EnqueueCmd struct {
	TaskFile string `arg:"" help:"Path to a task-file JSON document (one task object or an array of them)." type:"path"`
	Goal     string `help:"Goal description for this project; required the first time it is enqueued."`
}

func (c *EnqueueCmd) Run(cli *CLI) error {
	ctx := context.Background()
	logger := cliLogger(cli)

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

	raw, err := os.ReadFile(c.TaskFile)
	if err != nil {
		return fmt.Errorf("foundry: read task file: %w", err)
	}
	newTasks, err := task.DecodeFile(raw)
	if err != nil {
		return fmt.Errorf("foundry: %w", err)
	}

	existing, err := loadTasks(cfg.Store.Root, projectID)
	if err != nil {
		return err
	}

	s, ok, err := comp.store.LoadState(projectID)
	if err != nil {
		return fmt.Errorf("foundry: load state: %w", err)
	}
	if !ok {
		if c.Goal == "" {
			return fmt.Errorf("foundry: project %q has no prior state; pass --goal the first time you enqueue it", projectID)
		}
		s = state.New(projectID, c.Goal)
	}

	merged := append(existing, newTasks...)
	completedIDs := make([]string, 0, len(s.CompletedTasks))
	for _, ct := range s.CompletedTasks {
		completedIDs = append(completedIDs, ct.TaskID)
	}

	q, err := queue.Rebuild(projectID, merged, completedIDs)
	if err != nil {
		return fmt.Errorf("foundry: %w", err)
	}

	if err := saveTasks(cfg.Store.Root, projectID, merged); err != nil {
		return err
	}
	if err := comp.store.SaveState(projectID, s); err != nil {
		return fmt.Errorf("foundry: save state: %w", err)
	}
	ready, waiting := q.Lists()
	if err := comp.store.SaveQueueLists(projectID, ready, waiting); err != nil {
		return fmt.Errorf("foundry: save queue: %w", err)
	}

	fmt.Printf("enqueued %d task(s) for %q: %d ready, %d waiting\n", len(newTasks), projectID, q.ReadyLen(), q.WaitingLen())
	return nil
}
