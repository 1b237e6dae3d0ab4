package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/foundry-run/foundry/pkg/audit"
	"github.com/foundry-run/foundry/pkg/config"
	"github.com/foundry-run/foundry/pkg/metrics"
)

// DumpStateCmd prints a read-only snapshot of a project's persisted
// state, queue lists, audit log, and metrics (spec.md §6 "dump-state").
// With --http it instead serves the same snapshot over a small chi
// router until interrupted, useful for wiring up an external dashboard.
type DumpStateCmd struct {
	HTTP bool `help:"Serve the snapshot over HTTP instead of printing it once."`
}

type stateDump struct {
	ProjectID string                `json:"project_id"`
	State     any                   `json:"state"`
	Ready     []string              `json:"ready"`
	Waiting   []string              `json:"waiting"`
	Audit     []audit.Entry         `json:"audit"`
	Metrics   []metrics.TaskMetrics `json:"metrics"`
}

func snapshotState(cfg *config.Config, comp *components) (*stateDump, error) {
	projectID := cfg.Name
	s, ok, err := comp.store.LoadState(projectID)
	if err != nil {
		return nil, fmt.Errorf("foundry: load state: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("foundry: project %q has no state", projectID)
	}
	ready, waiting, err := comp.store.LoadQueueLists(projectID)
	if err != nil {
		return nil, fmt.Errorf("foundry: load queue: %w", err)
	}
	auditEntries, err := audit.ReadAll(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("foundry: load audit: %w", err)
	}
	taskMetrics, err := metrics.ReadAll(cfg.Metrics.Path)
	if err != nil {
		return nil, fmt.Errorf("foundry: load metrics: %w", err)
	}
	return &stateDump{
		ProjectID: projectID,
		State:     s,
		Ready:     ready,
		Waiting:   waiting,
		Audit:     auditEntries,
		Metrics:   taskMetrics,
	}, nil
}

func (c *DumpStateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	logger := cliLogger(cli)

	cfg, err := loadProjectConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	comp, err := compose(ctx, cfg, cfg.Name, logger)
	if err != nil {
		return err
	}
	defer comp.store.Close()

	if !c.HTTP {
		dump, err := snapshotState(cfg, comp)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}

	r := chi.NewRouter()
	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		dump, err := snapshotState(cfg, comp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump)
	})

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = srv.Close()
	}()

	logger.Info("serving dump-state", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
