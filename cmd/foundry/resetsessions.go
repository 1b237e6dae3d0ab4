package main

import (
	"context"
	"fmt"

	"github.com/foundry-run/foundry/pkg/session"
)

// ResetSessionsCmd evicts one feature's session, or every active
// session if no feature id is given (spec.md §9 "manual eviction").
type ResetSessionsCmd struct {
	FeatureID string `arg:"" optional:"" help:"Feature id to evict; every active session is cleared if omitted."`
}

func (c *ResetSessionsCmd) Run(cli *CLI) error {
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

	s, ok, err := comp.store.LoadState(projectID)
	if err != nil {
		return fmt.Errorf("foundry: load state: %w", err)
	}
	if !ok {
		return fmt.Errorf("foundry: project %q has no state", projectID)
	}

	if c.FeatureID != "" {
		if _, found := s.ActiveSessions[c.FeatureID]; !found {
			return fmt.Errorf("foundry: no active session for feature %q", c.FeatureID)
		}
		delete(s.ActiveSessions, c.FeatureID)
	} else {
		s.ActiveSessions = make(map[string]session.Info)
	}

	if err := comp.store.SaveState(projectID, s); err != nil {
		return fmt.Errorf("foundry: save state: %w", err)
	}
	logger.Info("reset sessions", "feature_id", c.FeatureID, "project_id", projectID)
	return nil
}
