package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loandesk/internal/config"
	"loandesk/internal/domain"
	"loandesk/internal/repo"
)

// ResolveWorkspaceAndConfig picks the active workspace and ensures it exists
// in the database, creating it on the fly if missing. It prefers the
// override, then the single workspace in the store, then a "default"
// workspace. Config comes from loandesk.yml in the workspace directory.
func ResolveWorkspaceAndConfig(ctx context.Context, workspace, workspaceOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	workspaceID := workspaceOverride
	if workspaceID == "" {
		w, err := r.SingleWorkspace(ctx)
		switch {
		case err == nil:
			workspaceID = w.ID
		case errors.Is(err, repo.ErrNotFound):
			workspaceID = "default"
		default:
			return "", nil, err
		}
	}

	if _, err := r.GetWorkspace(ctx, workspaceID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createWorkspace(ctx, r, workspaceID); err != nil {
			return "", nil, err
		}
	}

	cfg, err := config.Load(workspace, workspaceID)
	if err != nil {
		return "", nil, err
	}
	cfg.Workspace.ID = workspaceID
	if cfg.Workspace.Name == "" {
		cfg.Workspace.Name = workspaceID
	}
	return workspaceID, cfg, nil
}

func createWorkspace(ctx context.Context, r repo.Repo, workspaceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	w := domain.Workspace{
		ID:        workspaceID,
		Name:      workspaceID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertWorkspace(ctx, w); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}
