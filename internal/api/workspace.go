package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Workspace is a container for source documents and conversations.
type Workspace struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Instructions  string    `json:"instructions,omitempty"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateWorkspaceRequest is the payload for workspace creation.
type CreateWorkspaceRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// CreateWorkspace creates a new workspace container.
func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*Workspace, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}

	var ws Workspace
	if err := c.do(ctx, http.MethodPost, "/workspaces", req, &ws); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	c.logger.Info("workspace created", "workspace_id", ws.ID, "name", ws.Name)
	return &ws, nil
}

// ListWorkspaces returns all workspaces visible to the caller.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspaces", nil, &out); err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return out.Workspaces, nil
}

// GetWorkspace returns a single workspace by id.
func (c *Client) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	if err := c.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(id), nil, &ws); err != nil {
		return nil, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return &ws, nil
}

// DeleteWorkspace removes a workspace and all of its backend-owned content.
func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/workspaces/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	c.logger.Info("workspace deleted", "workspace_id", id)
	return nil
}
