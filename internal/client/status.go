package client

import (
	"context"
	"time"

	"github.com/openmined/savesync/internal/history"
)

// WorkspaceStatus is a snapshot of one workspace.
type WorkspaceStatus struct {
	Workspace      string    `yaml:"workspace"`
	Destination    string    `yaml:"destination,omitempty"`
	Enabled        bool      `yaml:"enabled"`
	Syncing        bool      `yaml:"syncing"`
	Pending        bool      `yaml:"pending"`
	LastSync       time.Time `yaml:"lastSync,omitempty"`
	FailureCount   int       `yaml:"failureCount"`
	ConnectionLost bool      `yaml:"connectionLost"`
}

func (c *Client) Status() []WorkspaceStatus {
	roots := c.Workspaces()
	out := make([]WorkspaceStatus, 0, len(roots))

	for _, root := range roots {
		ws, err := c.workspace(root)
		if err != nil {
			continue
		}
		s := ws.current()

		status := WorkspaceStatus{
			Workspace:      root,
			Enabled:        s.Configured(),
			Syncing:        c.orch.Active(root),
			Pending:        c.debouncer.Pending(root),
			ConnectionLost: c.reporter.Lost(root),
		}
		if s.Connection.Host != "" {
			status.Destination = s.Connection.Destination()
		}
		if st, ok := c.orch.State(root); ok {
			status.LastSync = st.LastSyncTime
			status.FailureCount = st.FailureCount
		}
		out = append(out, status)
	}
	return out
}

// History returns recent syncs of root, or of every workspace when root is empty.
func (c *Client) History(ctx context.Context, root string, limit int) ([]history.Entry, error) {
	if c.journal == nil {
		return nil, history.ErrNotOpen
	}
	if root != "" {
		ws, err := c.workspace(root)
		if err != nil {
			return nil, err
		}
		root = ws.root
	}
	return c.journal.Recent(ctx, root, limit)
}
