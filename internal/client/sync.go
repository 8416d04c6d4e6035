package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/savesync/internal/history"
	"github.com/openmined/savesync/internal/orchestrator"
	"github.com/openmined/savesync/internal/report"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/transfer"
)

// SyncNow runs a sync of root, records it and reports the outcome.
// A retry chosen on the failure notice runs again as a manual sync; the last result is returned.
func (c *Client) SyncNow(ctx context.Context, root string, cause orchestrator.Trigger, dryRun bool) (transfer.SyncResult, error) {
	ws, err := c.workspace(root)
	if err != nil {
		return transfer.SyncResult{}, err
	}

	for {
		s := ws.current()
		res, err := c.orch.Sync(ctx, ws.root, s.Sync, cause, dryRun)
		if err != nil {
			return res, err
		}

		c.record(ws.root, cause, dryRun, res)

		if errors.Is(res.Err, context.Canceled) {
			slog.Info("sync cancelled", "workspace", ws.root)
			return res, nil
		}

		st, _ := c.orch.State(ws.root)
		action := c.reporter.Report(report.Outcome{
			Workspace:    ws.root,
			Result:       res,
			FailureCount: st.FailureCount,
			DryRun:       dryRun,
		}, s.UI)

		if action != report.ActionRetry {
			c.act(ws, action)
			return res, nil
		}
		cause = orchestrator.TriggerManual
	}
}

// Configure enables conn for root, persists it and runs the initial sync.
// The connection stays active in memory even if persisting fails.
func (c *Client) Configure(ctx context.Context, root string, conn settings.ConnectionConfig) (transfer.SyncResult, error) {
	ws, err := c.workspace(root)
	if err != nil {
		return transfer.SyncResult{}, err
	}

	conn.Enabled = true
	if err := conn.Validate(); err != nil {
		return transfer.SyncResult{}, err
	}

	s := ws.current()
	s.Connection = conn
	c.apply(ws, s, false)

	persistErr := ws.store.SaveConnection(conn)
	if persistErr != nil {
		slog.Error("connection not saved", "workspace", ws.root, "error", persistErr)
	} else {
		slog.Info("connection configured", "workspace", ws.root, "destination", conn.Destination())
	}

	res, err := c.SyncNow(ctx, ws.root, orchestrator.TriggerInitial, false)
	return res, errors.Join(persistErr, err)
}

// Disable turns syncing off for root and cancels any running sync.
func (c *Client) Disable(root string) error {
	ws, err := c.workspace(root)
	if err != nil {
		return err
	}

	s := ws.current()
	s.Connection.Enabled = false
	c.apply(ws, s, false)

	if err := ws.store.Update(map[string]any{settings.KeyEnabled: false}); err != nil {
		return fmt.Errorf("disable %s: %w", ws.root, err)
	}
	slog.Info("sync disabled", "workspace", ws.root)
	return nil
}

func (c *Client) act(ws *workspace, action report.Action) {
	switch action {
	case report.ActionDisable:
		if err := c.Disable(ws.root); err != nil {
			slog.Error("disable after failure", "workspace", ws.root, "error", err)
		}
	case report.ActionReconfigure:
		c.opts.Notifier.Info(fmt.Sprintf("run `savesync configure -w %s` to change the connection", ws.root))
	}
}

// onQuietPeriod runs when saves in root have settled.
func (c *Client) onQuietPeriod(root string) {
	_, err := c.SyncNow(c.ctx, root, orchestrator.TriggerSave, false)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrSyncInProgress), errors.Is(err, orchestrator.ErrNoConnection), errors.Is(err, ErrUnknownWorkspace):
		slog.Debug("save sync skipped", "workspace", root, "reason", err)
	default:
		slog.Warn("save sync", "workspace", root, "error", err)
	}
}

func (c *Client) record(root string, cause orchestrator.Trigger, dryRun bool, res transfer.SyncResult) {
	if c.journal == nil {
		return
	}
	entry := history.NewEntry(root, string(cause), dryRun, res)
	if err := c.journal.Record(context.WithoutCancel(c.ctx), entry); err != nil {
		slog.Warn("history record", "workspace", root, "error", err)
	}
}
