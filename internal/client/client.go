// Package client runs save-triggered syncs for a set of workspaces.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openmined/savesync/internal/history"
	"github.com/openmined/savesync/internal/orchestrator"
	"github.com/openmined/savesync/internal/report"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/transfer"
	"github.com/openmined/savesync/internal/trigger"
	"github.com/openmined/savesync/internal/utils"
	"github.com/openmined/savesync/internal/watch"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownWorkspace = errors.New("workspace not added")
	ErrNotDirectory     = errors.New("workspace is not a directory")
	ErrClientStopped    = errors.New("client stopped")
)

type Options struct {
	// RsyncPath is the transfer binary, rsync from PATH when empty.
	RsyncPath string
	// Executors overrides how transfers are run.
	Executors orchestrator.ExecutorFactory
	Backoff   []time.Duration
	Notifier  report.Notifier
	// HistoryDB is the journal path. Empty disables history.
	HistoryDB string
	// Watch starts a file watcher for every added workspace.
	Watch bool
}

type Client struct {
	opts      Options
	orch      *orchestrator.Orchestrator
	debouncer *trigger.Debouncer
	reporter  *report.Reporter
	journal   *history.Journal

	workspaces map[string]*workspace
	mu         sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	stopOnce sync.Once
	stopErr  error
}

func New(opts Options) (*Client, error) {
	if opts.Notifier == nil {
		opts.Notifier = report.LogNotifier{}
	}
	if opts.Executors == nil {
		opts.Executors = orchestrator.RsyncExecutors(opts.RsyncPath, transfer.ExecRunner{})
	}

	orchOpts := []orchestrator.Option{orchestrator.WithExecutorFactory(opts.Executors)}
	if len(opts.Backoff) > 0 {
		orchOpts = append(orchOpts, orchestrator.WithBackoff(opts.Backoff...))
	}

	var journal *history.Journal
	if opts.HistoryDB != "" {
		journal = history.NewJournal(opts.HistoryDB)
		if err := journal.Open(); err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	c := &Client{
		opts:       opts,
		debouncer:  trigger.NewDebouncer(),
		reporter:   report.NewReporter(opts.Notifier),
		journal:    journal,
		workspaces: make(map[string]*workspace),
		ctx:        ctx,
		cancel:     cancel,
		group:      group,
		groupCtx:   groupCtx,
	}
	c.orch = orchestrator.New(append(orchOpts, orchestrator.WithGuard(c.claim))...)
	return c, nil
}

// Start blocks until ctx is done, then stops the client.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("savesync client start", "workspaces", c.Workspaces(), "watch", c.opts.Watch)

	select {
	case <-ctx.Done():
		slog.Info("received interrupt signal, stopping client")
	case <-c.groupCtx.Done():
	}

	return c.Stop()
}

// Stop cancels pending triggers and in-flight syncs, stops watchers and closes the journal.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.debouncer.Dispose()
		c.cancel()

		c.mu.Lock()
		for _, ws := range c.workspaces {
			ws.close()
		}
		c.mu.Unlock()

		c.stopErr = c.group.Wait()
		if c.journal != nil {
			if err := c.journal.Close(); err != nil && c.stopErr == nil {
				c.stopErr = err
			}
		}
		slog.Info("savesync client stop")
	})
	return c.stopErr
}

// AddWorkspace loads the settings of root and starts reacting to its saves.
// Adding a workspace twice is a no-op.
func (c *Client) AddWorkspace(root string) error {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return err
	}
	if !utils.DirExists(root) {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClientStopped
	}
	if _, ok := c.workspaces[root]; ok {
		return nil
	}

	store := settings.NewStore(root)
	s, err := store.Load()
	if err != nil {
		return fmt.Errorf("load settings of %s: %w", root, err)
	}

	ws := &workspace{root: root, store: store}
	c.debouncer.RegisterWorkspace(root, root, debounceDelay(s), func() { c.onQuietPeriod(root) })
	c.apply(ws, s, true)
	c.seedFromHistory(root)

	if c.opts.Watch {
		ws.changes = store.Subscribe()
		ws.watcher = watch.NewWatcher(root)
		if err := ws.watcher.Start(c.ctx); err != nil {
			c.debouncer.UnregisterWorkspace(root)
			c.orch.RemoveConnection(root)
			store.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
		c.group.Go(func() error {
			c.watchLoop(c.ctx, ws)
			return nil
		})
	}

	c.workspaces[root] = ws
	slog.Info("workspace added", "workspace", root, "configured", s.Configured())
	return nil
}

func (c *Client) RemoveWorkspace(root string) error {
	ws, err := c.workspace(root)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.workspaces, ws.root)
	c.mu.Unlock()

	c.debouncer.UnregisterWorkspace(ws.root)
	c.orch.RemoveConnection(ws.root)
	c.reporter.Forget(ws.root)
	ws.close()
	slog.Info("workspace removed", "workspace", ws.root)
	return nil
}

// Workspaces returns the added workspace roots, sorted.
func (c *Client) Workspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	roots := make([]string, 0, len(c.workspaces))
	for root := range c.workspaces {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Settings returns the in-memory settings of root.
func (c *Client) Settings(root string) (settings.Settings, error) {
	ws, err := c.workspace(root)
	if err != nil {
		return settings.Settings{}, err
	}
	return ws.current(), nil
}

func (c *Client) workspace(root string) (*workspace, error) {
	key, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	ws, ok := c.workspaces[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkspace, key)
	}
	return ws, nil
}

// apply makes s the active settings of ws and pushes it to the orchestrator and debouncer.
func (c *Client) apply(ws *workspace, s settings.Settings, initial bool) {
	prev := ws.swap(s)

	st, known := c.orch.State(ws.root)
	switch {
	case s.Configured() && (!known || st.Config != s.Connection):
		c.orch.SetConnection(ws.root, s.Connection)
		c.reporter.Forget(ws.root)
	case !s.Configured() && known:
		c.orch.RemoveConnection(ws.root)
		c.reporter.Forget(ws.root)
	}

	c.debouncer.SetDelay(ws.root, debounceDelay(s))

	if initial || prev.Sync.UseGitignore != s.Sync.UseGitignore {
		if err := c.debouncer.ReloadIgnore(ws.root, s.Sync.UseGitignore); err != nil {
			slog.Warn("ignore rules load", "workspace", ws.root, "error", err)
		}
	}
}

func (c *Client) seedFromHistory(root string) {
	if c.journal == nil {
		return
	}
	last, ok, err := c.journal.LastSuccess(c.ctx, root)
	if err != nil {
		slog.Warn("history lookup", "workspace", root, "error", err)
		return
	}
	if ok {
		c.orch.SeedLastSync(root, last)
	}
}

// claim takes the sync lock of root so that other savesync processes skip it.
// A lock that cannot be created does not block the sync.
func (c *Client) claim(root string) (func(), error) {
	ws, err := c.workspace(root)
	if err != nil {
		return func() {}, nil
	}

	unlock, err := ws.store.TryLockSync()
	switch {
	case errors.Is(err, settings.ErrSyncLocked):
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrSyncInProgress, err)
	case err != nil:
		slog.Warn("sync lock unavailable", "workspace", root, "error", err)
		return func() {}, nil
	}
	return unlock, nil
}

func debounceDelay(s settings.Settings) time.Duration {
	return time.Duration(s.Advanced.DebounceMs) * time.Millisecond
}
