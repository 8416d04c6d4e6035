package client

import (
	"context"
	"log/slog"
	"path"
	"sync"

	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/trigger"
	"github.com/openmined/savesync/internal/utils"
	"github.com/openmined/savesync/internal/watch"
)

var settingsRelPath = path.Join(settings.Dir, settings.FileName)

type workspace struct {
	root    string
	store   *settings.Store
	watcher *watch.Watcher
	changes <-chan settings.ChangeEvent

	settings settings.Settings
	mu       sync.RWMutex
	once     sync.Once
}

func (ws *workspace) current() settings.Settings {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.settings
}

// swap installs s and returns the previous settings.
func (ws *workspace) swap(s settings.Settings) settings.Settings {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	prev := ws.settings
	ws.settings = s
	return prev
}

func (ws *workspace) close() {
	ws.once.Do(func() {
		if ws.watcher != nil {
			ws.watcher.Stop()
		}
		ws.store.Close()
	})
}

func (c *Client) watchLoop(ctx context.Context, ws *workspace) {
	events := ws.watcher.Events()
	changes := ws.changes

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ws, ev.Path)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.reload(ws)
		}
	}
}

func (c *Client) handleEvent(ws *workspace, path string) {
	rel, ok := utils.RelSlash(ws.root, path)
	if !ok {
		return
	}

	switch rel {
	case settingsRelPath:
		c.reload(ws)
		return
	case trigger.IgnoreFileName:
		if err := c.debouncer.ReloadIgnore(ws.root, ws.current().Sync.UseGitignore); err != nil {
			slog.Warn("ignore rules reload", "workspace", ws.root, "error", err)
		}
	}

	s := ws.current()
	if !s.Configured() {
		return
	}
	c.debouncer.HandleSave(ws.root, path, s.Triggers)
}

func (c *Client) reload(ws *workspace) {
	s, err := ws.store.Load()
	if err != nil {
		slog.Warn("settings reload", "workspace", ws.root, "error", err)
		return
	}
	c.apply(ws, s, false)
	slog.Debug("settings reloaded", "workspace", ws.root)
}
