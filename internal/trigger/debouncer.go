// Package trigger turns bursts of file saves into single, delayed sync requests.
package trigger

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/openmined/savesync/internal/pattern"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/utils"
)

const (
	DefaultDelay   = 500 * time.Millisecond
	IgnoreFileName = ".gitignore"
)

// workspaceTimer is the debounce state of one workspace.
type workspaceTimer struct {
	root  string
	delay time.Duration
	fire  func()
	rules *pattern.IgnoreRuleSet

	timer *time.Timer
	// gen is bumped on every arm/cancel so a timer that already fired
	// but lost the race against Stop does nothing.
	gen uint64
}

// Debouncer is a trailing-edge debouncer keyed by workspace.
type Debouncer struct {
	workspaces map[string]*workspaceTimer
	mu         sync.Mutex
}

func NewDebouncer() *Debouncer {
	return &Debouncer{
		workspaces: make(map[string]*workspaceTimer),
	}
}

// RegisterWorkspace sets up debouncing for key. fire runs on its own goroutine once
// per quiet period. Registering an existing key cancels its pending timer.
func (d *Debouncer) RegisterWorkspace(key, root string, delay time.Duration, fire func()) {
	if delay < 0 {
		delay = DefaultDelay
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var rules *pattern.IgnoreRuleSet
	if ws, ok := d.workspaces[key]; ok {
		ws.cancel()
		rules = ws.rules
	}

	d.workspaces[key] = &workspaceTimer{
		root:  root,
		delay: delay,
		fire:  fire,
		rules: rules,
	}
	slog.Debug("debouncer register", "workspace", key, "delay", delay)
}

// SetDelay changes the quiet period used for subsequent saves.
func (d *Debouncer) SetDelay(key string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ws, ok := d.workspaces[key]; ok && delay >= 0 {
		ws.delay = delay
	}
}

// UnregisterWorkspace cancels any pending timer for key without firing it.
func (d *Debouncer) UnregisterWorkspace(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ws, ok := d.workspaces[key]; ok {
		ws.cancel()
		delete(d.workspaces, key)
		slog.Debug("debouncer unregister", "workspace", key)
	}
}

// Dispose cancels every pending timer. No callbacks fire afterwards.
func (d *Debouncer) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, ws := range d.workspaces {
		ws.cancel()
		delete(d.workspaces, key)
	}
}

// SetIgnoreRules replaces the ignore rules for key. nil disables ignore filtering.
func (d *Debouncer) SetIgnoreRules(key string, rules *pattern.IgnoreRuleSet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ws, ok := d.workspaces[key]; ok {
		ws.rules = rules
	}
}

// ReloadIgnore re-reads the workspace ignore file. When enabled is false the rules are cleared.
func (d *Debouncer) ReloadIgnore(key string, enabled bool) error {
	d.mu.Lock()
	ws, ok := d.workspaces[key]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	var rules *pattern.IgnoreRuleSet
	if enabled {
		var err error
		rules, err = pattern.LoadIgnoreFile(filepath.Join(ws.root, IgnoreFileName))
		if err != nil {
			return err
		}
	}

	d.SetIgnoreRules(key, rules)
	slog.Info("ignore rules reloaded", "workspace", key, "enabled", enabled, "rules", rules.Len())
	return nil
}

// HandleSave gates the saved path through the trigger rules and, if eligible,
// (re)arms the workspace timer. It reports whether the save was accepted.
func (d *Debouncer) HandleSave(key, path string, cfg settings.TriggerConfig) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ws, ok := d.workspaces[key]
	if !ok {
		return false
	}

	rel, ok := utils.RelSlash(ws.root, path)
	if !ok || rel == "." {
		return false
	}

	if !pattern.ShouldTrigger(rel, cfg, ws.rules) {
		slog.Debug("save skipped", "workspace", key, "path", rel)
		return false
	}

	d.armLocked(ws)
	slog.Debug("save scheduled", "workspace", key, "path", rel, "delay", ws.delay)
	return true
}

// Pending reports whether a timer is armed for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ws, ok := d.workspaces[key]
	return ok && ws.timer != nil
}

// armLocked restarts the timer of ws. Caller holds d.mu.
func (d *Debouncer) armLocked(ws *workspaceTimer) {
	ws.cancel()
	gen := ws.gen
	ws.timer = time.AfterFunc(ws.delay, func() {
		d.mu.Lock()
		if ws.gen != gen {
			d.mu.Unlock()
			return
		}
		ws.timer = nil
		fire := ws.fire
		d.mu.Unlock()

		fire()
	})
}

// cancel stops the pending timer. Caller holds d.mu.
func (ws *workspaceTimer) cancel() {
	ws.gen++
	if ws.timer != nil {
		ws.timer.Stop()
		ws.timer = nil
	}
}
