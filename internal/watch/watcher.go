// Package watch reports file writes under a workspace.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/openmined/savesync/internal/utils"
	"github.com/rjeczalik/notify"
	gitignore "github.com/sabhiram/go-gitignore"
)

const eventBufferSize = 64

// never interesting to a sync trigger
var noiseLines = []string{
	".git/",
	".savesync/*.lock",
	".savesync/*.db",
	".savesync/*.db-*",
	".savesync/.settings-*",
	// editor temp files
	"*.swp",
	"*.swx",
	"*~",
	"4913",
	".#*",
}

var noise = gitignore.CompileIgnoreLines(noiseLines...)

// Event is a change to a file under the watched root.
type Event struct {
	Path string
}

type Watcher struct {
	root      string
	events    chan Event
	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewWatcher(root string) *Watcher {
	return &Watcher{
		root: root,
		done: make(chan struct{}),
	}
}

func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.root)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan Event, eventBufferSize)

	if err := notify.Watch(filepath.Join(w.root, "..."), w.rawEvents, notify.Write, notify.Create, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.forward(ctx)
	return nil
}

// Stop ends watching and closes the events channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}
		w.wg.Wait()
		slog.Info("file watcher stopped", "dir", w.root)
	})
}

func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) forward(ctx context.Context) {
	defer func() {
		close(w.events)
		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if IsNoise(w.root, ev.Path()) {
				continue
			}

			select {
			case w.events <- Event{Path: ev.Path()}:
			default:
				slog.Warn("file watcher dropped", "reason", "channel full", "path", ev.Path())
			}
		}
	}
}

// IsNoise reports whether path is a VCS, editor or savesync bookkeeping file.
func IsNoise(root, path string) bool {
	rel, ok := utils.RelSlash(root, path)
	if !ok {
		return true
	}
	return noise.MatchesPath(rel)
}
