// Package report turns sync outcomes into user notices and follow-up choices.
package report

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/transfer"
)

// ConnectionLostThreshold is the failure count from which prompts are replaced by a
// single "connection lost" notice.
const ConnectionLostThreshold = 3

// Action is the user's answer to a failure notice.
type Action string

const (
	ActionNone        Action = ""
	ActionRetry       Action = "retry"
	ActionReconfigure Action = "reconfigure"
	ActionDisable     Action = "disable"
	ActionIgnore      Action = "ignore"
)

var failureChoices = []Action{ActionRetry, ActionReconfigure, ActionDisable, ActionIgnore}

// Notifier is the surface notices are shown on.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	// Ask shows msg and returns one of choices.
	Ask(msg string, choices []Action) Action
}

// Outcome describes one finished sync.
type Outcome struct {
	Workspace    string
	Result       transfer.SyncResult
	FailureCount int
	DryRun       bool
}

type Reporter struct {
	notifier Notifier
	lost     mapset.Set[string]
}

func NewReporter(notifier Notifier) *Reporter {
	return &Reporter{
		notifier: notifier,
		lost:     mapset.NewSet[string](),
	}
}

// Report notifies about an outcome and returns the chosen follow-up action.
func (r *Reporter) Report(o Outcome, ui settings.UIConfig) Action {
	name := filepath.Base(o.Workspace)

	if o.Result.Success {
		if r.lost.Contains(o.Workspace) {
			r.lost.Remove(o.Workspace)
			if ui.ShowNotifications {
				r.notifier.Info(fmt.Sprintf("%s: connection restored", name))
			}
		}
		if ui.ShowNotifications && (!ui.ErrorsOnly() || o.DryRun) {
			r.notifier.Info(successMessage(name, o))
		}
		return ActionNone
	}

	if o.FailureCount >= ConnectionLostThreshold {
		// only the first notice after crossing the threshold is shown
		if r.lost.Add(o.Workspace) {
			slog.Warn("connection lost", "workspace", o.Workspace, "failures", o.FailureCount)
			r.notifier.Warn(fmt.Sprintf("%s: connection lost after %d failed syncs (%s). Further errors are silenced until a sync succeeds.",
				name, o.FailureCount, o.Result.ErrorMessage()))
		}
		return ActionNone
	}

	if !ui.ShowNotifications {
		return ActionNone
	}

	action := r.notifier.Ask(fmt.Sprintf("%s: sync failed: %s", name, o.Result.ErrorMessage()), failureChoices)
	slog.Debug("failure notice answered", "workspace", o.Workspace, "action", action)
	return action
}

// Lost reports whether workspace is currently considered disconnected.
func (r *Reporter) Lost(workspace string) bool {
	return r.lost.Contains(workspace)
}

// Forget clears the lost marker of a workspace, e.g. after it was reconfigured.
func (r *Reporter) Forget(workspace string) {
	r.lost.Remove(workspace)
}

func successMessage(name string, o Outcome) string {
	size := humanize.Bytes(uint64(o.Result.BytesTransferred))
	if o.DryRun {
		return fmt.Sprintf("%s: dry run, %d files (%s) would be transferred", name, o.Result.FilesTransferred, size)
	}
	return fmt.Sprintf("%s: synced %d files (%s) in %s", name, o.Result.FilesTransferred, size, o.Result.Duration.Round(time.Millisecond))
}
