// Package transfer runs rsync for a workspace and turns its outcome into a SyncResult.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/utils"
)

const (
	DefaultBinary  = "rsync"
	vcsMetadataDir = ".git"
	ignoreFileName = ".gitignore"
)

var baseFlags = []string{"-avz", "--stats"}

type Options struct {
	// WorkspaceRoot is the local directory that is mirrored.
	WorkspaceRoot string
	Connection    settings.ConnectionConfig
	Sync          settings.SyncConfig
	// Binary defaults to rsync when empty.
	Binary string
}

// Executor runs one transfer per Execute call. It is safe to call Execute repeatedly.
type Executor struct {
	opts   Options
	runner Runner
}

func NewExecutor(opts Options, runner Runner) *Executor {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Executor{opts: opts, runner: runner}
}

// Args returns the rsync arguments for a run.
func (e *Executor) Args(dryRun bool) []string {
	args := append([]string{}, baseFlags...)

	if dryRun {
		args = append(args, "--dry-run")
	}
	if e.opts.Sync.DeleteExtraneous {
		args = append(args, "--delete")
	}

	args = append(args, "--exclude="+vcsMetadataDir, "--exclude="+settings.Dir)

	if e.opts.Sync.UseGitignore {
		ignorePath := filepath.Join(e.opts.WorkspaceRoot, ignoreFileName)
		if utils.FileExists(ignorePath) {
			args = append(args, "--exclude-from="+ignorePath)
		}
	}

	for _, pattern := range e.opts.Sync.AdditionalExcludes {
		args = append(args, "--exclude="+pattern)
	}

	source := e.opts.WorkspaceRoot
	if !strings.HasSuffix(source, "/") {
		source += "/"
	}

	return append(args, source, e.opts.Connection.Destination())
}

// Execute runs the transfer. Failures are reported in the result, never returned.
func (e *Executor) Execute(ctx context.Context, dryRun bool) SyncResult {
	args := e.Args(dryRun)
	start := time.Now()

	slog.Debug("transfer start", "workspace", e.opts.WorkspaceRoot, "cmd", e.opts.Binary, "args", args)
	proc, err := e.runner.Run(ctx, e.opts.WorkspaceRoot, e.opts.Binary, args)
	duration := time.Since(start)

	if err != nil {
		slog.Warn("transfer spawn failed", "workspace", e.opts.WorkspaceRoot, "error", err)
		return SyncResult{Duration: duration, Err: err}
	}

	if proc.ExitCode != 0 {
		err := fmt.Errorf("%s exited with code %d: %s", filepath.Base(e.opts.Binary), proc.ExitCode, strings.TrimSpace(string(proc.Stderr)))
		slog.Warn("transfer failed", "workspace", e.opts.WorkspaceRoot, "exitCode", proc.ExitCode, "duration", duration)
		return SyncResult{Duration: duration, Err: err}
	}

	files, bytes := ParseStats(string(proc.Stdout))
	slog.Info("transfer done",
		"workspace", e.opts.WorkspaceRoot,
		"dryRun", dryRun,
		"files", files,
		"size", humanize.Bytes(uint64(bytes)),
		"duration", duration,
	)

	return SyncResult{
		Success:          true,
		Duration:         duration,
		FilesTransferred: files,
		BytesTransferred: bytes,
	}
}
