// Package orchestrator owns per-workspace connection state and runs guarded,
// retried transfers. At most one sync per workspace is in flight at any time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/transfer"
)

var (
	ErrNoConnection   = errors.New("no enabled connection configured")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// DefaultBackoff is the wait before retry n; the last entry repeats for later retries.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Trigger is what caused a sync.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerSave    Trigger = "save"
	TriggerInitial Trigger = "initial"
)

// Executor performs a single transfer attempt.
type Executor interface {
	Execute(ctx context.Context, dryRun bool) transfer.SyncResult
}

// ExecutorFactory builds the executor bound to one workspace, connection and sync config.
type ExecutorFactory func(key string, conn settings.ConnectionConfig, cfg settings.SyncConfig) Executor

// RsyncExecutors returns a factory running binary (rsync when empty) with the given runner.
func RsyncExecutors(binary string, runner transfer.Runner) ExecutorFactory {
	return func(key string, conn settings.ConnectionConfig, cfg settings.SyncConfig) Executor {
		return transfer.NewExecutor(transfer.Options{
			WorkspaceRoot: key,
			Connection:    conn,
			Sync:          cfg,
			Binary:        binary,
		}, runner)
	}
}

// ConnectionState is the sync bookkeeping of one workspace.
type ConnectionState struct {
	Config       settings.ConnectionConfig
	LastSyncTime time.Time
	FailureCount int
}

// Guard claims key beyond this process for the length of a sync. It returns an error
// wrapping ErrSyncInProgress when someone else holds the claim.
type Guard func(key string) (release func(), err error)

type activeSync struct {
	id          string
	destination string
	cancel      context.CancelFunc
}

type Orchestrator struct {
	states map[string]*ConnectionState
	active map[string]*activeSync
	mu     sync.Mutex

	newExecutor ExecutorFactory
	guard       Guard
	backoff     []time.Duration
}

type Option func(*Orchestrator)

func WithExecutorFactory(f ExecutorFactory) Option {
	return func(o *Orchestrator) {
		o.newExecutor = f
	}
}

func WithGuard(g Guard) Option {
	return func(o *Orchestrator) {
		o.guard = g
	}
}

func WithBackoff(schedule ...time.Duration) Option {
	return func(o *Orchestrator) {
		if len(schedule) > 0 {
			o.backoff = schedule
		}
	}
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		states:      make(map[string]*ConnectionState),
		active:      make(map[string]*activeSync),
		newExecutor: RsyncExecutors(transfer.DefaultBinary, nil),
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetConnection installs or replaces the connection of key. Counters survive when
// the target (host and remote path) is unchanged.
func (o *Orchestrator) SetConnection(key string, conn settings.ConnectionConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := &ConnectionState{Config: conn}
	if prev, ok := o.states[key]; ok && prev.Config.Destination() == conn.Destination() {
		next.LastSyncTime = prev.LastSyncTime
		next.FailureCount = prev.FailureCount
	}
	o.states[key] = next
	slog.Info("connection set", "workspace", key, "destination", conn.Destination(), "enabled", conn.Enabled)
}

// RemoveConnection drops the state of key. An in-flight sync is cancelled, which
// kills its transfer process; its result is not recorded.
func (o *Orchestrator) RemoveConnection(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if op, ok := o.active[key]; ok {
		op.cancel()
		delete(o.active, key)
		slog.Info("connection removed during sync", "workspace", key, "op", op.id)
	}
	delete(o.states, key)
}

// SeedLastSync sets the last successful sync time, e.g. from history, if none is known.
func (o *Orchestrator) SeedLastSync(key string, t time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.states[key]; ok && st.LastSyncTime.IsZero() {
		st.LastSyncTime = t
	}
}

// State returns a copy of the state of key.
func (o *Orchestrator) State(key string) (ConnectionState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[key]
	if !ok {
		return ConnectionState{}, false
	}
	return *st, true
}

// Keys returns the workspaces with a connection, sorted.
func (o *Orchestrator) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	keys := make([]string, 0, len(o.states))
	for k := range o.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Active reports whether a sync for key is in flight.
func (o *Orchestrator) Active(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.active[key]
	return ok
}

// Sync runs the transfer for key, retrying failed attempts up to cfg.RetryCount times.
// Transfer failures are reported in the result. An error is returned only when the
// workspace has no enabled connection or a sync is already running for it.
func (o *Orchestrator) Sync(ctx context.Context, key string, cfg settings.SyncConfig, trigger Trigger, dryRun bool) (transfer.SyncResult, error) {
	o.mu.Lock()
	st, ok := o.states[key]
	if !ok || !st.Config.Enabled {
		o.mu.Unlock()
		return transfer.SyncResult{}, fmt.Errorf("%w: %s", ErrNoConnection, key)
	}
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return transfer.SyncResult{}, fmt.Errorf("%w: %s", ErrSyncInProgress, key)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := st.Config
	op := &activeSync{id: uuid.NewString(), destination: conn.Destination(), cancel: cancel}
	o.active[key] = op
	o.mu.Unlock()

	defer func() {
		cancel()
		o.release(key, op)
	}()

	if o.guard != nil {
		unlock, err := o.guard(key)
		if err != nil {
			return transfer.SyncResult{}, fmt.Errorf("%w: %s", err, key)
		}
		defer unlock()
	}

	log := slog.With("workspace", key, "op", op.id, "trigger", trigger, "dryRun", dryRun)
	log.Info("sync start", "destination", conn.Destination())

	executor := o.newExecutor(key, conn, cfg)
	attempts := max(cfg.RetryCount, 0) + 1

	var result transfer.SyncResult
	for attempt := 1; attempt <= attempts; attempt++ {
		result = executor.Execute(ctx, dryRun)
		if result.Success {
			break
		}

		log.Warn("sync attempt failed", "attempt", attempt, "of", attempts, "error", result.Err)
		if attempt == attempts {
			break
		}

		delay := o.backoffDelay(attempt - 1)
		if err := sleep(ctx, delay); err != nil {
			log.Info("sync retries aborted", "reason", err)
			break
		}
	}

	o.record(key, op, result)

	if result.Success {
		log.Info("sync done", "files", result.FilesTransferred, "bytes", result.BytesTransferred, "duration", result.Duration)
	} else {
		log.Error("sync failed", "error", result.Err)
	}
	return result, nil
}

func (o *Orchestrator) backoffDelay(retry int) time.Duration {
	return BackoffDelay(o.backoff, retry)
}

// BackoffDelay returns the wait before the given retry (0-based).
func BackoffDelay(schedule []time.Duration, retry int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	return schedule[min(max(retry, 0), len(schedule)-1)]
}

// record updates counters unless the sync was superseded by RemoveConnection or
// its connection was pointed at another destination meanwhile.
func (o *Orchestrator) record(key string, op *activeSync, result transfer.SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active[key] != op {
		return
	}
	st, ok := o.states[key]
	if !ok || st.Config.Destination() != op.destination {
		return
	}

	if result.Success {
		st.FailureCount = 0
		st.LastSyncTime = time.Now()
	} else {
		st.FailureCount++
	}
}

func (o *Orchestrator) release(key string, op *activeSync) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active[key] == op {
		delete(o.active, key)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
