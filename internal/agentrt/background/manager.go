// Package background runs tool calls fire-and-forget: run() returns an id
// immediately, and the caller polls getStatus, blocks on waitFor, or
// requests an early stop.
package background

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/agentrt/toolexec"
)

// MaxTaskTimeout mirrors toolexec's own cap; a background task's timeout
// is bounded by the same ceiling as a synchronous one.
const MaxTaskTimeout = toolexec.MaxToolTimeout

// DefaultCleanupAge is how long a settled task is kept around before
// Cleanup erases it.
const DefaultCleanupAge = 30 * time.Minute

// Status is the terminal or in-flight state of a BackgroundTask.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StoppedByUser is the error text stop() records when it wins the race
// against natural settlement.
const StoppedByUser = "Stopped by user"

// StatusSnapshot is the read-only view getStatus returns.
type StatusSnapshot struct {
	Status    Status
	Tool      string
	ElapsedMs int64
	Result    *tool.Result
	Error     string
	Found     bool
}

// task is the manager's internal bookkeeping for one run() call.
type task struct {
	id          string
	tool        string
	status      Status
	result      tool.Result
	errMsg      string
	startedAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc
	settled     chan struct{}
	settleOnce  sync.Once
}

func (t *task) settle(status Status, result tool.Result, errMsg string) {
	t.settleOnce.Do(func() {
		t.status = status
		t.result = result
		t.errMsg = errMsg
		t.completedAt = time.Now()
		close(t.settled)
	})
}

// Executor is the subset of toolexec.Executor the manager drives.
type Executor interface {
	Execute(ctx context.Context, name string, arguments map[string]any, opts toolexec.Options) (tool.Result, error)
}

// Manager owns the set of in-flight and recently-settled background tasks.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*task
	exec    Executor
	cleanup time.Duration
}

// New builds a Manager driving calls through exec.
func New(exec Executor) *Manager {
	return &Manager{
		tasks:   make(map[string]*task),
		exec:    exec,
		cleanup: DefaultCleanupAge,
	}
}

// Run starts toolName(arguments) in the background and returns its task id
// immediately. It piggybacks a Cleanup pass before registering the new task.
func (m *Manager) Run(ctx context.Context, toolName string, arguments map[string]any, timeout time.Duration) string {
	m.Cleanup(DefaultCleanupAge)

	if timeout <= 0 || timeout > MaxTaskTimeout {
		timeout = MaxTaskTimeout
	}

	runCtx, cancel := context.WithCancel(detachCancel(ctx))
	t := &task{
		id:        "bg-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		tool:      toolName,
		status:    StatusRunning,
		startedAt: time.Now(),
		cancel:    cancel,
		settled:   make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	go m.execute(runCtx, t, toolName, arguments, timeout)

	return t.id
}

func (m *Manager) execute(ctx context.Context, t *task, toolName string, arguments map[string]any, timeout time.Duration) {
	result, err := m.exec.Execute(ctx, toolName, arguments, toolexec.Options{Timeout: timeout})

	m.mu.Lock()
	defer m.mu.Unlock()

	if t.status != StatusRunning {
		// stop() already settled this task; natural completion is a no-op.
		return
	}
	if err != nil {
		t.settle(StatusFailed, result, backgroundErrorMessage(err, timeout))
		return
	}
	t.settle(StatusCompleted, result, "")
}

// backgroundErrorMessage rewords a timeout failure from toolexec's
// synchronous-call phrasing into the background task manager's own.
func backgroundErrorMessage(err error, timeout time.Duration) string {
	if toolErr, ok := tool.AsToolError(err); ok && toolErr.Type == tool.ErrorTimeout {
		return fmt.Sprintf("Background task timed out after %dms", timeout.Milliseconds())
	}
	return err.Error()
}

// GetStatus is a pure, non-suspending read of a task's current state.
func (m *Manager) GetStatus(id string) StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return StatusSnapshot{Found: false}
	}

	switch t.status {
	case StatusRunning:
		return StatusSnapshot{
			Found:     true,
			Status:    StatusRunning,
			Tool:      t.tool,
			ElapsedMs: time.Since(t.startedAt).Milliseconds(),
		}
	case StatusCompleted:
		res := t.result
		return StatusSnapshot{Found: true, Status: StatusCompleted, Tool: t.tool, Result: &res}
	default:
		return StatusSnapshot{Found: true, Status: StatusFailed, Tool: t.tool, Error: t.errMsg}
	}
}

// WaitFor blocks until id settles or timeout elapses, whichever comes
// first. A timeout never marks the task failed; it just returns the
// current (likely running) snapshot.
func (m *Manager) WaitFor(ctx context.Context, id string, timeout time.Duration) StatusSnapshot {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return StatusSnapshot{Found: false}
	}

	select {
	case <-t.settled:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return m.GetStatus(id)
}

// Stop cancels a running task and immediately marks it failed with
// StoppedByUser. It returns false if the task is absent or already
// settled. The underlying tool's cancellation is advisory: some tools
// may ignore ctx and keep running after Stop returns.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.status != StatusRunning {
		return false
	}

	t.cancel()
	t.settle(StatusFailed, tool.Result{}, StoppedByUser)
	return true
}

// Cleanup erases settled tasks older than maxAge. Running tasks are
// never erased.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	erased := 0
	for id, t := range m.tasks {
		if t.status == StatusRunning {
			continue
		}
		if now.Sub(t.completedAt) > maxAge {
			delete(m.tasks, id)
			erased++
		}
	}
	return erased
}

// detachCancel returns a context carrying ctx's values but not its
// cancellation, so a caller's request-scoped context going away doesn't
// kill a task meant to outlive the request that spawned it.
func detachCancel(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d detachedContext) Done() <-chan struct{}       { return nil }
func (d detachedContext) Err() error                  { return nil }
func (d detachedContext) Value(key any) any           { return d.parent.Value(key) }
