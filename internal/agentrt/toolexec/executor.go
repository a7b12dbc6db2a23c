// Package toolexec validates and runs a single tool call against a
// deadline, classifying failures and feeding call statistics back into
// the registry.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/observability"
	"github.com/agentmesh/core/pkg/models"
)

// MaxToolTimeout bounds every tool call regardless of what the caller
// requests.
const MaxToolTimeout = 10 * time.Minute

// DefaultTimeout is used when a call specifies no timeout.
const DefaultTimeout = 60 * time.Second

// Sink receives tool lifecycle events. A nil Sink is a valid no-op: the
// Main Agent's own executor runs without one.
type Sink interface {
	Emit(ctx context.Context, event models.ToolEvent)
}

// Options adjusts one call's execution.
type Options struct {
	// Timeout overrides DefaultTimeout; still capped at MaxToolTimeout.
	Timeout time.Duration
}

// Executor resolves and runs tool calls against a Registry.
type Executor struct {
	registry *tool.Registry
	sink     Sink
	logger   *observability.Logger
}

// New builds an Executor. sink and logger may be nil.
func New(registry *tool.Registry, sink Sink, logger *observability.Logger) *Executor {
	return &Executor{registry: registry, sink: sink, logger: logger}
}

func (e *Executor) effectiveTimeout(requested time.Duration) time.Duration {
	d := requested
	if d <= 0 {
		d = DefaultTimeout
	}
	if d > MaxToolTimeout {
		d = MaxToolTimeout
	}
	return d
}

// Execute resolves name via the registry, validates arguments against its
// declared schema, and runs it with a deadline. Every failure (unknown
// tool, invalid arguments, tool error, panic, timeout) is reported twice:
// as a Result with IsError set and as a non-nil *tool.Error return.
func (e *Executor) Execute(ctx context.Context, name string, arguments map[string]any, opts Options) (tool.Result, error) {
	started := time.Now()
	e.emit(ctx, models.ToolEvent{
		Stage:     models.ToolEventRequested,
		ToolName:  name,
		TaskID:    observability.GetTaskID(ctx),
		Input:     encodeArguments(arguments),
		StartedAt: started,
	})

	t, ok := e.registry.Get(name)
	if !ok {
		err := tool.NewError(name, fmt.Errorf("tool %q not found", name)).WithType(tool.ErrorNotFound)
		return tool.Result{Content: err.Error(), IsError: true}, err
	}

	if err := e.registry.Validate(name, arguments); err != nil {
		toolErr := tool.NewError(name, fmt.Errorf("parameter validation failed: %w", err)).WithType(tool.ErrorInvalidInput)
		return tool.Result{Content: toolErr.Error(), IsError: true}, toolErr
	}

	timeout := e.effectiveTimeout(opts.Timeout)
	result, err, duration := e.runWithDeadline(ctx, t, arguments, timeout)

	e.registry.RecordCall(name, duration, err != nil || result.IsError)

	event := models.ToolEvent{
		ToolName:   name,
		TaskID:     observability.GetTaskID(ctx),
		StartedAt:  started,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		event.Stage = models.ToolEventFailed
		event.Error = err.Error()
		e.emit(ctx, event)
		if e.logger != nil {
			e.logger.Warn(ctx, "tool execution failed", "tool", name, "error", err, "duration_ms", duration.Milliseconds())
		}
		return result, err
	}
	event.Stage = models.ToolEventCompleted
	event.Output = result.Content
	e.emit(ctx, event)
	return result, nil
}

func (e *Executor) emit(ctx context.Context, event models.ToolEvent) {
	if e.sink != nil {
		e.sink.Emit(ctx, event)
	}
}

func encodeArguments(arguments map[string]any) json.RawMessage {
	if len(arguments) == 0 {
		return nil
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil
	}
	return raw
}

// runWithDeadline races t.Execute against timeout, recovering a panic
// into a classified error instead of propagating it.
func (e *Executor) runWithDeadline(ctx context.Context, t tool.Tool, arguments map[string]any, timeout time.Duration) (tool.Result, error, time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result tool.Result
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: tool.NewError(t.Name(), fmt.Errorf("%v", r)).WithType(tool.ErrorPanic)}
			}
		}()
		res, err := t.Execute(callCtx, arguments)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		duration := time.Since(start)
		if o.err != nil {
			toolErr, ok := tool.AsToolError(o.err)
			if !ok {
				toolErr = tool.NewError(t.Name(), o.err)
			}
			return tool.Result{Content: toolErr.Error(), IsError: true}, toolErr, duration
		}
		return o.result, nil, duration
	case <-callCtx.Done():
		duration := time.Since(start)
		toolErr := tool.NewError(t.Name(), fmt.Errorf("tool execution timed out after %s", timeout)).WithType(tool.ErrorTimeout)
		return tool.Result{Content: toolErr.Error(), IsError: true}, toolErr, duration
	}
}
