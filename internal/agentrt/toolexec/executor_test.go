package toolexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/observability"
	"github.com/agentmesh/core/pkg/models"
)

type fnTool struct {
	name string
	fn   func(ctx context.Context, arguments map[string]any) (tool.Result, error)
}

func (f fnTool) Name() string           { return f.name }
func (f fnTool) Description() string    { return "" }
func (f fnTool) Category() string       { return "" }
func (f fnTool) Schema() map[string]any { return nil }
func (f fnTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	return f.fn(ctx, arguments)
}

type recordingSink struct {
	requested int
	completed int
	failed    int
	events    []models.ToolEvent
}

func (r *recordingSink) Emit(ctx context.Context, event models.ToolEvent) {
	r.events = append(r.events, event)
	switch event.Stage {
	case models.ToolEventRequested:
		r.requested++
	case models.ToolEventCompleted:
		r.completed++
	case models.ToolEventFailed:
		r.failed++
	}
}

func newRegistryWith(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	for _, tl := range tools {
		if err := r.Register(tl); err != nil {
			t.Fatalf("Register(%s): %v", tl.Name(), err)
		}
	}
	return r
}

func TestExecuteSuccess(t *testing.T) {
	registry := newRegistryWith(t, fnTool{name: "echo", fn: func(ctx context.Context, arguments map[string]any) (tool.Result, error) {
		return tool.Result{Content: "hi"}, nil
	}})
	sink := &recordingSink{}
	exec := New(registry, sink, nil)

	ctx := observability.AddTaskID(context.Background(), "main-agent")
	res, err := exec.Execute(ctx, "echo", nil, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hi" {
		t.Errorf("Content = %q, want hi", res.Content)
	}
	if sink.requested != 1 || sink.completed != 1 || sink.failed != 0 {
		t.Errorf("sink calls = %+v, want requested=1 completed=1 failed=0", sink)
	}
	for _, ev := range sink.events {
		if ev.ToolName != "echo" || ev.TaskID != "main-agent" {
			t.Errorf("event = %+v, want tool_name=echo task_id=main-agent", ev)
		}
	}

	stats, ok := registry.Stats("echo")
	if !ok || stats.Count != 1 || stats.Failures != 0 {
		t.Errorf("stats = %+v, ok=%v", stats, ok)
	}
}

func TestExecuteNotFound(t *testing.T) {
	registry := tool.NewRegistry()
	exec := New(registry, nil, nil)

	res, err := exec.Execute(context.Background(), "missing", nil, Options{})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !res.IsError {
		t.Error("expected IsError=true for unknown tool")
	}
	var toolErr *tool.Error
	if !errors.As(err, &toolErr) || toolErr.Type != tool.ErrorNotFound {
		t.Errorf("expected ErrorNotFound, got %+v", toolErr)
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"text"},
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}
	registry := newRegistryWith(t, schemaTool{name: "echo", schema: schema})

	exec := New(registry, nil, nil)
	res, err := exec.Execute(context.Background(), "echo", map[string]any{}, Options{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !res.IsError {
		t.Error("expected IsError=true")
	}
}

type schemaTool struct {
	name   string
	schema map[string]any
}

func (s schemaTool) Name() string           { return s.name }
func (s schemaTool) Description() string    { return "" }
func (s schemaTool) Category() string       { return "" }
func (s schemaTool) Schema() map[string]any { return s.schema }
func (s schemaTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	return tool.Result{Content: "ok"}, nil
}

func TestExecuteTimeout(t *testing.T) {
	registry := newRegistryWith(t, fnTool{name: "slow", fn: func(ctx context.Context, arguments map[string]any) (tool.Result, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return tool.Result{Content: "too late"}, nil
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		}
	}})
	sink := &recordingSink{}
	exec := New(registry, sink, nil)

	res, err := exec.Execute(context.Background(), "slow", nil, Options{Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !res.IsError {
		t.Error("expected IsError=true on timeout")
	}
	var toolErr *tool.Error
	if !errors.As(err, &toolErr) || toolErr.Type != tool.ErrorTimeout {
		t.Errorf("expected ErrorTimeout, got %+v", toolErr)
	}
	if sink.failed != 1 {
		t.Errorf("expected one failed sink call, got %d", sink.failed)
	}
}

func TestExecutePanicIsRecovered(t *testing.T) {
	registry := newRegistryWith(t, fnTool{name: "boom", fn: func(ctx context.Context, arguments map[string]any) (tool.Result, error) {
		panic("kaboom")
	}})
	exec := New(registry, nil, nil)

	res, err := exec.Execute(context.Background(), "boom", nil, Options{})
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if !res.IsError {
		t.Error("expected IsError=true")
	}
	var toolErr *tool.Error
	if !errors.As(err, &toolErr) || toolErr.Type != tool.ErrorPanic {
		t.Errorf("expected ErrorPanic, got %+v", toolErr)
	}
}

func TestEffectiveTimeoutCapsAtMax(t *testing.T) {
	e := New(tool.NewRegistry(), nil, nil)
	if got := e.effectiveTimeout(0); got != DefaultTimeout {
		t.Errorf("zero timeout = %v, want default %v", got, DefaultTimeout)
	}
	if got := e.effectiveTimeout(time.Hour); got != MaxToolTimeout {
		t.Errorf("oversized timeout = %v, want capped %v", got, MaxToolTimeout)
	}
}
