package background

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/agentrt/toolexec"
)

func stubExecutorReturning(content string) stubExecutor {
	return stubExecutor{fn: func(ctx context.Context, name string, arguments map[string]any, opts toolexec.Options) (tool.Result, error) {
		return tool.Result{Content: content}, nil
	}}
}

func stubExecutorBlockingOn(release chan struct{}) stubExecutor {
	return stubExecutor{fn: func(ctx context.Context, name string, arguments map[string]any, opts toolexec.Options) (tool.Result, error) {
		select {
		case <-release:
			return tool.Result{Content: "too late"}, nil
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		}
	}}
}

func TestJobStatusToolRoundTrip(t *testing.T) {
	m := New(stubExecutorReturning("all done"))
	id := m.Run(context.Background(), "sleep", nil, time.Second)

	deadline := time.Now().Add(time.Second)
	for m.GetStatus(id).Status == StatusRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	statusTool := &StatusTool{Manager: m}
	res, err := statusTool.Execute(context.Background(), map[string]any{"job_id": id})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "completed") || !strings.Contains(res.Content, "all done") {
		t.Errorf("expected completed result in output, got %q", res.Content)
	}
}

func TestJobStatusToolMissingID(t *testing.T) {
	m := New(stubExecutorReturning("x"))
	statusTool := &StatusTool{Manager: m}
	res, _ := statusTool.Execute(context.Background(), map[string]any{})
	if !res.IsError {
		t.Error("expected error result for missing job_id")
	}
}

func TestJobCancelToolStopsRunningTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := New(stubExecutorBlockingOn(release))
	id := m.Run(context.Background(), "slow", nil, time.Minute)

	cancelTool := &CancelTool{Manager: m}
	res, err := cancelTool.Execute(context.Background(), map[string]any{"job_id": id})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Errorf("expected successful cancel, got error result: %q", res.Content)
	}

	snap := m.GetStatus(id)
	if snap.Status != StatusFailed || snap.Error != StoppedByUser {
		t.Fatalf("expected task stopped, got %+v", snap)
	}
}

func TestJobCancelToolUnknownID(t *testing.T) {
	m := New(stubExecutorReturning("x"))
	cancelTool := &CancelTool{Manager: m}
	res, _ := cancelTool.Execute(context.Background(), map[string]any{"job_id": "bg-nope"})
	if !res.IsError {
		t.Error("expected error result for unknown job_id")
	}
}

func TestJobToolSchemasDerivedFromParams(t *testing.T) {
	m := New(stubExecutorReturning("x"))
	r := tool.NewRegistry()
	if err := r.RegisterMany(&StatusTool{Manager: m}, &CancelTool{Manager: m}); err != nil {
		t.Fatalf("RegisterMany: %v", err)
	}

	for _, desc := range r.Descriptors() {
		props, ok := desc.Parameters["properties"].(map[string]any)
		if !ok {
			t.Fatalf("%s: derived schema has no properties: %v", desc.Name, desc.Parameters)
		}
		jobID, ok := props["job_id"].(map[string]any)
		if !ok {
			t.Fatalf("%s: job_id property missing: %v", desc.Name, props)
		}
		description, _ := jobID["description"].(string)
		if jobID["type"] != "string" || description == "" {
			t.Errorf("%s: job_id = %v, want a described string field", desc.Name, jobID)
		}
	}

	if err := r.Validate("job_status", map[string]any{}); err == nil {
		t.Error("expected job_status to require job_id")
	}
}

func TestJobListToolReportsKnownTasks(t *testing.T) {
	m := New(stubExecutorReturning("x"))
	id := m.Run(context.Background(), "quick", nil, time.Second)

	deadline := time.Now().Add(time.Second)
	for m.GetStatus(id).Status == StatusRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	listTool := &ListTool{Manager: m}
	res, err := listTool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, id) {
		t.Errorf("expected listing to mention %q, got %q", id, res.Content)
	}
}
