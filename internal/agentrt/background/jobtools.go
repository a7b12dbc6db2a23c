package background

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmesh/core/internal/agentrt/tool"
)

// jobIDParams is the argument struct shared by the status and cancel
// tools; the registry reflects it into their schema.
type jobIDParams struct {
	JobID string `json:"job_id" jsonschema:"description=Background task id as returned when the job was started"`
}

// StatusTool exposes GetStatus as an LLM-callable tool named "job_status".
type StatusTool struct {
	Manager *Manager
}

func (t *StatusTool) Name() string        { return "job_status" }
func (t *StatusTool) Description() string { return "Check the status of a background task by its job id." }
func (t *StatusTool) Category() string    { return "background" }
func (t *StatusTool) Schema() map[string]any { return nil }
func (t *StatusTool) Parameters() any        { return &jobIDParams{} }

func (t *StatusTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	id, _ := arguments["job_id"].(string)
	if id == "" {
		return tool.Result{Content: "job_id is required", IsError: true}, nil
	}

	snap := t.Manager.GetStatus(id)
	if !snap.Found {
		return tool.Result{Content: fmt.Sprintf("job %q not found", id), IsError: true}, nil
	}

	payload := map[string]any{"job_id": id, "status": string(snap.Status)}
	switch snap.Status {
	case StatusRunning:
		payload["elapsed_ms"] = snap.ElapsedMs
	case StatusCompleted:
		if snap.Result != nil {
			payload["result"] = snap.Result.Content
		}
	case StatusFailed:
		payload["error"] = snap.Error
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return tool.Result{Content: err.Error(), IsError: true}, err
	}
	return tool.Result{Content: string(body)}, nil
}

// CancelTool exposes Stop as an LLM-callable tool named "job_cancel".
type CancelTool struct {
	Manager *Manager
}

func (t *CancelTool) Name() string        { return "job_cancel" }
func (t *CancelTool) Description() string { return "Stop a running background task by its job id." }
func (t *CancelTool) Category() string    { return "background" }
func (t *CancelTool) Schema() map[string]any { return nil }
func (t *CancelTool) Parameters() any        { return &jobIDParams{} }

func (t *CancelTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	id, _ := arguments["job_id"].(string)
	if id == "" {
		return tool.Result{Content: "job_id is required", IsError: true}, nil
	}

	if !t.Manager.Stop(id) {
		return tool.Result{Content: fmt.Sprintf("job %q is not running", id), IsError: true}, nil
	}
	return tool.Result{Content: fmt.Sprintf("job %q stopped", id)}, nil
}

// ListTool reports every task the manager currently knows about, running
// or recently settled. It's a lighter-weight complement to job_status for
// callers that don't already have an id in hand.
type ListTool struct {
	Manager *Manager
}

func (t *ListTool) Name() string        { return "job_list" }
func (t *ListTool) Description() string { return "List known background tasks and their current status." }
func (t *ListTool) Category() string    { return "background" }
func (t *ListTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	t.Manager.mu.Lock()
	type row struct {
		ID        string `json:"id"`
		Tool      string `json:"tool"`
		Status    string `json:"status"`
		ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	}
	rows := make([]row, 0, len(t.Manager.tasks))
	now := time.Now()
	for id, tk := range t.Manager.tasks {
		r := row{ID: id, Tool: tk.tool, Status: string(tk.status)}
		if tk.status == StatusRunning {
			r.ElapsedMs = now.Sub(tk.startedAt).Milliseconds()
		}
		rows = append(rows, r)
	}
	t.Manager.mu.Unlock()

	body, err := json.Marshal(rows)
	if err != nil {
		return tool.Result{Content: err.Error(), IsError: true}, err
	}
	return tool.Result{Content: string(body)}, nil
}
