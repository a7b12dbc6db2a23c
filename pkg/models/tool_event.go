package models

import (
	"encoding/json"
	"time"
)

// ToolEventStage is the lifecycle stage of one tool invocation.
type ToolEventStage string

const (
	ToolEventRequested ToolEventStage = "tool_call_requested"
	ToolEventCompleted ToolEventStage = "tool_call_completed"
	ToolEventFailed    ToolEventStage = "tool_call_failed"
)

// ToolEvent is the lifecycle event the executor emits to its sink. Every
// event carries the tool name and the id of the task the call executed
// under; Output and Error are filled only for the terminal stages.
type ToolEvent struct {
	Stage      ToolEventStage  `json:"stage"`
	ToolName   string          `json:"tool_name"`
	TaskID     string          `json:"task_id,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}
