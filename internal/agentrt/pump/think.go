package pump

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmesh/core/internal/agentrt/toolexec"
	"github.com/agentmesh/core/internal/observability"
	"github.com/agentmesh/core/pkg/models"
)

// handleThink drives exactly one LLM turn. It never loops: tool-call
// results cascade by re-queuing a new think item rather than calling the
// model again here, which keeps the queue the serialization point and
// lets external events interleave between turns.
func (p *Pump) handleThink(ctx context.Context, item QueueItem) error {
	history, err := p.sessions.History(ctx, p.sessionKey, 0)
	if err != nil {
		return err
	}

	req := CompletionRequest{
		SystemPrompt: p.buildSystemPrompt(item.Channel),
		Messages:     history,
		Tools:        p.descriptors(),
	}
	result, err := p.llm.Complete(ctx, req)
	if err != nil {
		return err
	}

	if len(result.ToolCalls) == 0 {
		if result.Text != "" {
			return p.sessions.Append(ctx, p.sessionKey, models.Message{
				Role:      models.RoleAssistant,
				Content:   result.Text,
				CreatedAt: time.Now(),
			})
		}
		return nil
	}

	assistantMsg := models.Message{
		Role:      models.RoleAssistant,
		Content:   result.Text,
		ToolCalls: toModelToolCalls(result.ToolCalls),
		CreatedAt: time.Now(),
	}
	if err := p.sessions.Append(ctx, p.sessionKey, assistantMsg); err != nil {
		return err
	}

	for _, call := range result.ToolCalls {
		if err := p.dispatchToolCall(ctx, item.Channel, call); err != nil {
			p.logf(ctx, "pump: tool result append failed", "tool", call.Name, "error", err)
		}
	}

	p.push(QueueItem{Kind: KindThink, Channel: item.Channel})
	return nil
}

// dispatchToolCall routes one tool call either to an intercepted intent
// tool or to the generic executor path, appending its tool-result
// message in every case.
func (p *Pump) dispatchToolCall(ctx context.Context, channel ChannelRef, call CompletionToolCall) error {
	switch call.Name {
	case "reply":
		text := stringArg(call.Arguments, "text")
		if err := p.appendToolResult(ctx, call.ID, `{"delivered":true}`, false); err != nil {
			return err
		}
		p.emitReply(ReplyEvent{Type: "reply", Text: text, Channel: channel})
		return nil

	case "notify":
		text := stringArg(call.Arguments, "text")
		level := stringArg(call.Arguments, "level")
		if err := p.appendToolResult(ctx, call.ID, `{"delivered":true}`, false); err != nil {
			return err
		}
		p.emitReply(ReplyEvent{Type: "notify", Text: text, Level: level, Channel: channel})
		return nil

	case "spawn_task", "spawn_subagent":
		return p.dispatchSpawn(ctx, channel, call)

	case "use_skill", "session_archive_read":
		body, _ := json.Marshal(map[string]any{"action": call.Name})
		return p.appendToolResult(ctx, call.ID, string(body), false)

	default:
		return p.dispatchGeneric(ctx, call)
	}
}

func (p *Pump) dispatchSpawn(ctx context.Context, channel ChannelRef, call CompletionToolCall) error {
	if p.spawner == nil {
		return p.appendToolResult(ctx, call.ID, "Error: no task spawner configured", true)
	}

	description := stringArg(call.Arguments, "description")
	input := mapArg(call.Arguments, "input")

	taskID, err := p.spawner.Spawn(ctx, description, input)
	if err != nil {
		return p.appendToolResult(ctx, call.ID, "Error: "+err.Error(), true)
	}

	p.mu.Lock()
	p.taskChannels[taskID] = channel
	p.mu.Unlock()

	body, _ := json.Marshal(map[string]any{"taskId": taskID, "status": "spawned"})
	return p.appendToolResult(ctx, call.ID, string(body), false)
}

func (p *Pump) dispatchGeneric(ctx context.Context, call CompletionToolCall) error {
	toolCtx := ToolContext{
		TaskID:            "main-agent",
		MemoryDir:         p.memoryDir,
		SessionDir:        p.sessionDir,
		BackgroundManager: p.bg,
	}
	execCtx := observability.AddTaskID(WithToolContext(ctx, toolCtx), toolCtx.TaskID)

	result, err := p.executor.Execute(execCtx, call.Name, call.Arguments, toolexec.Options{})
	if err != nil {
		return p.appendToolResult(ctx, call.ID, fmt.Sprintf("Error: %s", err), true)
	}
	if result.IsError {
		return p.appendToolResult(ctx, call.ID, fmt.Sprintf("Error: %s", result.Content), true)
	}
	return p.appendToolResult(ctx, call.ID, result.Content, false)
}
