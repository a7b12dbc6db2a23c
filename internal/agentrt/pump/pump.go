// Package pump implements the Main Agent message pump: a single-consumer
// FIFO queue that serializes inbound messages, background task results,
// and self-scheduled "think" steps into LLM turns, intercepting intent
// tool calls and delivering user-visible output exclusively through the
// reply callback.
package pump

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/core/internal/agentrt/background"
	"github.com/agentmesh/core/internal/agentrt/session"
	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/agentrt/toolexec"
	"github.com/agentmesh/core/internal/observability"
	"github.com/agentmesh/core/pkg/models"
)

// ItemKind tags a QueueItem's variant.
type ItemKind string

const (
	KindMessage    ItemKind = "message"
	KindTaskResult ItemKind = "task_result"
	KindThink      ItemKind = "think"
)

// ChannelRef identifies where a reply or notification should be delivered.
// The pump owns zero knowledge of channel transport; this is an opaque
// routing token a channel adapter interprets.
type ChannelRef struct {
	Type      string
	ChannelID string
	ReplyTo   string
}

// QueueItem is the tagged variant the pump's FIFO queue holds.
type QueueItem struct {
	Kind    ItemKind
	Channel ChannelRef

	// Text carries the inbound user text for a Kind=message item.
	Text string

	// TaskID, Success, Result, ErrorText carry a Kind=task_result item.
	TaskID    string
	Success   bool
	Result    string
	ErrorText string
}

// ReplyEvent is delivered to the callback registered via OnReply. Type is
// "reply" for the reply intent tool and "notify" for the notify intent
// tool; channel adapters may style the two differently.
type ReplyEvent struct {
	Type    string
	Text    string
	Level   string
	Channel ChannelRef
}

// TaskSpawner hands a description/input pair off to whatever owns Task
// Agents. The Task Agent cognitive loop itself is out of scope; the pump
// only needs to start one and learn its id.
type TaskSpawner interface {
	Spawn(ctx context.Context, description string, input map[string]any) (taskID string, err error)
}

const defaultSessionKey = "main-agent"

const defaultInnerMonologueContract = "Only the reply tool delivers text to the user. " +
	"Any other text you produce is private inner monologue and is never shown."

// Pump is the Main Agent message pump.
type Pump struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []QueueItem
	processing bool

	lastChannel  ChannelRef
	taskChannels map[string]ChannelRef

	sessions session.Store
	registry *tool.Registry
	executor *toolexec.Executor
	bg       *background.Manager
	llm      LLMClient
	spawner  TaskSpawner
	logger   *observability.Logger

	sessionKey   string
	memoryDir    string
	sessionDir   string
	systemPrompt func(ChannelRef) string

	replyMu sync.RWMutex
	onReply func(ReplyEvent)
}

// Option adjusts a Pump's construction.
type Option func(*Pump)

// WithLogger sets the pump's logger. A nil logger (the default) discards
// log output.
func WithLogger(logger *observability.Logger) Option {
	return func(p *Pump) { p.logger = logger }
}

// WithTaskSpawner wires the spawn_task/spawn_subagent intent tools to a
// Task Agent owner. Without one, spawn calls fail with an error result.
func WithTaskSpawner(s TaskSpawner) Option {
	return func(p *Pump) { p.spawner = s }
}

// WithSessionKey overrides the append-log key the pump reads and writes
// (default "main-agent").
func WithSessionKey(key string) Option {
	return func(p *Pump) { p.sessionKey = key }
}

// WithMemoryDir sets the memoryDir capability threaded into tool contexts
// built for the generic execute path.
func WithMemoryDir(dir string) Option {
	return func(p *Pump) { p.memoryDir = dir }
}

// WithSessionDir sets the sessionDir capability threaded into tool
// contexts built for the generic execute path.
func WithSessionDir(dir string) Option {
	return func(p *Pump) { p.sessionDir = dir }
}

// WithSystemPrompt overrides how the pump builds a think step's system
// prompt. Persona rendering and channel style guides are out of scope; fn
// receives only the destination channel. The inner-monologue contract is
// always appended regardless of fn's output.
func WithSystemPrompt(fn func(ChannelRef) string) Option {
	return func(p *Pump) { p.systemPrompt = fn }
}

// New builds a Pump. executor drives the generic tool-call path; bg backs
// BackgroundManager in tool contexts (may be nil if no tool needs it).
func New(sessions session.Store, registry *tool.Registry, executor *toolexec.Executor, bg *background.Manager, llm LLMClient, opts ...Option) *Pump {
	p := &Pump{
		sessions:     sessions,
		registry:     registry,
		executor:     executor,
		bg:           bg,
		llm:          llm,
		sessionKey:   defaultSessionKey,
		taskChannels: make(map[string]ChannelRef),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnReply registers the callback the pump uses to deliver user-visible
// output. Registered once; a later call replaces the prior callback.
func (p *Pump) OnReply(cb func(ReplyEvent)) {
	p.replyMu.Lock()
	defer p.replyMu.Unlock()
	p.onReply = cb
}

func (p *Pump) emitReply(ev ReplyEvent) {
	p.replyMu.RLock()
	cb := p.onReply
	p.replyMu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// PushMessage enqueues an inbound user message. Safe to call from any
// concurrent producer (channel adapter, HTTP handler, CLI reader).
func (p *Pump) PushMessage(channel ChannelRef, text string) {
	p.push(QueueItem{Kind: KindMessage, Channel: channel, Text: text})
}

// PushTaskResult enqueues a spawned task's completion. The channel it
// surfaces on is resolved from the taskChannels side table populated when
// spawn_task/spawn_subagent intercepted the original request, falling
// back to the channel of the most recently processed message.
func (p *Pump) PushTaskResult(taskID string, success bool, result, errText string) {
	p.mu.Lock()
	channel, ok := p.taskChannels[taskID]
	if ok {
		delete(p.taskChannels, taskID)
	} else {
		channel = p.lastChannel
	}
	p.mu.Unlock()

	p.push(QueueItem{Kind: KindTaskResult, Channel: channel, TaskID: taskID, Success: success, Result: result, ErrorText: errText})
}

// push appends item to the queue. If the consumer is idle it starts a
// fresh drain pass; otherwise the running drain will pick item up in its
// turn. The processing flag is the single-writer gate: at most one drain
// goroutine exists at a time.
func (p *Pump) push(item QueueItem) {
	p.mu.Lock()
	p.queue = append(p.queue, item)
	if p.processing {
		p.mu.Unlock()
		return
	}
	p.processing = true
	p.mu.Unlock()
	go p.drain()
}

func (p *Pump) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.processing = false
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.processItem(context.Background(), item)
	}
}

// WaitIdle blocks until the queue is empty and no think step is in
// flight. Production callers don't need this; it exists for
// deterministic tests against an otherwise asynchronous drain loop.
func (p *Pump) WaitIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.processing || len(p.queue) > 0 {
		p.cond.Wait()
	}
}

func (p *Pump) processItem(ctx context.Context, item QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logf(ctx, "pump: item processing panicked", "kind", item.Kind, "panic", r)
		}
	}()

	var err error
	switch item.Kind {
	case KindMessage:
		err = p.handleMessage(ctx, item)
	case KindTaskResult:
		err = p.handleTaskResult(ctx, item)
	case KindThink:
		err = p.handleThink(ctx, item)
	}

	if err == nil {
		return
	}
	p.logf(ctx, "pump: item processing failed", "kind", item.Kind, "error", err)
	if item.Kind == KindMessage {
		p.emitReply(ReplyEvent{Type: "reply", Text: apologyText, Channel: item.Channel})
	}
}

const apologyText = "Sorry, something went wrong handling that. Please try again."

func (p *Pump) handleMessage(ctx context.Context, item QueueItem) error {
	msg := models.Message{
		Role:      models.RoleUser,
		Content:   item.Text,
		Metadata:  map[string]any{"channel_type": item.Channel.Type, "channel_id": item.Channel.ChannelID},
		CreatedAt: time.Now(),
	}
	if err := p.sessions.Append(ctx, p.sessionKey, msg); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastChannel = item.Channel
	p.mu.Unlock()

	p.push(QueueItem{Kind: KindThink, Channel: item.Channel})
	return nil
}

func (p *Pump) handleTaskResult(ctx context.Context, item QueueItem) error {
	status := "completed"
	body := item.Result
	if !item.Success {
		status = "failed"
		body = item.ErrorText
	}
	msg := models.Message{
		Role:      models.RoleUser,
		Content:   fmt.Sprintf("[Task %s %s]\n%s", item.TaskID, status, body),
		Metadata:  map[string]any{"type": "task_result", "taskId": item.TaskID},
		CreatedAt: time.Now(),
	}
	if err := p.sessions.Append(ctx, p.sessionKey, msg); err != nil {
		return err
	}

	p.push(QueueItem{Kind: KindThink, Channel: item.Channel})
	return nil
}

func (p *Pump) appendToolResult(ctx context.Context, toolCallID, content string, isError bool) error {
	msg := models.Message{
		Role:        models.RoleTool,
		Content:     content,
		ToolResults: []models.ToolResult{{ToolCallID: toolCallID, Content: content, IsError: isError}},
		CreatedAt:   time.Now(),
	}
	return p.sessions.Append(ctx, p.sessionKey, msg)
}

func (p *Pump) buildSystemPrompt(channel ChannelRef) string {
	base := defaultInnerMonologueContract
	if p.systemPrompt != nil {
		if extra := p.systemPrompt(channel); extra != "" {
			return extra + "\n\n" + defaultInnerMonologueContract
		}
	}
	return base
}

func (p *Pump) descriptors() []CompletionToolDescriptor {
	descs := p.registry.Descriptors()
	out := make([]CompletionToolDescriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, CompletionToolDescriptor{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func (p *Pump) logf(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(ctx, msg, args...)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

func toModelToolCalls(calls []CompletionToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		raw, err := json.Marshal(c.Arguments)
		if err != nil {
			raw = json.RawMessage("{}")
		}
		out = append(out, models.ToolCall{ID: c.ID, Name: c.Name, Input: raw})
	}
	return out
}
