// Command agentrtd wires the runtime packages together into a minimal
// runnable demo: a line-oriented CLI channel feeding the Main Agent pump.
// It substitutes a tiny scripted LLMClient for a real provider, just
// enough to exercise the think/dispatch/reply wiring end to end.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/agentmesh/core/internal/agentrt/background"
	"github.com/agentmesh/core/internal/agentrt/pump"
	"github.com/agentmesh/core/internal/agentrt/session"
	"github.com/agentmesh/core/internal/agentrt/tool"
	"github.com/agentmesh/core/internal/agentrt/toolexec"
	"github.com/agentmesh/core/internal/observability"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := observability.NewLogger(observability.LogConfig{Level: *logLevel})

	registry := tool.NewRegistry()
	if err := registry.RegisterMany(&echoTool{}); err != nil {
		fmt.Fprintln(os.Stderr, "register tools:", err)
		os.Exit(1)
	}

	executor := toolexec.New(registry, nil, logger)
	bg := background.New(executor)
	if err := registry.RegisterMany(
		&background.StatusTool{Manager: bg},
		&background.CancelTool{Manager: bg},
		&background.ListTool{Manager: bg},
	); err != nil {
		fmt.Fprintln(os.Stderr, "register job tools:", err)
		os.Exit(1)
	}

	sessions := session.NewMemoryStore()
	p := pump.New(sessions, registry, executor, bg, &echoLLM{}, pump.WithLogger(logger))
	p.OnReply(func(ev pump.ReplyEvent) {
		switch ev.Type {
		case "notify":
			fmt.Printf("[notify:%s] %s\n", ev.Level, ev.Text)
		default:
			fmt.Println(ev.Text)
		}
	})

	channel := pump.ChannelRef{Type: "cli", ChannelID: "main"}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "agentrtd: type a message and press enter (Ctrl-D to exit)")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		p.PushMessage(channel, text)
	}
	p.WaitIdle()
}

// echoLLM is a placeholder LLMClient: when the newest session message is
// from the user, the think step replies with it verbatim via the reply
// intent tool; any other think step gets an empty result. Real provider
// wiring lives outside this module.
type echoLLM struct{}

func (echoLLM) Complete(ctx context.Context, req pump.CompletionRequest) (pump.CompletionResult, error) {
	if len(req.Messages) == 0 {
		return pump.CompletionResult{}, nil
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return pump.CompletionResult{}, nil
	}
	return pump.CompletionResult{
		ToolCalls: []pump.CompletionToolCall{
			{ID: "demo-1", Name: "reply", Arguments: map[string]any{"text": last.Content}},
		},
	}, nil
}

type echoTool struct{}

type echoParams struct {
	Value string `json:"value" jsonschema:"description=Text to echo back"`
}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "Echoes its value argument back." }
func (echoTool) Category() string        { return "demo" }
func (echoTool) Schema() map[string]any  { return nil }
func (echoTool) Parameters() any         { return &echoParams{} }

func (echoTool) Execute(ctx context.Context, arguments map[string]any) (tool.Result, error) {
	v, _ := arguments["value"].(string)
	return tool.Result{Content: v}, nil
}
