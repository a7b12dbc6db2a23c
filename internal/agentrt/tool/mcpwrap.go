package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// MaxSafeNameLength bounds the LLM-facing name of a wrapped remote tool.
const MaxSafeNameLength = 64

var safeNameRegex = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// sanitizeName reduces name to the alphanumeric-plus-underscore alphabet
// every LLM provider's tool-name field accepts.
func sanitizeName(name string) string {
	safe := safeNameRegex.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, "_")
	safe = strings.ToLower(safe)
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	if safe == "" {
		safe = "tool"
	}
	return safe
}

// wrappedName joins a server ID and a remote tool name into the
// "<server>__<tool>" namespace the pump presents to the LLM, truncating
// with a hash suffix if the combined name would exceed MaxSafeNameLength.
func wrappedName(serverID, toolName string) string {
	base := sanitizeName(serverID) + "__" + sanitizeName(toolName)
	if len(base) <= MaxSafeNameLength {
		return base
	}
	sum := sha256.Sum256([]byte(serverID + ":" + toolName))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	maxBase := MaxSafeNameLength - len(suffix)
	if maxBase < 0 {
		maxBase = 0
	}
	return base[:maxBase] + suffix
}

// RemoteTool is the shape an MCP server exposes for one of its tools,
// independent of the wire protocol used to fetch it.
type RemoteTool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// RemoteToolSource resolves a namespaced tool call back to the MCP server
// that owns it. The runtime that wires MCP servers (out of scope here)
// implements this against whatever client/transport it maintains.
type RemoteToolSource interface {
	CallRemoteTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (Result, error)
}

// mcpTool adapts one remote tool to the local Tool interface under its
// wrapped "<server>__<tool>" name.
type mcpTool struct {
	wrappedName string
	serverID    string
	remoteName  string
	description string
	schema      map[string]any
	source      RemoteToolSource
}

func (t *mcpTool) Name() string           { return t.wrappedName }
func (t *mcpTool) Description() string    { return t.description }
func (t *mcpTool) Category() string       { return "mcp" }
func (t *mcpTool) Schema() map[string]any { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, arguments map[string]any) (Result, error) {
	return t.source.CallRemoteTool(ctx, t.serverID, t.remoteName, arguments)
}

// WrapRemoteTools converts every tool a server advertises into a Tool the
// registry can hold, namespaced by server ID so identically named tools
// from two servers never collide.
func WrapRemoteTools(serverID string, tools []RemoteTool, source RemoteToolSource) []Tool {
	wrapped := make([]Tool, 0, len(tools))
	for _, rt := range tools {
		wrapped = append(wrapped, &mcpTool{
			wrappedName: wrappedName(serverID, rt.Name),
			serverID:    serverID,
			remoteName:  rt.Name,
			description: fmt.Sprintf("[%s] %s", serverID, rt.Description),
			schema:      rt.Schema,
			source:      source,
		})
	}
	return wrapped
}
