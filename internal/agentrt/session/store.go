// Package session defines the append-only message log the Main Agent
// pump reads and writes, and an in-memory reference implementation.
// Durable backends implement Store; only the append/read contract the
// pump depends on is fixed here.
package session

import (
	"context"
	"sync"

	"github.com/agentmesh/core/pkg/models"
)

// Store is the append-only log the pump depends on. Key is an opaque
// per-conversation identifier (e.g. agent+channel+channelID); Append
// creates the session on first use.
type Store interface {
	// Append adds msg to key's history. Session ordering is append-only
	// and monotonic: Append never reorders or mutates prior entries.
	Append(ctx context.Context, key string, msg models.Message) error
	// History returns key's messages in append order, oldest first. If
	// limit > 0, only the most recent limit messages are returned. An
	// unknown key returns an empty slice, not an error.
	History(ctx context.Context, key string, limit int) ([]models.Message, error)
}

// MemoryStore is an in-memory Store. Reads and writes copy messages so a
// caller mutating its own Message value can never disturb the log.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]models.Message
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]models.Message)}
}

// Append adds a copy of msg to key's history.
func (s *MemoryStore) Append(ctx context.Context, key string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[key] = append(s.logs[key], cloneMessage(msg))
	return nil
}

// History returns a defensive copy of key's message history.
func (s *MemoryStore) History(ctx context.Context, key string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.logs[key]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]models.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func cloneMessage(msg models.Message) models.Message {
	clone := msg
	if msg.Metadata != nil {
		meta := make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		clone.Metadata = meta
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	return clone
}
