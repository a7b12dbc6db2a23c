package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	logger.Info(context.Background(), "token received", "payload", "api_key=sk-ant-"+strings.Repeat("a", 100))

	if strings.Contains(buf.String(), "sk-ant-") {
		t.Fatalf("expected secret to be redacted, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Fatalf("expected redaction marker in output, got: %s", buf.String())
	}
}

func TestLoggerIncludesContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	ctx := AddRunID(context.Background(), "run-1")
	ctx = AddToolCallID(ctx, "call-1")

	logger.Info(ctx, "tool completed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["run_id"] != "run-1" {
		t.Errorf("expected run_id=run-1, got %v", record["run_id"])
	}
	if record["tool_call_id"] != "call-1" {
		t.Errorf("expected tool_call_id=call-1, got %v", record["tool_call_id"])
	}
}

func TestLoggerDefaultsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	logger.Debug(context.Background(), "should not appear by default")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at default info level, got: %s", buf.String())
	}

	logger.Info(context.Background(), "should appear")
	if buf.Len() == 0 {
		t.Fatalf("expected info message to be logged")
	}
}
