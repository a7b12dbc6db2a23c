package tool

import (
	"context"
	"strings"
	"testing"
)

type stubRemoteSource struct {
	calledServer string
	calledTool   string
	calledArgs   map[string]any
}

func (s *stubRemoteSource) CallRemoteTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (Result, error) {
	s.calledServer = serverID
	s.calledTool = toolName
	s.calledArgs = arguments
	return Result{Content: "remote ok"}, nil
}

func TestWrapRemoteToolsNamesAndDescribes(t *testing.T) {
	src := &stubRemoteSource{}
	tools := WrapRemoteTools("filesystem", []RemoteTool{
		{Name: "read_file", Description: "reads a file", Schema: map[string]any{"type": "object"}},
	}, src)

	if len(tools) != 1 {
		t.Fatalf("expected 1 wrapped tool, got %d", len(tools))
	}
	if got, want := tools[0].Name(), "filesystem__read_file"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if !strings.Contains(tools[0].Description(), "read_file") && !strings.Contains(tools[0].Description(), "reads a file") {
		t.Errorf("expected description to mention the remote tool, got %q", tools[0].Description())
	}
}

func TestWrapRemoteToolsExecuteDelegatesToSource(t *testing.T) {
	src := &stubRemoteSource{}
	tools := WrapRemoteTools("filesystem", []RemoteTool{{Name: "read_file"}}, src)

	args := map[string]any{"path": "/tmp/x"}
	res, err := tools[0].Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "remote ok" {
		t.Errorf("Content = %q, want %q", res.Content, "remote ok")
	}
	if src.calledServer != "filesystem" || src.calledTool != "read_file" {
		t.Errorf("expected delegate call to (filesystem, read_file), got (%s, %s)", src.calledServer, src.calledTool)
	}
}

func TestWrapRemoteToolsTwoServersDoNotCollide(t *testing.T) {
	src := &stubRemoteSource{}
	a := WrapRemoteTools("serverA", []RemoteTool{{Name: "search"}}, src)
	b := WrapRemoteTools("serverB", []RemoteTool{{Name: "search"}}, src)

	if a[0].Name() == b[0].Name() {
		t.Errorf("expected distinct names across servers, got %q for both", a[0].Name())
	}
}

func TestWrappedNameTruncatesWithHashSuffix(t *testing.T) {
	longServer := strings.Repeat("s", 100)
	name := wrappedName(longServer, "tool")
	if len(name) > MaxSafeNameLength {
		t.Errorf("wrapped name length %d exceeds max %d", len(name), MaxSafeNameLength)
	}
}

func TestSanitizeNameCollapsesAndLowercases(t *testing.T) {
	if got, want := sanitizeName("My Tool!!Name"), "my_tool_name"; got != want {
		t.Errorf("sanitizeName() = %q, want %q", got, want)
	}
	if got := sanitizeName("***"); got != "tool" {
		t.Errorf("sanitizeName of all-symbol input = %q, want fallback %q", got, "tool")
	}
}
