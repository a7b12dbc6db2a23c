package pump

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/agentmesh/core/internal/agentrt/background"
)

// ToolContext carries the capabilities a tool call executes with. The
// capability fields are permissions: a zero value means the capability is
// denied, not "use a default." AllowedPaths is the exception: an empty
// list means unrestricted (see PathAllowed).
type ToolContext struct {
	TaskID            string
	UserID            string
	AllowedPaths      []string
	MemoryDir         string
	SessionDir        string
	BackgroundManager *background.Manager
	ProjectManager    any
	ExtractModel      any
}

// PathAllowed reports whether path falls within AllowedPaths. An empty
// AllowedPaths means unrestricted; tools may still refuse on their own
// grounds. A path is allowed iff its cleaned form equals an allowed entry
// or begins with "<allowed>/".
func (c ToolContext) PathAllowed(path string) bool {
	if len(c.AllowedPaths) == 0 {
		return true
	}
	clean := filepath.Clean(path)
	for _, allowed := range c.AllowedPaths {
		allowed = filepath.Clean(allowed)
		if clean == allowed || strings.HasPrefix(clean, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

type toolContextKey struct{}

// WithToolContext attaches tc to ctx so a Tool's Execute can recover its
// own capabilities via ToolContextFromContext.
func WithToolContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// ToolContextFromContext recovers a ToolContext attached by WithToolContext.
func ToolContextFromContext(ctx context.Context) (ToolContext, bool) {
	tc, ok := ctx.Value(toolContextKey{}).(ToolContext)
	return tc, ok
}
