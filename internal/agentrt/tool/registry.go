package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength bounds the length of a registered tool's name.
const MaxToolNameLength = 256

// ErrDuplicateTool is returned by Register when a tool with the same name
// is already registered.
var ErrDuplicateTool = errors.New("tool: duplicate name")

// ErrNotFound is returned when a named tool is not in the registry.
var ErrNotFound = errors.New("tool: not found")

// ErrNameTooLong is returned when a tool name exceeds MaxToolNameLength.
var ErrNameTooLong = errors.New("tool: name too long")

// CallStats accumulates call statistics for one tool.
type CallStats struct {
	Count         int64
	Failures      int64
	TotalDuration time.Duration
}

// AverageDuration returns the mean call duration, or zero if there have
// been no calls yet.
func (s CallStats) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

type entry struct {
	tool       Tool
	category   string
	schema     *jsonschema.Schema
	descriptor map[string]any
	stats      CallStats
}

// RegistryStats summarizes call activity across every registered tool:
// overall average duration plus a per-category count of how many
// registered tools fall into that category.
type RegistryStats struct {
	TotalCalls      int64
	TotalFailures   int64
	AverageDuration time.Duration
	CategoryCounts  map[string]int
}

// Registry holds the set of tools the executor can resolve calls against.
//
// Registration is all-or-nothing per call: Register fails outright on a
// duplicate name rather than silently replacing the existing tool, so a
// caller can never lose track of which implementation is live for a name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool to the registry. It fails with ErrDuplicateTool if
// a tool with the same name is already registered, and with
// ErrNameTooLong if the name exceeds MaxToolNameLength.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool: cannot register nil tool")
	}
	name := t.Name()
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("%w: %q (%d bytes)", ErrNameTooLong, name, len(name))
	}

	// An explicit schema is used verbatim; otherwise a parameter struct
	// is reflected into one. Either way the same document backs both
	// validation and the LLM descriptor.
	schemaDoc := t.Schema()
	if len(schemaDoc) == 0 {
		if pt, ok := t.(ParameterTool); ok {
			var err error
			schemaDoc, err = reflectSchema(pt.Parameters())
			if err != nil {
				return fmt.Errorf("tool %q: derive schema: %w", name, err)
			}
		}
	}

	schema, err := compileSchema(name, schemaDoc)
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	// LLM providers reject descriptors without a type=object shape, so a
	// tool that declared no schema at all still advertises an empty
	// object; validation stays permissive for it.
	descriptor := schemaDoc
	if len(descriptor) == 0 {
		descriptor = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}

	r.entries[name] = &entry{tool: t, category: t.Category(), schema: schema, descriptor: descriptor}
	r.order = append(r.order, name)
	return nil
}

// RegisterMany registers every tool or none: if any one fails, tools
// already registered by this call are rolled back.
func (r *Registry) RegisterMany(tools ...Tool) error {
	registered := make([]string, 0, len(tools))
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			for _, name := range registered {
				r.Unregister(name)
			}
			return err
		}
		registered = append(registered, t.Name())
	}
	return nil
}

// Unregister removes a tool from the registry. It is a no-op if the name
// is not registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// ListByCategory returns the subset of registered tools whose Category()
// equals cat, in registration order.
func (r *Registry) ListByCategory(cat string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, name := range r.order {
		e := r.entries[name]
		if e.category == cat {
			out = append(out, e.tool)
		}
	}
	return out
}

// Descriptors returns the LLM-facing tool descriptors, in registration
// order. A descriptor's Parameters is the tool's explicit schema when it
// supplied one, or the schema reflected from its parameter struct.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Descriptor{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.descriptor,
		})
	}
	return out
}

// Validate checks arguments against the named tool's declared schema.
func (r *Registry) Validate(name string, arguments map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.schema == nil {
		return nil
	}
	return e.schema.Validate(arguments)
}

// RecordCall updates call statistics for a tool after execution.
func (r *Registry) RecordCall(name string, duration time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.stats.Count++
	e.stats.TotalDuration += duration
	if failed {
		e.stats.Failures++
	}
}

// Stats returns the accumulated call statistics for a tool.
func (r *Registry) Stats(name string) (CallStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return CallStats{}, false
	}
	return e.stats, true
}

// AggregateStats rolls every tool's call stats up into one summary: total
// calls/failures, the average duration across all calls, and how many
// registered tools fall into each category.
func (r *Registry) AggregateStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := RegistryStats{CategoryCounts: make(map[string]int)}
	for _, name := range r.order {
		e := r.entries[name]
		out.CategoryCounts[e.category]++
		out.TotalCalls += e.stats.Count
		out.TotalFailures += e.stats.Failures
		out.AverageDuration += e.stats.TotalDuration
	}
	if out.TotalCalls > 0 {
		out.AverageDuration /= time.Duration(out.TotalCalls)
	}
	return out
}

// compileSchema compiles a tool's declared JSON Schema object. A nil or
// empty schema means "accept any arguments" and compiles to nil.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	// The resource URL must be hierarchical: an opaque one such as
	// "tool:<name>" does not resolve its own "#" root reference.
	return jsonschema.CompileString("file:///tools/"+url.PathEscape(name)+".json", string(raw))
}
