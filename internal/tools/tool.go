// Package tools implements the named external capabilities behind the
// uniform dispatch contract consumed by the consultation service.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"derm-kiosk-agent/internal/consultation"
)

// Tool is one registered capability. Spec() is what gets declared to the
// completion provider; Invoke decodes the raw arguments into the tool's own
// typed args struct before doing any work.
type Tool interface {
	Name() string
	Spec() consultation.ToolSpec
	Invoke(ctx context.Context, args json.RawMessage) consultation.ToolResult
}

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Invoke dispatches a call by name. An unknown name is a failed result, not
// an error; the turn keeps going either way.
func (r *Registry) Invoke(ctx context.Context, call consultation.ToolCall) consultation.ToolResult {
	t, ok := r.Get(call.Name)
	if !ok {
		return failure(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	return t.Invoke(ctx, call.Args)
}

// Specs returns the declarations for every registered tool, sorted by name
// so the provider sees a stable ordering.
func (r *Registry) Specs() []consultation.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]consultation.ToolSpec, 0, len(r.byName))
	for _, t := range r.byName {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

var _ consultation.ToolInvoker = (*Registry)(nil)

func failure(msg string) consultation.ToolResult {
	return consultation.ToolResult{Success: false, Err: msg}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
