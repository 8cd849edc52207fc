// Package tool defines the narrow interface the Run Executor uses to
// invoke tool adapters. Concrete adapters (filesystem, shell, HTTP,
// browser, channels) are explicitly out of scope (spec section 1) —
// this package only defines the capability surface and a registry, the
// way the rest of the daemon sees tools.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/undoable/undoable/internal/actionlog"
)

// Tool is one capability the engine can invoke for a plan step. A Tool
// declares its action Category so the Approval Gate can evaluate it
// before execution, and whether its effects are reversible so the
// Executor knows whether to record UndoData.
type Tool interface {
	Name() string
	Category() actionlog.Category
	Reversible() bool
	// Call executes the tool with the step's opaque parameter bag and
	// returns an opaque result and/or undo data for a reversible
	// mutation. Call must not panic; tool failures are values, per
	// spec section 7 ("tool failures are values, not exceptions").
	Call(ctx context.Context, params map[string]any) (result any, undo *actionlog.UndoData, err error)
}

// Registry holds registered Tool capabilities by name. Modeled on the
// teacher's generic BaseRegistry (sync.RWMutex guarding a map), narrowed
// to the single concrete Tool interface this core needs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, failing on an empty name or a duplicate.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool: %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// DecodeParams decodes a step's opaque map[string]any parameter bag
// into a typed struct using mapstructure — the "dynamic-typed payload"
// design note in spec section 9 applied at the tool-invocation
// boundary.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return fmt.Errorf("tool: build decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("tool: decode params: %w", err)
	}
	return nil
}
