package tool

import (
	"context"

	"github.com/undoable/undoable/internal/actionlog"
)

// Noop is the tool the built-in planner.Static producer targets: a
// read-category, non-reversible step that records intent without
// touching anything. It keeps the daemon runnable end to end before a
// real tool adapter is wired in (spec section 1, "Tool adapters ...
// consumed only through narrow interfaces").
type Noop struct{}

func (Noop) Name() string                { return "noop" }
func (Noop) Category() actionlog.Category { return actionlog.CategoryRead }
func (Noop) Reversible() bool            { return false }

func (Noop) Call(ctx context.Context, params map[string]any) (any, *actionlog.UndoData, error) {
	return map[string]any{"ok": true}, nil, nil
}
