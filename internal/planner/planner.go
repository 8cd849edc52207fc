// Package planner supplies the daemon's built-in PlanProducer. Real
// PlanProducer implementations are LLM-backed and explicitly out of
// scope for this core (spec section 1, "LLM provider adapters"); this
// package exists so the daemon has something to drive end to end
// without one wired in, the same role the teacher's zero-config mode
// plays for its own LLM provider selection.
package planner

import (
	"github.com/google/uuid"

	"github.com/undoable/undoable/internal/plan"
)

// Static turns every instruction into a single no-op step, enough to
// exercise the full shadow/apply/undo machinery without a real
// planning backend. A daemon operator who wires in a PlanProducer
// adapter (out of process, per spec section 1) replaces this value.
type Static struct{}

func (Static) Plan(instruction string, context map[string]any) (*plan.Graph, error) {
	return &plan.Graph{
		SchemaVersion: plan.CurrentSchemaVersion,
		Instruction:   instruction,
		Steps: []plan.Step{
			{
				ID:         uuid.NewString(),
				ToolName:   "noop",
				Intent:     instruction,
				Reversible: false,
			},
		},
	}, nil
}

// Factory returns a PlanProducer for agentID. The built-in Static
// producer ignores agentID; a daemon that loads per-agent adapters
// would close over a registry here instead.
func Factory(agentID string) plan.PlanProducer {
	return Static{}
}
