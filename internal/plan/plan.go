// Package plan defines the PlanGraph produced by an external
// PlanProducer (spec section 1, 3) and validates it before the Run
// Executor drives shadow execution.
package plan

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// CurrentSchemaVersion is the only PlanGraph schema version this core
// accepts (spec section 3).
const CurrentSchemaVersion = 1

// Step is one node in a plan's step DAG.
type Step struct {
	ID             string         `json:"id"`
	ToolName       string         `json:"toolName"`
	Intent         string         `json:"intent"`
	Params         map[string]any `json:"params,omitempty"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	Reversible     bool           `json:"reversible"`
	DependsOn      []string       `json:"dependsOn,omitempty"`
}

// Graph is a validated PlanGraph.
type Graph struct {
	SchemaVersion int    `json:"schemaVersion"`
	Instruction   string `json:"instruction"`
	AgentID       string `json:"agentId"`
	Steps         []Step `json:"steps"`
}

// PlanProducer is the external collaborator that turns an instruction
// into a PlanGraph (spec section 1: "consumed only through narrow
// interfaces").
type PlanProducer interface {
	Plan(instruction string, context map[string]any) (*Graph, error)
}

// StepParamsSchema returns the JSON Schema for a whole plan Step (id,
// tool name, parameter bag and the other Step fields), generated with
// invopop/jsonschema so a PlanProducer
// or API client has a machine-checkable shape to target (SPEC_FULL.md
// domain stack).
func StepParamsSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	return r.Reflect(&Step{})
}

// Validate checks the invariants in spec section 3: schema version,
// unique step ids, dependencies reference only preceding steps, and
// the dependency graph is acyclic. A PlanGraph that passes validation
// has no cycles and no forward dependencies (spec section 8, testable
// property 5).
func Validate(g *Graph) error {
	if g == nil {
		return fmt.Errorf("plan: nil graph")
	}
	if g.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("plan: unsupported schema version %d", g.SchemaVersion)
	}
	if g.Instruction == "" {
		return fmt.Errorf("plan: instruction is required")
	}
	if len(g.Steps) == 0 {
		return fmt.Errorf("plan: at least one step is required")
	}

	seen := make(map[string]int, len(g.Steps))
	for i, s := range g.Steps {
		if s.ID == "" {
			return fmt.Errorf("plan: step %d has empty id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("plan: duplicate step id %q", s.ID)
		}
		seen[s.ID] = i
	}

	for _, s := range g.Steps {
		idx := seen[s.ID]
		for _, dep := range s.DependsOn {
			depIdx, ok := seen[dep]
			if !ok {
				return fmt.Errorf("plan: step %q depends on unknown step %q", s.ID, dep)
			}
			if depIdx >= idx {
				return fmt.Errorf("plan: step %q depends on non-preceding step %q", s.ID, dep)
			}
		}
	}

	// Declaration order already guarantees dependencies precede
	// dependents, which rules out cycles by construction; an explicit
	// DFS check guards against callers who built Steps out of order.
	return checkAcyclic(g.Steps)
}

func checkAcyclic(steps []Step) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))
	byID := make(map[string]Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
		color[s.ID] = white
	}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return fmt.Errorf("plan: dependency cycle detected at step %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
