// Package swarm implements the Swarm Orchestrator (component C9): a
// DAG walker over SwarmWorkflow definitions that materialises nodes as
// Runs and drives downstream unlocking from run-status events (spec
// section 4.9).
package swarm

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Node is one unit of work in a workflow's DAG.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Schedule    *NodeSchedule  `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	AgentID     string         `json:"agentId,omitempty" yaml:"agentId,omitempty"`
	Instruction string         `json:"instruction" yaml:"instruction"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	JobID       string         `json:"jobId,omitempty" yaml:"jobId,omitempty"`
}

// NodeSchedule is a node's optional schedule. It is parsed and stored
// with the workflow only: the orchestrator does not read it, creates no
// Scheduler job for it, and launches a node with a schedule through the
// same DAG-readiness walk as any other node.
type NodeSchedule struct {
	Kind    string `json:"kind" yaml:"kind"`
	At      string `json:"at,omitempty" yaml:"at,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty" yaml:"everyMs,omitempty"`
	Cron    string `json:"cron,omitempty" yaml:"cron,omitempty"`
	TZ      string `json:"tz,omitempty" yaml:"tz,omitempty"`
}

// Edge is a directed dependency: To depends on From.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Workflow is a SwarmWorkflow definition (spec section 3). WorkflowStore
// holds it in memory only; it does not survive a daemon restart.
type Workflow struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// ParseWorkflowYAML decodes a SwarmWorkflow definition file, in the
// same YAML-config idiom the teacher uses for agent definitions.
func ParseWorkflowYAML(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("swarm: parse workflow yaml: %w", err)
	}
	if err := Validate(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks the node/edge invariants in spec section 3: unique
// node ids, edges reference known nodes, and the graph is acyclic.
func Validate(w *Workflow) error {
	if w == nil {
		return fmt.Errorf("swarm: nil workflow")
	}
	if len(w.Nodes) == 0 {
		return fmt.Errorf("swarm: workflow must have at least one node")
	}

	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("swarm: node has empty id")
		}
		if ids[n.ID] {
			return fmt.Errorf("swarm: duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}

	deps := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		if !ids[e.From] {
			return fmt.Errorf("swarm: edge references unknown node %q", e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("swarm: edge references unknown node %q", e.To)
		}
		deps[e.To] = append(deps[e.To], e.From)
	}

	return checkAcyclic(ids, deps)
}

func checkAcyclic(ids map[string]bool, deps map[string][]string) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(ids))
	for id := range ids {
		color[id] = white
	}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("swarm: dependency cycle detected at node %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependencies returns the node ids each node depends on.
func (w *Workflow) dependencies() map[string][]string {
	deps := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		deps[e.To] = append(deps[e.To], e.From)
	}
	return deps
}

// dependents returns the node ids that depend on each node.
func (w *Workflow) dependents() map[string][]string {
	out := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		out[e.From] = append(out[e.From], e.To)
	}
	return out
}

// NodeJobID returns the synthetic jobId a node's launched Run carries
// (spec section 4.9: "jobId = swarm-node-<nodeId>").
func NodeJobID(nodeID string) string { return "swarm-node-" + nodeID }
