package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() *Graph {
	return &Graph{
		SchemaVersion: 1,
		Instruction:   "do things",
		Steps: []Step{
			{ID: "s1", ToolName: "shell"},
			{ID: "s2", ToolName: "fs", DependsOn: []string{"s1"}},
			{ID: "s3", ToolName: "fs"},
		},
	}
}

func TestValidateAcceptsGoodGraph(t *testing.T) {
	require.NoError(t, Validate(validGraph()))
}

func TestValidateRejectsWrongSchemaVersion(t *testing.T) {
	g := validGraph()
	g.SchemaVersion = 2
	require.Error(t, Validate(g))
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	g := validGraph()
	g.Steps = append(g.Steps, Step{ID: "s1", ToolName: "fs"})
	require.Error(t, Validate(g))
}

func TestValidateRejectsForwardDependency(t *testing.T) {
	g := &Graph{
		SchemaVersion: 1,
		Instruction:   "x",
		Steps: []Step{
			{ID: "s1", DependsOn: []string{"s2"}},
			{ID: "s2"},
		},
	}
	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-preceding")
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	g := &Graph{
		SchemaVersion: 1,
		Instruction:   "x",
		Steps: []Step{
			{ID: "s1", DependsOn: []string{"ghost"}},
		},
	}
	require.Error(t, Validate(g))
}

func TestValidateRejectsEmptySteps(t *testing.T) {
	g := &Graph{SchemaVersion: 1, Instruction: "x"}
	require.Error(t, Validate(g))
}
