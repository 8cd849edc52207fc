package swarm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/run"
)

func TestValidateRejectsCycle(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{{ID: "a", Enabled: true}, {ID: "b", Enabled: true}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	err := Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsUnknownEdgeNode(t *testing.T) {
	w := &Workflow{Nodes: []Node{{ID: "a", Enabled: true}}, Edges: []Edge{{From: "a", To: "missing"}}}
	require.Error(t, Validate(w))
}

func TestParseWorkflowYAML(t *testing.T) {
	data := []byte(`
id: wf1
name: demo
nodes:
  - id: a
    enabled: true
    instruction: do a
  - id: b
    enabled: true
    instruction: do b
edges:
  - from: a
    to: b
`)
	w, err := ParseWorkflowYAML(data)
	require.NoError(t, err)
	assert.Equal(t, "wf1", w.ID)
	assert.Len(t, w.Nodes, 2)
}

// fakeLauncher creates an in-memory run.Manager run per node and lets
// the test drive its completion by publishing status_change events.
type fakeLauncher struct {
	runs *run.Manager
}

func (f *fakeLauncher) Launch(ctx context.Context, instruction, agentID, jobID string) (string, error) {
	r, err := f.runs.Create(run.Spec{Instruction: instruction, AgentID: agentID, JobID: jobID})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func newHarness(t *testing.T) (*eventbus.Bus, *run.Manager, *fakeLauncher) {
	t.Helper()
	bus := eventbus.New()
	mgr, err := run.New(bus, run.BackendOff, "")
	require.NoError(t, err)
	return bus, mgr, &fakeLauncher{runs: mgr}
}

func finishRun(t *testing.T, mgr *run.Manager, runID string, success bool) {
	t.Helper()
	target := run.StatusCompleted
	if !success {
		target = run.StatusFailed
	}
	_, err := mgr.UpdateStatus(runID, run.StatusPlanning, "test")
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(runID, run.StatusPlanned, "test")
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(runID, run.StatusShadowing, "test")
	require.NoError(t, err)
	if !success {
		_, err = mgr.UpdateStatus(runID, target, "test")
		require.NoError(t, err)
		return
	}
	_, err = mgr.UpdateStatus(runID, run.StatusShadowed, "test")
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(runID, run.StatusApplying, "test")
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(runID, run.StatusApplied, "test")
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(runID, run.StatusCompleted, "test")
	require.NoError(t, err)
}

func waitForStatus(t *testing.T, orch *Orchestrator, id string, want string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := orch.Get(id)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orchestration %s did not reach status %s in time", id, want)
	return nil
}

func TestOrchestratorLinearChainCompletes(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	store := NewWorkflowStore()
	wf, err := store.Create(Workflow{
		ID:   uuid.NewString(),
		Name: "chain",
		Nodes: []Node{
			{ID: "a", Enabled: true, Instruction: "a"},
			{ID: "b", Enabled: true, Instruction: "b"},
		},
		Edges: []Edge{{From: "a", To: "b"}},
	})
	require.NoError(t, err)

	orch := New(store, mgr, launcher, bus, nil)
	res, err := orch.Start(context.Background(), wf.ID, Options{MaxParallel: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, res.Launched)

	snap, _ := orch.Get(res.OrchestrationID)
	aRunID := snap.LaunchedRuns["a"]
	require.NotEmpty(t, aRunID)
	finishRun(t, mgr, aRunID, true)

	var bRunID string
	deadline := time.Now().Add(2 * time.Second)
	for bRunID == "" && time.Now().Before(deadline) {
		snap, _ = orch.Get(res.OrchestrationID)
		bRunID = snap.LaunchedRuns["b"]
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, bRunID, "b launches once a completes")
	finishRun(t, mgr, bRunID, true)

	waitForStatus(t, orch, res.OrchestrationID, "completed")
	final, _ := orch.Get(res.OrchestrationID)
	assert.Equal(t, "completed", final.NodeStatus["a"])
	assert.Equal(t, "completed", final.NodeStatus["b"])
}

func TestOrchestratorSkipsDisabledNode(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	store := NewWorkflowStore()
	wf, err := store.Create(Workflow{
		ID: uuid.NewString(),
		Nodes: []Node{
			{ID: "a", Enabled: false, Instruction: "a"},
		},
	})
	require.NoError(t, err)

	orch := New(store, mgr, launcher, bus, nil)
	res, err := orch.Start(context.Background(), wf.ID, Options{})
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "node is disabled", res.Skipped[0].Reason)

	waitForStatus(t, orch, res.OrchestrationID, "completed")
}

func TestOrchestratorFailFastBlocksDescendants(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	store := NewWorkflowStore()
	wf, err := store.Create(Workflow{
		ID: uuid.NewString(),
		Nodes: []Node{
			{ID: "a", Enabled: true, Instruction: "a"},
			{ID: "b", Enabled: true, Instruction: "b"},
		},
		Edges: []Edge{{From: "a", To: "b"}},
	})
	require.NoError(t, err)

	orch := New(store, mgr, launcher, bus, nil)
	res, err := orch.Start(context.Background(), wf.ID, Options{FailFast: true})
	require.NoError(t, err)

	snap, _ := orch.Get(res.OrchestrationID)
	finishRun(t, mgr, snap.LaunchedRuns["a"], false)

	waitForStatus(t, orch, res.OrchestrationID, "failed")
	final, _ := orch.Get(res.OrchestrationID)
	assert.Equal(t, "failed", final.NodeStatus["a"])
	assert.Equal(t, "blocked", final.NodeStatus["b"])
}

func TestOrchestratorMaxParallelCapsInitialWave(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	store := NewWorkflowStore()
	nodes := make([]Node, 0, 4)
	for i := 0; i < 4; i++ {
		nodes = append(nodes, Node{ID: fmt.Sprintf("n%d", i), Enabled: true, Instruction: "x"})
	}
	wf, err := store.Create(Workflow{ID: uuid.NewString(), Nodes: nodes})
	require.NoError(t, err)

	orch := New(store, mgr, launcher, bus, nil)
	res, err := orch.Start(context.Background(), wf.ID, Options{MaxParallel: 2})
	require.NoError(t, err)
	assert.Len(t, res.Launched, 2)
	assert.Len(t, res.PendingNodes, 2)
}

func TestOrchestratorRejectsConcurrentActiveNode(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	store := NewWorkflowStore()
	wf, err := store.Create(Workflow{ID: uuid.NewString(), Nodes: []Node{{ID: "a", Enabled: true, Instruction: "a"}}})
	require.NoError(t, err)

	// Pre-seed an active run carrying the node's synthetic jobId.
	_, err = mgr.Create(run.Spec{Instruction: "prior", JobID: NodeJobID("a")})
	require.NoError(t, err)

	orch := New(store, mgr, launcher, bus, nil)
	res, err := orch.Start(context.Background(), wf.ID, Options{AllowConcurrent: false})
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "node already has an active run", res.Skipped[0].Reason)
}

func TestOrchestratorGetUnknownID(t *testing.T) {
	bus, mgr, launcher := newHarness(t)
	orch := New(NewWorkflowStore(), mgr, launcher, bus, nil)
	_, err := orch.Get("nope")
	assert.Error(t, err)
}
