package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/run"
)

// RunLauncher is the narrow interface the orchestrator uses to
// materialise a node as a Run and hand it to the executor (spec
// section 4.9: "launches node-runs ... using C6").
type RunLauncher interface {
	Launch(ctx context.Context, instruction, agentID, jobID string) (runID string, err error)
}

// Options controls one orchestration start (spec section 4.9).
type Options struct {
	AllowConcurrent bool
	MaxParallel     int
	FailFast        bool
}

func (o Options) normalized() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 2
	}
	return o
}

// StartResult is the synchronous portion of starting an orchestration:
// what got launched or skipped in the first ready-set pass, and which
// nodes are still waiting on dependencies.
type StartResult struct {
	OrchestrationID string
	Launched        []string
	Skipped         []SkipInfo
	PendingNodes    []string
}

// SkipInfo records why a node didn't launch.
type SkipInfo struct {
	NodeID string
	Reason string
}

// Snapshot is the query-able state of one orchestration (spec section
// 4.9, "Observability").
type Snapshot struct {
	ID           string
	WorkflowID   string
	Status       string // running | completed | failed
	NodeStatus   map[string]string
	LaunchedRuns map[string]string
	SkipReasons  map[string]string
	PendingNodes []string
}

// Orchestrator is the Swarm Orchestrator (component C9).
type Orchestrator struct {
	workflows *WorkflowStore
	runs      *run.Manager
	launcher  RunLauncher
	bus       *eventbus.Bus
	logger    *slog.Logger

	mu    sync.RWMutex
	orchs map[string]*orchestration
}

// New creates an Orchestrator over the given workflow store, run
// manager (for the active-run check), launcher, and event bus.
func New(workflows *WorkflowStore, runs *run.Manager, launcher RunLauncher, bus *eventbus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		workflows: workflows, runs: runs, launcher: launcher, bus: bus, logger: logger,
		orchs: make(map[string]*orchestration),
	}
}

// Start begins a new orchestration of workflowID, launching the
// initial ready set and returning immediately; subsequent waves are
// driven asynchronously off run-status events.
func (o *Orchestrator) Start(ctx context.Context, workflowID string, opts Options) (*StartResult, error) {
	wf, err := o.workflows.Get(workflowID)
	if err != nil {
		return nil, err
	}
	opts = opts.normalized()

	orch := newOrchestration(uuid.NewString(), wf, opts, o.runs, o.launcher, o.bus, o.logger)

	o.mu.Lock()
	o.orchs[orch.id] = orch
	o.mu.Unlock()

	launched, skipped := orch.evaluateAndLaunch(ctx)

	return &StartResult{
		OrchestrationID: orch.id,
		Launched:        launched,
		Skipped:         skipped,
		PendingNodes:    orch.pendingNodeIDs(),
	}, nil
}

// Get returns the current snapshot of an orchestration by id.
func (o *Orchestrator) Get(id string) (*Snapshot, error) {
	o.mu.RLock()
	orch, ok := o.orchs[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("swarm: orchestration %s not found", id)
	}
	return orch.snapshot(), nil
}

// orchestration is the mutable runtime state of one workflow run.
type orchestration struct {
	id         string
	workflowID string
	workflow   *Workflow
	opts       Options
	runs       *run.Manager
	launcher   RunLauncher
	bus        *eventbus.Bus
	logger     *slog.Logger

	deps       map[string][]string
	dependents map[string][]string

	mu            sync.Mutex
	status        string
	nodeStatus    map[string]string
	remainingDeps map[string]int
	failedDeps    map[string][]string
	runIDs        map[string]string
	skipReasons   map[string]string
}

func newOrchestration(id string, wf *Workflow, opts Options, runs *run.Manager, launcher RunLauncher, bus *eventbus.Bus, logger *slog.Logger) *orchestration {
	o := &orchestration{
		id: id, workflowID: wf.ID, workflow: wf, opts: opts,
		runs: runs, launcher: launcher, bus: bus, logger: logger,
		deps: wf.dependencies(), dependents: wf.dependents(),
		status: "running", nodeStatus: make(map[string]string, len(wf.Nodes)),
		remainingDeps: make(map[string]int, len(wf.Nodes)),
		failedDeps:    make(map[string][]string),
		runIDs:        make(map[string]string),
		skipReasons:   make(map[string]string),
	}
	for _, n := range wf.Nodes {
		o.nodeStatus[n.ID] = "pending"
		o.remainingDeps[n.ID] = len(o.deps[n.ID])
	}
	return o
}

func (o *orchestration) nodeByID(id string) *Node {
	for i := range o.workflow.Nodes {
		if o.workflow.Nodes[i].ID == id {
			return &o.workflow.Nodes[i]
		}
	}
	return nil
}

// evaluateAndLaunch computes the ready set (skipping disabled/active
// nodes in place), launches up to MaxParallel of them concurrently via
// an errgroup, and returns what happened this pass.
func (o *orchestration) evaluateAndLaunch(ctx context.Context) ([]string, []SkipInfo) {
	o.mu.Lock()
	var skipped []SkipInfo
	for _, n := range o.workflow.Nodes {
		if o.nodeStatus[n.ID] != "pending" || o.remainingDeps[n.ID] > 0 {
			continue
		}
		if reasons := o.failedDeps[n.ID]; len(reasons) > 0 {
			reason := fmt.Sprintf("dependency %q failed", reasons[0])
			o.resolveLocked(n.ID, "skipped", reason)
			skipped = append(skipped, SkipInfo{NodeID: n.ID, Reason: reason})
			continue
		}
		if !n.Enabled {
			o.resolveLocked(n.ID, "skipped", "node is disabled")
			skipped = append(skipped, SkipInfo{NodeID: n.ID, Reason: "node is disabled"})
			continue
		}
		if !o.opts.AllowConcurrent && o.hasActiveRun(n.ID) {
			o.resolveLocked(n.ID, "skipped", "node already has an active run")
			skipped = append(skipped, SkipInfo{NodeID: n.ID, Reason: "node already has an active run"})
			continue
		}
		o.nodeStatus[n.ID] = "ready"
	}

	running := 0
	var candidates []string
	for _, st := range o.nodeStatus {
		if st == "running" {
			running++
		}
	}
	for _, n := range o.workflow.Nodes {
		if o.nodeStatus[n.ID] == "ready" {
			candidates = append(candidates, n.ID)
		}
	}
	slots := o.opts.MaxParallel - running
	if slots < 0 {
		slots = 0
	}
	deferred := candidates
	if len(candidates) > slots {
		deferred = candidates[slots:]
		candidates = candidates[:slots]
	} else {
		deferred = nil
	}
	for _, id := range candidates {
		o.nodeStatus[id] = "running"
	}
	for _, id := range deferred {
		// Ready but over the MaxParallel cap this pass: revert to
		// pending so the next evaluateAndLaunch pass reconsiders it.
		o.nodeStatus[id] = "pending"
	}
	o.mu.Unlock()

	if len(candidates) == 0 {
		o.checkDone()
		return nil, skipped
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxParallel)
	var launchedMu sync.Mutex
	var launched []string
	for _, id := range candidates {
		id := id
		g.Go(func() error {
			if err := o.launchNode(gctx, id); err != nil {
				o.logger.Error("swarm: launch node failed", "node", id, "error", err)
				return nil
			}
			launchedMu.Lock()
			launched = append(launched, id)
			launchedMu.Unlock()
			return nil
		})
	}
	g.Wait()

	o.checkDone()
	return launched, skipped
}

func (o *orchestration) hasActiveRun(nodeID string) bool {
	if o.runs == nil {
		return false
	}
	for _, r := range o.runs.ListByJobID(NodeJobID(nodeID)) {
		if !r.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func (o *orchestration) launchNode(ctx context.Context, nodeID string) error {
	n := o.nodeByID(nodeID)
	if n == nil || o.launcher == nil {
		return fmt.Errorf("swarm: no launcher configured for node %s", nodeID)
	}
	runID, err := o.launcher.Launch(ctx, n.Instruction, n.AgentID, NodeJobID(nodeID))
	if err != nil {
		o.onNodeResult(ctx, nodeID, "failed")
		return err
	}

	// The watcher outlives ctx (an errgroup context cancelled once the
	// launching wave's Wait returns), and subscribes before the run id
	// becomes visible so no status change is missed.
	watchCtx := context.WithoutCancel(ctx)
	sub := o.bus.Subscribe(watchCtx, eventbus.TopicForRun(runID))

	o.mu.Lock()
	o.runIDs[nodeID] = runID
	o.mu.Unlock()

	go o.watchRun(watchCtx, nodeID, sub)
	return nil
}

func (o *orchestration) watchRun(ctx context.Context, nodeID string, sub *eventbus.Subscription) {
	defer sub.Close()

	for ev := range sub.Events() {
		if ev.Type != eventbus.EventStatusChange {
			continue
		}
		payload, ok := ev.Payload.(map[string]any)
		if !ok {
			continue
		}
		status, _ := payload["status"].(string)
		switch run.Status(status) {
		case run.StatusCompleted:
			o.onNodeResult(ctx, nodeID, "completed")
			return
		case run.StatusFailed, run.StatusCancelled, run.StatusUndone:
			o.onNodeResult(ctx, nodeID, "failed")
			return
		}
	}
}

// onNodeResult is invoked once a launched node's Run reaches a
// terminal outcome; it resolves the node, cascades failure per
// FailFast, and launches the next ready wave.
func (o *orchestration) onNodeResult(ctx context.Context, nodeID, outcome string) {
	o.mu.Lock()
	if outcome == "completed" {
		o.resolveLocked(nodeID, "completed", "")
	} else {
		o.nodeStatus[nodeID] = "failed"
		if o.opts.FailFast {
			o.status = "failed"
			o.cascadeBlockLocked(nodeID)
		} else {
			for _, d := range o.dependents[nodeID] {
				o.failedDeps[d] = append(o.failedDeps[d], nodeID)
				o.remainingDeps[d]--
			}
		}
	}
	o.mu.Unlock()

	o.evaluateAndLaunch(ctx)
}

// resolveLocked marks a node resolved (completed or skipped) and
// unblocks dependents' remaining-dependency counts. Caller holds mu.
func (o *orchestration) resolveLocked(nodeID, status, reason string) {
	o.nodeStatus[nodeID] = status
	if reason != "" {
		o.skipReasons[nodeID] = reason
	}
	for _, d := range o.dependents[nodeID] {
		o.remainingDeps[d]--
	}
}

// cascadeBlockLocked marks every not-yet-started descendant of
// nodeID as blocked (spec section 4.9, FailFast semantics). Caller
// holds mu.
func (o *orchestration) cascadeBlockLocked(nodeID string) {
	var walk func(string)
	seen := map[string]bool{}
	walk = func(id string) {
		for _, d := range o.dependents[id] {
			if seen[d] {
				continue
			}
			seen[d] = true
			if st := o.nodeStatus[d]; st == "pending" || st == "ready" {
				o.nodeStatus[d] = "blocked"
				o.skipReasons[d] = fmt.Sprintf("ancestor %q failed", nodeID)
			}
			walk(d)
		}
	}
	walk(nodeID)
}

func (o *orchestration) checkDone() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, st := range o.nodeStatus {
		switch st {
		case "pending", "ready", "running":
			return
		}
	}
	if o.status != "failed" {
		o.status = "completed"
	}
}

func (o *orchestration) pendingNodeIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, n := range o.workflow.Nodes {
		if st := o.nodeStatus[n.ID]; st == "pending" || st == "ready" {
			out = append(out, n.ID)
		}
	}
	return out
}

func (o *orchestration) snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := &Snapshot{
		ID: o.id, WorkflowID: o.workflowID, Status: o.status,
		NodeStatus:   make(map[string]string, len(o.nodeStatus)),
		LaunchedRuns: make(map[string]string, len(o.runIDs)),
		SkipReasons:  make(map[string]string, len(o.skipReasons)),
	}
	for k, v := range o.nodeStatus {
		s.NodeStatus[k] = v
	}
	for k, v := range o.runIDs {
		s.LaunchedRuns[k] = v
	}
	for k, v := range o.skipReasons {
		s.SkipReasons[k] = v
	}
	for _, n := range o.workflow.Nodes {
		if st := o.nodeStatus[n.ID]; st == "pending" || st == "ready" {
			s.PendingNodes = append(s.PendingNodes, n.ID)
		}
	}
	return s
}
