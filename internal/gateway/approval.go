package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/undoable/undoable/internal/eventbus"
)

// ApprovalBroker implements approval.Prompter by publishing a prompt
// event on the run's topic and waiting for a reply delivered through
// the gateway's supplemented approval endpoint (SPEC_FULL.md: the
// Executor has no REST surface of its own, so something has to bridge
// approval.WaitForApproval's blocking call to an HTTP request). It is
// constructed independently of the Gateway so it can be wired into the
// Executor's Deps before the Gateway (which depends on the Executor)
// exists.
type ApprovalBroker struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewApprovalBroker creates a broker publishing prompt events on bus
// (nil is fine — prompts then rely solely on the reply channel, used
// in tests that don't exercise SSE).
func NewApprovalBroker(bus *eventbus.Bus) *ApprovalBroker {
	return &ApprovalBroker{bus: bus, pending: make(map[string]chan bool)}
}

func approvalKey(runID, stepID string) string { return runID + "/" + stepID }

// RequestApproval satisfies approval.Prompter: it publishes a prompt
// event on the run's topic for any connected SSE client to act on,
// then blocks until Resolve delivers a reply or ctx is done.
func (b *ApprovalBroker) RequestApproval(ctx context.Context, runID, stepID, toolName string, params map[string]any) (bool, error) {
	key := approvalKey(runID, stepID)
	reply := make(chan bool, 1)

	b.mu.Lock()
	b.pending[key] = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	}()

	if b.bus != nil {
		b.bus.Publish(eventbus.TopicForRun(runID), eventbus.EventToolCall, map[string]any{
			"stepId":   stepID,
			"toolName": toolName,
			"params":   params,
			"awaiting": "approval",
		})
	}

	select {
	case approved := <-reply:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers a user's reply to the waiting RequestApproval call,
// if one is still pending.
func (b *ApprovalBroker) Resolve(runID, stepID string, approved bool) error {
	key := approvalKey(runID, stepID)

	b.mu.Lock()
	reply, ok := b.pending[key]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("gateway: no pending approval for run %s step %s", runID, stepID)
	}

	select {
	case reply <- approved:
	default:
	}
	return nil
}
