package swarm

import (
	"sync"

	"github.com/google/uuid"

	"github.com/undoable/undoable/internal/errs"
)

// WorkflowStore is an in-memory registry of SwarmWorkflow definitions.
// Unlike the ScheduledJob store, it writes nothing to disk, so its
// definitions do not survive a daemon restart, and the daemon loads no
// definitions on boot.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewWorkflowStore creates an empty store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]*Workflow)}
}

// Create validates and registers a new workflow, assigning an id if
// none is set.
func (s *WorkflowStore) Create(w Workflow) (*Workflow, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if err := Validate(&w); err != nil {
		return nil, errs.Validationf("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; exists {
		return nil, errs.Conflictf("workflow %s already exists", w.ID)
	}
	s.workflows[w.ID] = &w
	return &w, nil
}

// Get returns the workflow by id.
func (s *WorkflowStore) Get(id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, errs.NotFoundf("workflow %s not found", id)
	}
	return w, nil
}

// List returns every registered workflow.
func (s *WorkflowStore) List() []*Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out
}

// Update replaces a workflow's nodes/edges/name, re-validating the DAG.
func (s *WorkflowStore) Update(id string, mutate func(*Workflow)) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, errs.NotFoundf("workflow %s not found", id)
	}
	cp := *w
	mutate(&cp)
	if err := Validate(&cp); err != nil {
		return nil, errs.Validationf("%v", err)
	}
	s.workflows[id] = &cp
	return &cp, nil
}

// Delete removes a workflow definition.
func (s *WorkflowStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return errs.NotFoundf("workflow %s not found", id)
	}
	delete(s.workflows, id)
	return nil
}
