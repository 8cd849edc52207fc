package run

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/eventbus"
)

// Backend selects the Run Manager's persistence policy (spec section
// 4.6: "off" or "file" — no other backend is in scope).
type Backend string

const (
	BackendOff  Backend = "off"
	BackendFile Backend = "file"
)

// Manager is the Run Manager (component C6): CRUD plus guarded status
// transitions, emitting a run.<id> status-change event on every
// transition.
type Manager struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
	bus   *eventbus.Bus
	store *fileStore // nil when Backend == off
}

// New creates a Manager. When backend is BackendFile, path names the
// line-delimited store file (compacted per fileStore's policy).
func New(bus *eventbus.Bus, backend Backend, path string) (*Manager, error) {
	m := &Manager{
		runs: make(map[string]*Run),
		bus:  bus,
	}

	if backend == BackendFile {
		store, err := openFileStore(path)
		if err != nil {
			return nil, err
		}
		m.store = store
		for _, r := range store.all() {
			cp := r
			m.runs[r.ID] = &cp
			m.order = append(m.order, r.ID)
		}
	}

	return m, nil
}

// Create creates a new Run in StatusCreated.
func (m *Manager) Create(spec Spec) (*Run, error) {
	if spec.Instruction == "" {
		return nil, errs.Validationf("instruction is required")
	}

	now := time.Now()
	r := &Run{
		ID:          uuid.NewString(),
		JobID:       spec.JobID,
		Owner:       spec.Owner,
		Instruction: spec.Instruction,
		AgentID:     spec.AgentID,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.runs[r.ID] = r
	m.order = append(m.order, r.ID)
	if m.store != nil {
		if err := m.store.append(*r); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	m.publish(r)
	return cloneRun(r), nil
}

// GetByID returns a copy of the run, or a not_found error.
func (m *Manager) GetByID(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, errs.NotFoundf("run %s not found", id)
	}
	return cloneRun(r), nil
}

// List returns every run, oldest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.order))
	for _, id := range m.order {
		if r, ok := m.runs[id]; ok {
			out = append(out, cloneRun(r))
		}
	}
	return out
}

// ListByJobID returns runs launched by the given scheduler job or
// swarm node synthetic job id.
func (m *Manager) ListByJobID(jobID string) []*Run {
	all := m.List()
	out := make([]*Run, 0, len(all))
	for _, r := range all {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// UpdateStatus applies a guarded transition and emits a status_change
// event. actor is recorded for audit purposes only (not enforced).
func (m *Manager) UpdateStatus(id string, newStatus Status, actor string) (*Run, error) {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return nil, errs.NotFoundf("run %s not found", id)
	}

	if newStatus == StatusPaused {
		if r.Status.IsTerminal() {
			m.mu.Unlock()
			return nil, errs.Conflictf("run %s is terminal, cannot pause", id)
		}
		r.PausedFrom = r.Status
		r.Status = StatusPaused
	} else if r.Status == StatusPaused && newStatus != StatusPaused {
		// Resuming: caller passes the status to resume into, which must
		// have been legal from the phase the run paused from.
		if !CanTransition(r.PausedFrom, newStatus) && newStatus != r.PausedFrom {
			m.mu.Unlock()
			return nil, errs.Conflictf("cannot resume run %s into %s", id, newStatus)
		}
		r.Status = newStatus
		r.PausedFrom = ""
	} else if !CanTransition(r.Status, newStatus) {
		m.mu.Unlock()
		return nil, errs.Conflictf("run %s: illegal transition %s -> %s", id, r.Status, newStatus)
	} else {
		r.Status = newStatus
	}

	r.UpdatedAt = time.Now()
	if m.store != nil {
		if err := m.store.append(*r); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	cp := cloneRun(r)
	m.mu.Unlock()

	m.publish(cp)
	return cp, nil
}

// Delete removes a run. Only terminal runs may be administratively
// deleted (spec section 3 invariant).
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return errs.NotFoundf("run %s not found", id)
	}
	if !r.Status.IsTerminal() {
		return errs.Conflictf("run %s is not terminal, cannot delete", id)
	}

	delete(m.runs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.store != nil {
		return m.store.appendTombstone(id)
	}
	return nil
}

func (m *Manager) publish(r *Run) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.TopicForRun(r.ID), eventbus.EventStatusChange, map[string]any{
		"runId":  r.ID,
		"status": string(r.Status),
	})
}

// Close flushes and closes the backing file store, if any.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.close()
}

func cloneRun(r *Run) *Run {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
