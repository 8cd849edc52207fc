package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/undoable/undoable/internal/errs"
	"github.com/undoable/undoable/internal/eventbus"
)

// RunLauncher is the narrow interface the Scheduler uses to enqueue a
// Run for a fired job's plan-instruction payload (spec section 2,
// "C5 ... enqueues a Run via C6").
type RunLauncher interface {
	Launch(ctx context.Context, instruction, agentID, jobID string) error
}

// Clock abstracts time.Now so tests can drive the scheduler
// deterministically, generalized from the teacher's env.Clock pattern.
type Clock func() time.Time

// Scheduler is the Scheduler (component C5): jobs held in a map keyed
// by id, mirrored to a JSON file, dispatched off a single monotonic
// timer. The order of due jobs within a tick, of List, and of the
// persisted file follows map iteration and is not defined.
type Scheduler struct {
	store  *fileStore
	bus    *eventbus.Bus
	launch RunLauncher
	clock  Clock
	logger *slog.Logger

	gate chan struct{} // 1-buffered FIFO mutating-operation gate

	mu   sync.Mutex
	jobs map[string]*Job

	stop chan struct{}
	done chan struct{}
}

// Options configures a new Scheduler.
type Options struct {
	Path   string
	Bus    *eventbus.Bus
	Launch RunLauncher
	Clock  Clock
	Logger *slog.Logger
}

// New creates a Scheduler and loads any persisted jobs from Path.
func New(opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	store := newFileStore(opts.Path)
	loaded, err := store.load()
	if err != nil {
		return nil, err
	}

	jobs := make(map[string]*Job, len(loaded))
	for _, j := range loaded {
		jobs[j.ID] = j
	}

	s := &Scheduler{
		store:  store,
		bus:    opts.Bus,
		launch: opts.Launch,
		clock:  opts.Clock,
		logger: opts.Logger,
		gate:   make(chan struct{}, 1),
		jobs:   jobs,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.gate <- struct{}{}
	return s, nil
}

func (s *Scheduler) acquire() { <-s.gate }
func (s *Scheduler) release() { s.gate <- struct{}{} }

// Add creates a new job, computes its initial nextRunAtMs, and
// persists it.
func (s *Scheduler) Add(name string, schedule Schedule, payload Payload, deleteAfterRun, enabled bool) (*Job, error) {
	s.acquire()
	defer s.release()

	now := s.clock()
	j := &Job{
		ID: uuid.NewString(), Name: name, Enabled: enabled,
		Schedule: schedule, Payload: payload, DeleteAfterRun: deleteAfterRun,
		CreatedAtMs: now.UnixMilli(), UpdatedAtMs: now.UnixMilli(),
	}
	if enabled {
		next, err := computeNextRunAtMs(schedule, now)
		if err != nil {
			return nil, errs.Validationf("scheduler: %v", err)
		}
		j.NextRunAtMs = next
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return j, nil
}

// Update mutates an existing job via mutate, recomputes its
// nextRunAtMs if the schedule or enabled flag changed, and persists.
func (s *Scheduler) Update(id string, mutate func(*Job)) (*Job, error) {
	s.acquire()
	defer s.release()

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, errs.NotFoundf("job %s not found", id)
	}
	mutate(j)
	j.UpdatedAtMs = s.clock().UnixMilli()
	if !j.Enabled {
		j.NextRunAtMs = 0
	} else {
		next, err := computeNextRunAtMs(j.Schedule, s.clock())
		if err != nil {
			s.mu.Unlock()
			return nil, errs.Validationf("scheduler: %v", err)
		}
		j.NextRunAtMs = next
	}
	cp := *j
	s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.acquire()
	defer s.release()

	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.mu.Unlock()
		return errs.NotFoundf("job %s not found", id)
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	return s.persistLocked()
}

// Get returns a copy of job id.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFoundf("job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

// List returns every job.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}

func (s *Scheduler) persistLocked() error {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	return s.store.save(jobs)
}

// Start launches the timer-driven dispatch loop. Per spec section
// 4.5.2, missed-run recovery runs the due set once before arming the
// timer for the first time.
func (s *Scheduler) Start(ctx context.Context) {
	s.Tick(ctx)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		wait := s.armDuration()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Stop halts the dispatch loop and waits for the in-flight tick (if
// any) to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) armDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var earliest int64
	for _, j := range s.jobs {
		if !j.Enabled || j.NextRunAtMs == 0 {
			continue
		}
		if earliest == 0 || j.NextRunAtMs < earliest {
			earliest = j.NextRunAtMs
		}
	}
	if earliest == 0 {
		return maxArmDuration
	}
	d := time.Duration(earliest-now.UnixMilli()) * time.Millisecond
	if d <= 0 {
		return time.Millisecond
	}
	if d > maxArmDuration {
		return maxArmDuration
	}
	return d
}

// Tick runs one dispatch pass: clears stale runningAtMs, collects due
// jobs, and executes them one at a time; the order among jobs due in
// the same tick is not defined (spec section 4.5.2).
func (s *Scheduler) Tick(ctx context.Context) {
	s.acquire()
	defer s.release()

	now := s.clock()
	due := s.collectDue(now)

	for _, j := range due {
		s.dispatch(ctx, j, now)
	}
}

func (s *Scheduler) collectDue(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, j := range s.jobs {
		if j.RunningAtMs != 0 && now.Sub(time.UnixMilli(j.RunningAtMs)) > staleRunningThreshold {
			j.RunningAtMs = 0
		}
		if j.Enabled && j.RunningAtMs == 0 && j.NextRunAtMs != 0 && j.NextRunAtMs <= now.UnixMilli() {
			due = append(due, j)
		}
	}
	return due
}

func (s *Scheduler) dispatch(ctx context.Context, j *Job, now time.Time) {
	s.mu.Lock()
	j.RunningAtMs = now.UnixMilli()
	s.mu.Unlock()
	s.publish("started", j)
	s.persistLocked()

	start := time.Now()
	runErr := s.execute(ctx, j)
	duration := time.Since(start)

	s.mu.Lock()
	j.RunningAtMs = 0
	j.LastRunAtMs = now.UnixMilli()
	j.LastDurationMs = duration.Milliseconds()
	if runErr != nil {
		j.LastStatus = "error"
		j.LastError = runErr.Error()
		j.ConsecutiveErrors++
	} else {
		j.LastStatus = "success"
		j.LastError = ""
		j.ConsecutiveErrors = 0
	}

	remove := false
	if j.Enabled {
		next, err := computeNextRunAtMs(j.Schedule, s.clock())
		if err != nil {
			s.logger.Warn("scheduler: recompute next run failed", "job", j.ID, "error", err)
			next = 0
		}
		j.NextRunAtMs = next
	}
	if j.DeleteAfterRun && (runErr == nil || j.Schedule.Kind == KindAt) {
		remove = true
	}
	if remove {
		delete(s.jobs, j.ID)
	}
	s.mu.Unlock()

	s.persistLocked()
	s.publish("finished", j)
}

func (s *Scheduler) execute(ctx context.Context, j *Job) error {
	if j.Payload.Instruction != "" {
		if s.launch == nil {
			return fmt.Errorf("scheduler: no RunLauncher configured")
		}
		return s.launch.Launch(ctx, j.Payload.Instruction, j.Payload.AgentID, "scheduler-job-"+j.ID)
	}
	if j.Payload.EventTopic != "" && s.bus != nil {
		s.bus.Publish(j.Payload.EventTopic, eventbus.EventDone, j.Payload.EventData)
		return nil
	}
	return nil
}

func (s *Scheduler) publish(kind string, j *Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.TopicScheduler, eventbus.EventStatusChange, map[string]any{
		"event": kind,
		"jobId": j.ID,
		"name":  j.Name,
	})
}
