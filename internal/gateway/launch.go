package gateway

import (
	"context"
	"log/slog"

	"github.com/undoable/undoable/internal/executor"
	"github.com/undoable/undoable/internal/plan"
	"github.com/undoable/undoable/internal/run"
)

// Launcher creates a Run and hands it to the Executor in its own
// goroutine, returning as soon as the Run exists (the Executor drives
// it to a terminal status asynchronously). It is constructed
// independently of the Gateway so the Scheduler and Swarm Orchestrator
// can be wired to it (via ForScheduler/ForSwarm below) before the
// Gateway, which depends on both, is built.
type Launcher struct {
	Runs        *run.Manager
	Executor    *executor.Executor
	PlanFactory func(agentID string) plan.PlanProducer
	Logger      *slog.Logger
}

// NewLauncher creates a Launcher. logger may be nil (defaults to
// slog.Default()).
func NewLauncher(runs *run.Manager, exec *executor.Executor, planFactory func(string) plan.PlanProducer, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Runs: runs, Executor: exec, PlanFactory: planFactory, Logger: logger}
}

// Launch creates the run and starts its executor goroutine.
func (l *Launcher) Launch(ctx context.Context, instruction, agentID, jobID string) (*run.Run, error) {
	r, err := l.Runs.Create(run.Spec{
		Instruction: instruction,
		AgentID:     agentID,
		JobID:       jobID,
		Owner:       "system",
	})
	if err != nil {
		return nil, err
	}

	producer := l.PlanFactory(agentID)
	go func() {
		if err := l.Executor.Run(context.Background(), r.ID, producer); err != nil {
			l.Logger.Warn("gateway: run execution ended with error", "runId", r.ID, "error", err)
		}
	}()

	return r, nil
}

// ForScheduler adapts Launch to the Scheduler's narrow,
// fire-and-forget RunLauncher interface.
type ForScheduler struct{ L *Launcher }

func (f ForScheduler) Launch(ctx context.Context, instruction, agentID, jobID string) error {
	_, err := f.L.Launch(ctx, instruction, agentID, jobID)
	return err
}

// ForSwarm adapts Launch to the Orchestrator's RunLauncher interface,
// which needs the launched run's id back to subscribe for DAG
// progress.
type ForSwarm struct{ L *Launcher }

func (f ForSwarm) Launch(ctx context.Context, instruction, agentID, jobID string) (string, error) {
	r, err := f.L.Launch(ctx, instruction, agentID, jobID)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}
