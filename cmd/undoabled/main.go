// Command undoabled is the Undoable daemon: it wires the ten core
// components together behind a REST+SSE gateway and exposes
// daemon start|stop|status subcommands (spec section 6, "CLI
// surface").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/config"
	"github.com/undoable/undoable/internal/env"
	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/executor"
	"github.com/undoable/undoable/internal/gateway"
	"github.com/undoable/undoable/internal/logger"
	"github.com/undoable/undoable/internal/metrics"
	"github.com/undoable/undoable/internal/planner"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/scheduler"
	"github.com/undoable/undoable/internal/swarm"
	"github.com/undoable/undoable/internal/tool"
	"github.com/undoable/undoable/internal/undo"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// CLI is the daemon subcommand (kong.Parse, mirroring the teacher's
// own cmd/hector entrypoint).
type CLI struct {
	Daemon DaemonCmd `cmd:"" help:"Manage the undoable daemon."`
}

type DaemonCmd struct {
	Start  DaemonStartCmd  `cmd:"" help:"Start the daemon in the foreground."`
	Stop   DaemonStopCmd   `cmd:"" help:"Stop a running daemon."`
	Status DaemonStatusCmd `cmd:"" help:"Report whether the daemon is running."`
}

type DaemonStartCmd struct {
	Port   int  `help:"Port to listen on; 0 uses daemon-settings.json." default:"0"`
	JSON   bool `help:"Emit machine-readable JSON instead of text."`
	WaitMs int  `name:"wait-ms" help:"Milliseconds to wait for the HTTP listener before reporting failure." default:"2000"`
}

type DaemonStopCmd struct {
	JSON   bool `help:"Emit machine-readable JSON instead of text."`
	WaitMs int  `name:"wait-ms" help:"Milliseconds to wait for the process to exit." default:"2000"`
}

type DaemonStatusCmd struct {
	JSON bool `help:"Emit machine-readable JSON instead of text."`
}

// pidFile is the advisory daemon.pid.json document (spec section 6,
// state layout).
type pidFile struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	StartedAt string `json:"startedAt"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("undoabled"),
		kong.Description("Undoable daemon: local-first agent run lifecycle, scheduler, and swarm orchestration."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *DaemonStartCmd) Run() error {
	e := env.New(env.DefaultHome(), nil)
	if err := e.EnsureHome(); err != nil {
		return fmt.Errorf("daemon: prepare home: %w", err)
	}

	settingsPath := e.Path("daemon-settings.json")
	settings, err := config.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("daemon: load settings: %w", err)
	}
	if c.Port != 0 {
		settings.Port = c.Port
	}

	log := logger.New(logger.ParseLevel(settings.LogLevel), nil)
	e.Logger = log

	if pidExists(e) {
		return fmt.Errorf("daemon: %s already present; is the daemon already running?", e.Path("daemon.pid.json"))
	}

	watcher, err := config.NewWatcher(log)
	if err != nil {
		return fmt.Errorf("daemon: settings watcher: %w", err)
	}
	if err := watcher.Add(settingsPath); err != nil {
		return fmt.Errorf("daemon: watch settings file: %w", err)
	}

	registry := metrics.New()
	bus := eventbus.New().WithMetrics(registry)

	runs, err := run.New(bus, run.BackendFile, e.Path("runs.jsonl"))
	if err != nil {
		return fmt.Errorf("daemon: run manager: %w", err)
	}
	defer runs.Close()

	alog, err := actionlog.Open(e.Path("action-log.jsonl"))
	if err != nil {
		return fmt.Errorf("daemon: action log: %w", err)
	}
	defer alog.Close()

	checkpoints := checkpoint.New(e.Path("checkpoints"))
	reconcilePendingCheckpoints(checkpoints, runs, log)

	tools := tool.NewRegistry()
	if err := tools.Register(tool.Noop{}); err != nil {
		return fmt.Errorf("daemon: register tools: %w", err)
	}
	if err := tools.Register(&tool.FileWrite{WorkingDir: e.Path("workspace")}); err != nil {
		return fmt.Errorf("daemon: register tools: %w", err)
	}

	approvals := gateway.NewApprovalBroker(bus)

	exec := executor.New(executor.Deps{
		Runs:         runs,
		ActionLog:    alog,
		Checkpoints:  checkpoints,
		Tools:        tools,
		Bus:          bus,
		Prompter:     approvals,
		Logger:       log,
		ShadowDir:    e.Path("shadow"),
		WorkspaceDir: e.Path("workspace"),
	})

	launcher := gateway.NewLauncher(runs, exec, planner.Factory, log)

	sched, err := scheduler.New(scheduler.Options{
		Path:   e.Path("scheduler.json"),
		Bus:    bus,
		Launch: gateway.ForScheduler{L: launcher},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("daemon: scheduler: %w", err)
	}

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sched.Start(schedCtx)
	defer sched.Stop()

	go watcher.Run(schedCtx, func(path string) {
		reloaded, err := config.Load(settingsPath)
		if err != nil {
			log.Warn("daemon: settings reload failed", "error", err)
			return
		}
		changed, restartRequired := config.Diff(settings, reloaded)
		if len(changed) == 0 {
			return
		}
		settings = reloaded
		log.Info("daemon: settings file changed externally", "fields", changed, "restartRequired", restartRequired)
	})

	workflows := swarm.NewWorkflowStore()
	orchestrator := swarm.New(workflows, runs, gateway.ForSwarm{L: launcher}, bus, log)

	undoSvc := undo.New(alog)

	startedAt := time.Now()
	gw := gateway.New(gateway.Deps{
		Runs:         runs,
		Launcher:     launcher,
		Approvals:    approvals,
		Scheduler:    sched,
		Workflows:    workflows,
		Orchestrator: orchestrator,
		ActionLog:    alog,
		Checkpoints:  checkpoints,
		Undo:         undoSvc,
		Bus:          bus,
		Metrics:      registry,
		Settings:     func() config.Settings { return settings },
		SaveSettings: func(s config.Settings) error {
			if err := config.Save(settingsPath, s); err != nil {
				return err
			}
			settings = s
			return nil
		},
		Token:     settings.JWTSecret,
		Logger:    log,
		StartedAt: startedAt,
		Version:   version,
	})

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", addr, err)
	}

	actualPort := ln.Addr().(*net.TCPAddr).Port
	if err := writePidFile(e, actualPort, startedAt); err != nil {
		ln.Close()
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer os.Remove(e.Path("daemon.pid.json"))

	srv := &http.Server{Handler: gw.Router()}

	sigCh := make(chan os.Signal, 1)
	registerShutdownSignals(sigCh)
	shutdownDone := make(chan struct{})
	go func() {
		<-sigCh
		log.Info("daemon: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	if c.JSON {
		out, _ := json.Marshal(map[string]any{"status": "started", "port": actualPort, "pid": os.Getpid()})
		fmt.Println(string(out))
	} else {
		fmt.Printf("undoable daemon listening on %s (pid %d)\n", addr, os.Getpid())
	}

	log.Info("daemon: serving", "addr", addr, "version", version)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("daemon: serve: %w", err)
	}
	<-shutdownDone
	return nil
}

func (c *DaemonStopCmd) Run() error {
	e := env.New(env.DefaultHome(), nil)
	pf, err := readPidFile(e)
	if err != nil {
		return fmt.Errorf("daemon: not running: %w", err)
	}

	proc, err := os.FindProcess(pf.PID)
	if err != nil {
		return fmt.Errorf("daemon: find process %d: %w", pf.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("daemon: signal process %d: %w", pf.PID, err)
	}

	deadline := time.Now().Add(time.Duration(c.WaitMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		if !processAlive(pf.PID) {
			if c.JSON {
				out, _ := json.Marshal(map[string]any{"status": "stopped", "pid": pf.PID})
				fmt.Println(string(out))
			} else {
				fmt.Printf("stopped daemon (pid %d)\n", pf.PID)
			}
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon: process %d did not exit within %dms", pf.PID, c.WaitMs)
}

func (c *DaemonStatusCmd) Run() error {
	e := env.New(env.DefaultHome(), nil)
	pf, err := readPidFile(e)
	if err != nil {
		if c.JSON {
			out, _ := json.Marshal(map[string]any{"running": false})
			fmt.Println(string(out))
			return nil
		}
		fmt.Println("not running")
		return nil
	}

	alive := processAlive(pf.PID)
	if c.JSON {
		out, _ := json.Marshal(map[string]any{"running": alive, "pid": pf.PID, "port": pf.Port, "startedAt": pf.StartedAt})
		fmt.Println(string(out))
	} else if alive {
		fmt.Printf("running (pid %d, port %d, started %s)\n", pf.PID, pf.Port, pf.StartedAt)
	} else {
		fmt.Printf("stale pid file for %d; process is not running\n", pf.PID)
	}
	if !alive {
		return fmt.Errorf("daemon: pid %d is not running", pf.PID)
	}
	return nil
}

func pidExists(e *env.Environment) bool {
	_, err := os.Stat(e.Path("daemon.pid.json"))
	return err == nil
}

func writePidFile(e *env.Environment, port int, startedAt time.Time) error {
	pf := pidFile{PID: os.Getpid(), Port: port, StartedAt: startedAt.UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.Path("daemon.pid.json"), data, 0o600)
}

func readPidFile(e *env.Environment) (*pidFile, error) {
	data, err := os.ReadFile(e.Path("daemon.pid.json"))
	if err != nil {
		return nil, err
	}
	var pf pidFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// reconcilePendingCheckpoints logs resumable runs found on boot
// (SPEC_FULL.md "Supplemented features": checkpoint reconciliation
// pass). Automatic re-execution stays out of scope (spec section 4.4);
// an operator drives an explicit apply/resume from the CLI or gateway.
func reconcilePendingCheckpoints(store *checkpoint.Store, runs *run.Manager, log *slog.Logger) {
	states, err := store.ListAll()
	if err != nil {
		log.Info("daemon: checkpoint reconciliation skipped", "error", err)
		return
	}
	for _, st := range states {
		r, err := runs.GetByID(st.RunID)
		if err != nil {
			continue
		}
		if r.Status.IsTerminal() {
			continue
		}
		log.Info("daemon: resumable run found on boot", "runId", st.RunID, "phase", st.Phase, "status", r.Status)
	}
}

func registerShutdownSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}
