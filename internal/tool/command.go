package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/undoable/undoable/internal/actionlog"
)

// DefaultDeniedCommands blocks the base commands that are almost never
// safe to let an agent run unattended.
var DefaultDeniedCommands = map[string]bool{
	"rm": true, "rmdir": true, "sudo": true, "su": true,
	"chmod": true, "chown": true, "dd": true, "mkfs": true,
	"kill": true, "killall": true, "pkill": true, "reboot": true, "shutdown": true,
}

// DefaultDeniedPatterns blocks command shapes that are dangerous
// regardless of the base command.
var DefaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`(wget|curl).*\|\s*sh`),
}

// CommandParams is the opaque parameter bag for the command tool.
type CommandParams struct {
	Command    string `mapstructure:"command"`
	WorkingDir string `mapstructure:"workingDir"`
}

// Command runs a shell command under a deny-list and is never marked
// reversible — its effects are not tracked well enough to undo, so it
// returns no UndoData and the Undo Service skips its entries (category destructive forces the
// Approval Gate to require confirmation, spec section 4.3).
type Command struct {
	WorkingDir      string
	Timeout         time.Duration
	AllowedCommands map[string]bool // nil/empty = all non-denied commands allowed
	DeniedCommands  map[string]bool // nil = DefaultDeniedCommands
	DeniedPatterns  []*regexp.Regexp
}

func (t *Command) Name() string                { return "execute_command" }
func (t *Command) Category() actionlog.Category { return actionlog.CategoryDestructive }
func (t *Command) Reversible() bool             { return false }

func (t *Command) Call(ctx context.Context, params map[string]any) (any, *actionlog.UndoData, error) {
	var args CommandParams
	if err := DecodeParams(params, &args); err != nil {
		return nil, nil, err
	}
	if err := t.validate(args.Command); err != nil {
		return nil, nil, err
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := args.WorkingDir
	if workDir == "" {
		workDir = t.WorkingDir
	}

	cmd := exec.CommandContext(execCtx, "sh", "-c", args.Command)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()

	result := map[string]any{
		"command":    args.Command,
		"output":     out.String(),
		"durationMs": time.Since(start).Milliseconds(),
		"exitCode":   cmd.ProcessState.ExitCode(),
	}
	if runErr != nil {
		return result, nil, fmt.Errorf("execute_command: %w", runErr)
	}
	return result, nil, nil
}

func (t *Command) validate(command string) error {
	if command == "" {
		return fmt.Errorf("execute_command: command is required")
	}

	patterns := t.DeniedPatterns
	if patterns == nil {
		patterns = DefaultDeniedPatterns
	}
	for _, p := range patterns {
		if p.MatchString(command) {
			return fmt.Errorf("execute_command: matches denied pattern %q", p.String())
		}
	}

	base := baseCommand(command)
	if base == "" {
		return fmt.Errorf("execute_command: could not determine base command")
	}

	denied := t.DeniedCommands
	if denied == nil {
		denied = DefaultDeniedCommands
	}
	if denied[base] {
		return fmt.Errorf("execute_command: %q is denied", base)
	}
	if len(t.AllowedCommands) > 0 && !t.AllowedCommands[base] {
		return fmt.Errorf("execute_command: %q is not in the allow list", base)
	}
	return nil
}

func baseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == '>' || r == '<' || r == ';' || r == '&'
	})
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
