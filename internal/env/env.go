// Package env carries the daemon's ambient dependencies — home
// directory, logger, clock — as an explicit value instead of
// process-global singletons, per the "ad-hoc global state" design
// note in the specification.
package env

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Clock abstracts time.Now so scheduler and executor logic can be
// tested without sleeping (see spec section 8, "boundary behaviors").
type Clock func() time.Time

// Environment bundles everything daemon components need that would
// otherwise be reached for as a global.
type Environment struct {
	Home   string
	Logger *slog.Logger
	Clock  Clock
}

// New builds an Environment rooted at home (defaulting to
// <user-home>/.undoable) with the real wall clock.
func New(home string, logger *slog.Logger) *Environment {
	if home == "" {
		home = DefaultHome()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Environment{Home: home, Logger: logger, Clock: time.Now}
}

// DefaultHome returns <user-home>/.undoable, the state root described
// in spec section 6.
func DefaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".undoable")
	}
	return filepath.Join(os.TempDir(), ".undoable")
}

func (e *Environment) Path(parts ...string) string {
	all := append([]string{e.Home}, parts...)
	return filepath.Join(all...)
}

func (e *Environment) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// EnsureHome creates the state directories named in spec section 6.
func (e *Environment) EnsureHome() error {
	for _, dir := range []string{e.Home, e.Path("checkpoints"), e.Path("workspace"), e.Path("shadow")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}
