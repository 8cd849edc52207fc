// Package scheduler implements the persistent Scheduler (component
// C5): timer-driven dispatch over a JSON-backed job store, supporting
// at/every/cron schedule variants with at-most-one execution and
// missed-run recovery (spec section 4.5).
package scheduler

import (
	"fmt"
	"time"
)

// Kind is the schedule variant a job carries.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Schedule is the closed set of parameters for one of the three
// schedule variants (spec section 4.5.1); only the fields for Kind are
// populated.
type Schedule struct {
	Kind Kind `json:"kind"`

	At string `json:"at,omitempty"` // RFC3339

	EveryMs   int64 `json:"everyMs,omitempty"`
	AnchorMs  int64 `json:"anchorMs,omitempty"`

	Cron string `json:"cron,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// Payload is what the scheduler does when a job fires: enqueue a plan
// instruction as a new Run, or publish an arbitrary event on the bus.
type Payload struct {
	Instruction string         `json:"instruction,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
	EventTopic  string         `json:"eventTopic,omitempty"`
	EventData   map[string]any `json:"eventData,omitempty"`
}

// Job is a persisted ScheduledJob (spec section 3).
type Job struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Payload Payload  `json:"payload"`
	DeleteAfterRun bool `json:"deleteAfterRun"`

	NextRunAtMs       int64  `json:"nextRunAtMs,omitempty"`
	RunningAtMs       int64  `json:"runningAtMs,omitempty"`
	LastRunAtMs       int64  `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"`
	LastDurationMs    int64  `json:"lastDurationMs,omitempty"`
	LastError         string `json:"lastError,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`

	CreatedAtMs int64 `json:"createdAtMs"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
}

// staleRunningThreshold is the "crash residue" window (spec section
// 4.5, ScheduledJob invariant).
const staleRunningThreshold = 10 * time.Minute

// maxArmDuration caps the timer to cope with sleep/wake skew (spec
// section 4.5).
const maxArmDuration = 60 * time.Second

// computeNextRunAtMs returns the next fire time strictly after now, or
// 0 if the schedule is exhausted/invalid (spec section 4.5.1).
func computeNextRunAtMs(s Schedule, now time.Time) (int64, error) {
	switch s.Kind {
	case KindAt:
		t, err := time.Parse(time.RFC3339, s.At)
		if err != nil {
			return 0, fmt.Errorf("scheduler: invalid at timestamp: %w", err)
		}
		ms := t.UnixMilli()
		if ms > now.UnixMilli() {
			return ms, nil
		}
		return 0, nil

	case KindEvery:
		if s.EveryMs <= 0 {
			return 0, fmt.Errorf("scheduler: everyMs must be positive")
		}
		anchor := s.AnchorMs
		nowMs := now.UnixMilli()
		if anchor > nowMs {
			return anchor, nil
		}
		elapsed := nowMs - anchor
		intervals := (elapsed + s.EveryMs - 1) / s.EveryMs
		if intervals == 0 {
			intervals = 1
		}
		next := anchor + intervals*s.EveryMs
		if next <= nowMs {
			next += s.EveryMs
		}
		return next, nil

	case KindCron:
		loc := time.Local
		if s.TZ != "" {
			l, err := time.LoadLocation(s.TZ)
			if err != nil {
				return 0, fmt.Errorf("scheduler: invalid tz %q: %w", s.TZ, err)
			}
			loc = l
		}
		expr, err := parseCron(s.Cron)
		if err != nil {
			return 0, err
		}
		next := expr.next(now.In(loc))
		return next.UnixMilli(), nil

	default:
		return 0, fmt.Errorf("scheduler: unknown schedule kind %q", s.Kind)
	}
}
