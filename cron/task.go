// Package cron tracks recurring and one-shot tasks and fires them by
// synthesizing system-origin messages into the gateway, exactly as a channel
// adapter would submit them. Task definitions are durable: a restart reloads
// every enabled task and recomputes its next fire time.
package cron

import (
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/hupe1980/concierge/core"
)

// expressions use the standard five-field layout plus descriptors
// (@hourly, @daily, ...).
var exprParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ScheduleKind discriminates the supported schedule forms.
type ScheduleKind string

const (
	// ScheduleEvery fires at a fixed interval.
	ScheduleEvery ScheduleKind = "every"
	// ScheduleCron fires according to a cron calendar expression.
	ScheduleCron ScheduleKind = "cron"
	// ScheduleAt fires exactly once at an absolute time.
	ScheduleAt ScheduleKind = "at"
)

// Schedule describes when a task fires.
type Schedule struct {
	Kind  ScheduleKind  `json:"kind"`
	Every time.Duration `json:"every,omitempty"`
	Expr  string        `json:"expr,omitempty"`
	At    time.Time     `json:"at,omitempty"`
}

// EverySchedule builds a fixed-interval schedule.
func EverySchedule(interval time.Duration) Schedule {
	return Schedule{Kind: ScheduleEvery, Every: interval}
}

// CronSchedule builds a calendar-expression schedule.
func CronSchedule(expr string) Schedule {
	return Schedule{Kind: ScheduleCron, Expr: strings.TrimSpace(expr)}
}

// AtSchedule builds a one-shot schedule.
func AtSchedule(at time.Time) Schedule {
	return Schedule{Kind: ScheduleAt, At: at.UTC()}
}

// Validate checks the schedule is well formed, parsing cron expressions eagerly.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleEvery:
		if s.Every <= 0 {
			return &core.ValidationError{Field: "every", Message: "interval must be positive"}
		}
	case ScheduleCron:
		if s.Expr == "" {
			return &core.ValidationError{Field: "expr", Message: "cron expression required"}
		}
		if _, err := exprParser.Parse(s.Expr); err != nil {
			return &core.ValidationError{Field: "expr", Message: err.Error()}
		}
	case ScheduleAt:
		if s.At.IsZero() {
			return &core.ValidationError{Field: "at", Message: "timestamp required"}
		}
	default:
		return &core.ValidationError{Field: "kind", Message: "unknown schedule kind"}
	}
	return nil
}

// Next returns the first fire time strictly after now, or ok=false when the
// schedule has no future occurrence (a one-shot already in the past).
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleEvery:
		if s.Every <= 0 {
			return time.Time{}, false
		}
		return now.Add(s.Every), true
	case ScheduleCron:
		parsed, err := exprParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		next := parsed.Next(now)
		return next, !next.IsZero()
	case ScheduleAt:
		if s.At.After(now) {
			return s.At, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Task is a durable scheduled job. The scheduler is its only writer after
// creation; the reasoning loop never mutates tasks directly.
type Task struct {
	ID         string       `json:"id"`
	Name       string       `json:"name,omitempty"`
	Schedule   Schedule     `json:"schedule"`
	SessionKey string       `json:"session_key"`
	Prompt     string       `json:"prompt"`
	Deliver    *core.Origin `json:"deliver,omitempty"`
	NextFireAt time.Time    `json:"next_fire_at"`
	Enabled    bool         `json:"enabled"`
	LastResult string       `json:"last_result,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Validate checks the task fields needed before scheduling.
func (t Task) Validate() error {
	if strings.TrimSpace(t.SessionKey) == "" {
		return &core.ValidationError{Field: "session_key", Message: "session key required"}
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return &core.ValidationError{Field: "prompt", Message: "prompt required"}
	}
	return t.Schedule.Validate()
}
