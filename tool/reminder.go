package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/cron"
)

// NewScheduleReminderTool returns a tool that creates a reminder for the
// calling session. Exactly one of every_seconds, cron or at selects the
// schedule form. Fired reminders are delivered back to the originating chat.
func NewScheduleReminderTool(scheduler *cron.Scheduler) *FunctionTool {
	return NewFunctionTool(
		"schedule_reminder",
		"Schedule a reminder that will be sent back to this chat. Provide exactly one of every_seconds (repeat interval), cron (calendar expression) or at (RFC 3339 timestamp, one-shot).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "What to remind the user about.",
				},
				"every_seconds": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Repeat interval in seconds.",
				},
				"cron": map[string]any{
					"type":        "string",
					"description": "Five-field cron expression, e.g. '0 9 * * 1-5'.",
				},
				"at": map[string]any{
					"type":        "string",
					"description": "RFC 3339 timestamp for a one-shot reminder.",
				},
			},
			"required":             []string{"message"},
			"additionalProperties": false,
		},
		func(_ context.Context, tc *Context, args map[string]any) (any, error) {
			message, _ := args["message"].(string)

			schedule, err := reminderSchedule(args)
			if err != nil {
				return nil, err
			}

			deliver := tc.Origin
			id, err := scheduler.Schedule(cron.Task{
				Name:       "reminder",
				Schedule:   schedule,
				SessionKey: tc.SessionKey,
				Prompt:     fmt.Sprintf("Reminder for the user: %s", message),
				Deliver:    &deliver,
			})
			if err != nil {
				var verr *core.ValidationError
				if errors.As(err, &verr) {
					return nil, NewError("schedule_reminder", verr.Error(), "INVALID_SCHEDULE")
				}
				return nil, fmt.Errorf("schedule reminder: %w", err)
			}

			return map[string]any{"scheduled": true, "id": id}, nil
		},
		WithCapability(CapabilityScheduling),
	)
}

// NewListRemindersTool returns a tool that lists the calling session's
// pending reminders.
func NewListRemindersTool(scheduler *cron.Scheduler) *FunctionTool {
	return NewFunctionTool(
		"list_reminders",
		"List the reminders scheduled for this chat.",
		map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		func(_ context.Context, tc *Context, _ map[string]any) (any, error) {
			tasks, err := scheduler.List()
			if err != nil {
				return nil, fmt.Errorf("list reminders: %w", err)
			}

			reminders := make([]map[string]any, 0)
			for _, task := range tasks {
				if task.SessionKey != tc.SessionKey || !task.Enabled {
					continue
				}
				reminders = append(reminders, map[string]any{
					"id":           task.ID,
					"message":      task.Prompt,
					"schedule":     string(task.Schedule.Kind),
					"next_fire_at": task.NextFireAt.UTC().Format(time.RFC3339),
				})
			}

			return map[string]any{"reminders": reminders}, nil
		},
		WithCapability(CapabilityScheduling),
	)
}

// NewCancelReminderTool returns a tool that cancels one of the calling
// session's reminders by id. Reminders owned by other sessions are invisible.
func NewCancelReminderTool(scheduler *cron.Scheduler) *FunctionTool {
	return NewFunctionTool(
		"cancel_reminder",
		"Cancel a reminder previously created with schedule_reminder.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Identifier returned by schedule_reminder or list_reminders.",
				},
			},
			"required":             []string{"id"},
			"additionalProperties": false,
		},
		func(_ context.Context, tc *Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)

			tasks, err := scheduler.List()
			if err != nil {
				return nil, fmt.Errorf("list reminders: %w", err)
			}
			owned := false
			for _, task := range tasks {
				if task.ID == id && task.SessionKey == tc.SessionKey {
					owned = true
					break
				}
			}
			if !owned {
				return nil, NewError("cancel_reminder", fmt.Sprintf("no reminder with id %s", id), "NOT_FOUND")
			}

			if err := scheduler.Cancel(id); err != nil {
				if errors.Is(err, cron.ErrTaskNotFound) {
					return nil, NewError("cancel_reminder", fmt.Sprintf("no reminder with id %s", id), "NOT_FOUND")
				}
				return nil, fmt.Errorf("cancel reminder: %w", err)
			}

			return map[string]any{"cancelled": true, "id": id}, nil
		},
		WithCapability(CapabilityScheduling),
	)
}

func reminderSchedule(args map[string]any) (cron.Schedule, error) {
	var forms int
	var schedule cron.Schedule

	if v, ok := args["every_seconds"]; ok {
		seconds, ok := v.(float64)
		if !ok || seconds < 1 {
			return cron.Schedule{}, NewError("schedule_reminder", "every_seconds must be a positive integer", "INVALID_SCHEDULE")
		}
		schedule = cron.EverySchedule(time.Duration(seconds) * time.Second)
		forms++
	}
	if v, ok := args["cron"]; ok {
		expr, _ := v.(string)
		schedule = cron.CronSchedule(expr)
		forms++
	}
	if v, ok := args["at"]; ok {
		raw, _ := v.(string)
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return cron.Schedule{}, NewError("schedule_reminder", fmt.Sprintf("at is not an RFC 3339 timestamp: %v", err), "INVALID_SCHEDULE")
		}
		schedule = cron.AtSchedule(at)
		forms++
	}

	if forms != 1 {
		return cron.Schedule{}, NewError("schedule_reminder", "provide exactly one of every_seconds, cron or at", "INVALID_SCHEDULE")
	}
	return schedule, nil
}
