package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/cron"
)

// openScheduler builds a scheduler over the configured task store without
// starting the polling loop. Administrative mutations only touch storage;
// a running serve process picks them up on its next tick or restart.
func openScheduler(configPath string) (*cron.Scheduler, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	closer := func() error { return nil }
	var store cron.TaskStore
	if cfg.Storage.Path != "" {
		sqliteStore, err := cron.NewSQLiteTaskStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		store = sqliteStore
		closer = sqliteStore.Close
	} else {
		store = cron.NewInMemoryTaskStore()
	}

	scheduler := cron.NewScheduler(store, func(core.Message) error { return nil })
	return scheduler, closer, nil
}

func newCronCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		newCronAddCmd(configPath),
		newCronListCmd(configPath),
		newCronRemoveCmd(configPath),
	)
	return cmd
}

func newCronAddCmd(configPath *string) *cobra.Command {
	var (
		name       string
		sessionKey string
		every      time.Duration
		expr       string
		at         string
		deliver    string
	)

	cmd := &cobra.Command{
		Use:   "add [prompt]",
		Short: "Schedule a task that injects a prompt into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, closeStore, err := openScheduler(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			schedule, err := buildSchedule(every, expr, at)
			if err != nil {
				return err
			}

			task := cron.Task{
				Name:       name,
				Schedule:   schedule,
				SessionKey: sessionKey,
				Prompt:     args[0],
			}
			if deliver != "" {
				origin, err := core.ParseOrigin(deliver)
				if err != nil {
					return err
				}
				task.Deliver = &origin
			}

			id, err := scheduler.Schedule(task)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "optional task name")
	cmd.Flags().StringVar(&sessionKey, "session", "", "target session key (channel:chat_id)")
	cmd.Flags().DurationVar(&every, "every", 0, "fixed repeat interval, e.g. 2h")
	cmd.Flags().StringVar(&expr, "cron", "", "cron expression, e.g. '0 9 * * 1-5'")
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 timestamp for a one-shot task")
	cmd.Flags().StringVar(&deliver, "deliver", "", "delivery target as channel:chat_id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildSchedule(every time.Duration, expr, at string) (cron.Schedule, error) {
	forms := 0
	var schedule cron.Schedule
	if every > 0 {
		schedule = cron.EverySchedule(every)
		forms++
	}
	if expr != "" {
		schedule = cron.CronSchedule(expr)
		forms++
	}
	if at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return cron.Schedule{}, &core.ValidationError{Field: "at", Message: err.Error()}
		}
		schedule = cron.AtSchedule(ts)
		forms++
	}
	if forms != 1 {
		return cron.Schedule{}, &core.ValidationError{
			Field:   "schedule",
			Message: "provide exactly one of --every, --cron or --at",
		}
	}
	return schedule, nil
}

func newCronListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scheduler, closeStore, err := openScheduler(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			tasks, err := scheduler.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSESSION\tKIND\tNEXT FIRE\tENABLED")
			for _, task := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					task.ID,
					task.Name,
					task.SessionKey,
					task.Schedule.Kind,
					task.NextFireAt.UTC().Format(time.RFC3339),
					task.Enabled,
				)
			}
			return w.Flush()
		},
	}
}

func newCronRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, closeStore, err := openScheduler(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := scheduler.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}
