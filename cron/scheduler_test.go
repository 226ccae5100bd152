package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

func TestSchedulerLifecycle(t *testing.T) {
	now := time.Now()
	sink := &captureSink{}
	s := NewScheduler(NewInMemoryTaskStore(), sink.submit, func(o *Options) {
		o.Now = func() time.Time { return now }
		o.TickInterval = time.Millisecond
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start must fail")
	s.Stop()
	s.Stop() // idempotent
}

// Interface compliance (compile-time assertions)
var (
	_ TaskStore = (*InMemoryTaskStore)(nil)
	_ TaskStore = (*SQLiteTaskStore)(nil)
)

type captureSink struct {
	mu   sync.Mutex
	msgs []core.Message
	err  error
}

func (c *captureSink) submit(msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *captureSink) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func newTestScheduler(t *testing.T, sink *captureSink, now *time.Time) *Scheduler {
	t.Helper()
	return NewScheduler(NewInMemoryTaskStore(), sink.submit, func(o *Options) {
		o.Now = func() time.Time { return *now }
		o.MaxFireRetries = 3
	})
}

func TestScheduleValidation(t *testing.T) {
	s := NewScheduler(NewInMemoryTaskStore(), (&captureSink{}).submit)

	tests := []struct {
		name string
		task Task
	}{
		{"missing session key", Task{Prompt: "p", Schedule: EverySchedule(time.Hour)}},
		{"missing prompt", Task{SessionKey: "k", Schedule: EverySchedule(time.Hour)}},
		{"zero interval", Task{SessionKey: "k", Prompt: "p", Schedule: EverySchedule(0)}},
		{"bad cron expr", Task{SessionKey: "k", Prompt: "p", Schedule: CronSchedule("not a cron")}},
		{"one-shot in the past", Task{SessionKey: "k", Prompt: "p", Schedule: AtSchedule(time.Now().Add(-time.Hour))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Schedule(tt.task)
			assert.Error(t, err)
		})
	}
}

func TestIntervalFiresExactlyOncePerPeriod(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now)

	id, err := s.Schedule(Task{
		SessionKey: "telegram:7",
		Prompt:     "time to stretch",
		Schedule:   EverySchedule(7200 * time.Second),
	})
	require.NoError(t, err)

	// Before the interval elapses: nothing fires.
	now = t0.Add(7199 * time.Second)
	s.runDue(now)
	assert.Equal(t, 0, sink.count())

	// Exactly 7200s later: exactly one fire.
	now = t0.Add(7200 * time.Second)
	s.runDue(now)
	assert.Equal(t, 1, sink.count())

	// Running again at the same instant must not double-fire.
	s.runDue(now)
	assert.Equal(t, 1, sink.count())

	// Next period fires again.
	now = t0.Add(14400 * time.Second)
	s.runDue(now)
	assert.Equal(t, 2, sink.count())

	task, err := s.store.Get(id)
	require.NoError(t, err)
	assert.True(t, task.Enabled)
	assert.Equal(t, now.Add(7200*time.Second), task.NextFireAt)
}

func TestIntervalCatchUpIsLimitedToOneFire(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now)

	_, err := s.Schedule(Task{
		SessionKey: "telegram:7",
		Prompt:     "stretch",
		Schedule:   EverySchedule(7200 * time.Second),
	})
	require.NoError(t, err)

	// Jumping the clock two full periods without intermediate ticks yields a
	// single catch-up fire; the schedule then continues from now.
	now = t0.Add(14400 * time.Second)
	s.runDue(now)
	assert.Equal(t, 1, sink.count())

	s.runDue(now)
	assert.Equal(t, 1, sink.count())
}

func TestFireSynthesizesSystemMessage(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now)

	deliver := &core.Origin{Channel: "telegram", ChatID: "7"}
	_, err := s.Schedule(Task{
		SessionKey: "telegram:7",
		Prompt:     "remind me to stretch",
		Deliver:    deliver,
		Schedule:   EverySchedule(time.Hour),
	})
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	s.runDue(now)

	require.Equal(t, 1, sink.count())
	msg := sink.msgs[0]
	assert.Equal(t, core.RoleSystem, msg.Role)
	assert.Equal(t, core.ChannelCron, msg.Origin.Channel)
	assert.Equal(t, "telegram:7", msg.SessionKey)
	assert.Equal(t, "remind me to stretch", msg.Body)
	require.NotNil(t, msg.Deliver)
	assert.Equal(t, *deliver, *msg.Deliver)
}

func TestOneShotDisablesAfterFiring(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now)

	id, err := s.Schedule(Task{
		SessionKey: "slack:C1",
		Prompt:     "standup",
		Schedule:   AtSchedule(t0.Add(10 * time.Minute)),
	})
	require.NoError(t, err)

	now = t0.Add(10 * time.Minute)
	s.runDue(now)
	require.Equal(t, 1, sink.count())

	task, err := s.store.Get(id)
	require.NoError(t, err)
	assert.False(t, task.Enabled)
	assert.True(t, task.NextFireAt.IsZero())

	now = now.Add(time.Hour)
	s.runDue(now)
	assert.Equal(t, 1, sink.count())
}

func TestBackpressureRetriesThenReports(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now) // MaxFireRetries = 3

	id, err := s.Schedule(Task{
		SessionKey: "telegram:7",
		Prompt:     "stretch",
		Schedule:   EverySchedule(time.Hour),
	})
	require.NoError(t, err)

	sink.setErr(&core.BackpressureError{SessionKey: "telegram:7", Depth: 8})

	// Within the retry window the fire time stays put and is retried.
	now = t0.Add(time.Hour)
	for i := 0; i < 3; i++ {
		s.runDue(now)
		task, err := s.store.Get(id)
		require.NoError(t, err)
		assert.False(t, task.NextFireAt.After(now), "fire must stay due while retrying")
	}

	// Exceeding the window reports a SchedulerFireError, keeps the task
	// enabled and advances to the next occurrence.
	s.runDue(now)
	task, err := s.store.Get(id)
	require.NoError(t, err)
	assert.True(t, task.Enabled)
	assert.True(t, task.NextFireAt.After(now))
	assert.Contains(t, task.LastResult, "fire failed")

	// Recovered submissions fire normally on the next occurrence.
	sink.setErr(nil)
	now = task.NextFireAt
	s.runDue(now)
	assert.Equal(t, 1, sink.count())
}

func TestReloadCatchesUpMissedTasksOnce(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	store := NewInMemoryTaskStore()

	// Simulate a task persisted by a previous process whose fire time passed
	// long ago (outage).
	require.NoError(t, store.Put(Task{
		ID:         "t1",
		SessionKey: "telegram:7",
		Prompt:     "stretch",
		Schedule:   EverySchedule(time.Hour),
		NextFireAt: t0.Add(-10 * time.Hour),
		Enabled:    true,
		CreatedAt:  t0.Add(-24 * time.Hour),
	}))

	s := NewScheduler(store, sink.submit, func(o *Options) {
		o.Now = func() time.Time { return now }
	})
	require.NoError(t, s.reload())

	s.runDue(now)
	assert.Equal(t, 1, sink.count(), "ten missed periods collapse into one catch-up fire")

	task, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), task.NextFireAt)
}

func TestCancelRemovesTask(t *testing.T) {
	s := NewScheduler(NewInMemoryTaskStore(), (&captureSink{}).submit)
	id, err := s.Schedule(Task{SessionKey: "k", Prompt: "p", Schedule: EverySchedule(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))
	assert.ErrorIs(t, s.Cancel(id), ErrTaskNotFound)

	tasks, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDisableStopsFires(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sink := &captureSink{}
	s := newTestScheduler(t, sink, &now)

	id, err := s.Schedule(Task{SessionKey: "k", Prompt: "p", Schedule: EverySchedule(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.Disable(id))

	now = t0.Add(2 * time.Hour)
	s.runDue(now)
	assert.Equal(t, 0, sink.count())
}

func TestCronExpressionSchedule(t *testing.T) {
	sched := CronSchedule("0 9 * * *")
	require.NoError(t, sched.Validate())

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	next, ok := sched.Next(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), next)

	next, ok = sched.Next(next)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), next)
}
