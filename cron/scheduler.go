package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
)

// SubmitFunc admits a synthesized message into the gateway. It must return a
// *core.BackpressureError (possibly wrapped) when the target session's queue
// is full so the scheduler can retry on the next tick.
type SubmitFunc func(msg core.Message) error

// Options configures a Scheduler instance.
type Options struct {
	// TickInterval is the polling granularity for due checks. Sub-second
	// precision is not required; fires are human-facing reminders.
	TickInterval time.Duration
	// MaxFireRetries bounds how many consecutive ticks a backpressured fire
	// is retried before it is reported as a SchedulerFireError and the task
	// advances to its next occurrence.
	MaxFireRetries int
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger receives operational events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Scheduler owns the process-wide task set with an explicit lifecycle:
// load-on-start, persist-on-mutate, drain-on-shutdown. A single goroutine
// polls for due tasks; firing synthesizes a system-origin message and submits
// it through the same admission path as channel messages.
type Scheduler struct {
	store  TaskStore
	submit SubmitFunc
	logger logging.Logger

	tick           time.Duration
	maxFireRetries int
	now            func() time.Time

	mu      sync.Mutex
	retries map[string]int
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler constructs a scheduler bound to a task store and a gateway
// submit function.
func NewScheduler(store TaskStore, submit SubmitFunc, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		TickInterval:   time.Second,
		MaxFireRetries: 10,
		Now:            time.Now,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Scheduler{
		store:          store,
		submit:         submit,
		logger:         opts.Logger,
		tick:           opts.TickInterval,
		maxFireRetries: opts.MaxFireRetries,
		now:            opts.Now,
		retries:        make(map[string]int),
	}
}

// Schedule validates, initializes and persists a task, computing its first
// fire time. A task without an ID gets one assigned; the assigned ID is
// returned.
func (s *Scheduler) Schedule(task Task) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	if task.ID == "" {
		task.ID = core.NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now().UTC()
	}
	task.Enabled = true

	next, ok := task.Schedule.Next(s.now())
	if !ok {
		return "", &core.ValidationError{Field: "schedule", Message: "schedule has no future occurrence"}
	}
	task.NextFireAt = next

	if err := s.store.Put(task); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}
	s.logger.Info("cron.task.scheduled", "task_id", task.ID, "next_fire_at", task.NextFireAt)
	return task.ID, nil
}

// Cancel removes a task. Cancellation takes effect on the next polling
// check, not preemptively against an in-flight fire.
func (s *Scheduler) Cancel(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.retries, id)
	s.mu.Unlock()
	s.logger.Info("cron.task.cancelled", "task_id", id)
	return nil
}

// Disable stops further fires without removing the task definition.
func (s *Scheduler) Disable(id string) error {
	task, err := s.store.Get(id)
	if err != nil {
		return err
	}
	task.Enabled = false
	task.NextFireAt = time.Time{}
	return s.store.Put(task)
}

// List returns all stored tasks.
func (s *Scheduler) List() ([]Task, error) { return s.store.List() }

// Start reloads persisted tasks and begins the polling loop. Tasks whose
// stored fire time has passed (e.g. after an outage) are caught up with at
// most one execution each: the missed occurrences collapse into a single
// immediate fire, then the schedule continues from now.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.reload(); err != nil {
		return err
	}

	go s.run(ctx)
	return nil
}

// Stop halts the polling loop and waits for an in-flight tick to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runDue(s.now())
		}
	}
}

// reload recomputes fire times for enabled tasks after a restart.
func (s *Scheduler) reload() error {
	tasks, err := s.store.List()
	if err != nil {
		return fmt.Errorf("reload tasks: %w", err)
	}
	now := s.now()
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		if !task.NextFireAt.IsZero() && task.NextFireAt.After(now) {
			continue
		}
		// Missed while down: fire once at the next tick as catch-up.
		task.NextFireAt = now
		if err := s.store.Put(task); err != nil {
			return fmt.Errorf("persist reloaded task %s: %w", task.ID, err)
		}
		s.logger.Info("cron.task.catchup", "task_id", task.ID)
	}
	return nil
}

// runDue fires every enabled task whose fire time has arrived. Exposed to
// tests through package-internal calls with a controlled clock.
func (s *Scheduler) runDue(now time.Time) {
	tasks, err := s.store.List()
	if err != nil {
		s.logger.Error("cron.list.failed", "error", err.Error())
		return
	}

	for _, task := range tasks {
		if !task.Enabled || task.NextFireAt.IsZero() || task.NextFireAt.After(now) {
			continue
		}
		s.fire(task, now)
	}
}

func (s *Scheduler) fire(task Task, now time.Time) {
	msg := core.NewSystemMessage(task.SessionKey, task.Prompt)
	msg.Deliver = task.Deliver

	if err := s.submit(msg); err != nil {
		if core.IsBackpressure(err) {
			s.mu.Lock()
			s.retries[task.ID]++
			attempts := s.retries[task.ID]
			s.mu.Unlock()

			if attempts <= s.maxFireRetries {
				// Leave NextFireAt untouched; retried on the next tick.
				s.logger.Warn("cron.fire.backpressure", "task_id", task.ID, "attempt", attempts)
				return
			}
			fireErr := &core.SchedulerFireError{TaskID: task.ID, Attempts: attempts, Err: err}
			s.logger.Error("cron.fire.failed", "task_id", task.ID, "error", fireErr.Error())
			task.LastResult = fireErr.Error()
		} else {
			s.logger.Error("cron.fire.failed", "task_id", task.ID, "error", err.Error())
			task.LastResult = err.Error()
		}
	} else {
		task.LastResult = fmt.Sprintf("fired at %s", now.UTC().Format(time.RFC3339))
		s.logger.Info("cron.task.fired", "task_id", task.ID, "session_key", task.SessionKey)
	}

	s.mu.Lock()
	delete(s.retries, task.ID)
	s.mu.Unlock()

	next, ok := task.Schedule.Next(now)
	if !ok {
		// One-shot exhausted.
		task.Enabled = false
		task.NextFireAt = time.Time{}
	} else {
		task.NextFireAt = next
	}

	if err := s.store.Put(task); err != nil {
		s.logger.Error("cron.task.persist.failed", "task_id", task.ID, "error", err.Error())
	}
}
