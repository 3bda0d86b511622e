// Package host runs recurring passes under bounded execution grants.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/telemetry"
)

// TaskID names a recurring task registered with the host.
type TaskID string

const (
	// TaskRefresh is the short, frequent grant.
	TaskRefresh TaskID = "refresh"
	// TaskProcessing is the long grant used for maintenance plus a sync pass.
	TaskProcessing TaskID = "processing"
)

// Body is the work run inside one grant.
type Body func(ctx context.Context, exp Expiration) error

// Host schedules recurring tasks and runs bodies under an expiration signal.
type Host interface {
	ScheduleRecurring(id TaskID, earliestStart time.Time) error
	Run(ctx context.Context, id TaskID, body Body) error
}

// TaskConfig holds how often a task runs and how long each grant lasts.
type TaskConfig struct {
	Interval time.Duration
	Budget   time.Duration
}

// ErrUnknownTask is returned for task ids that were never registered.
var ErrUnknownTask = errors.New("unknown task")

type task struct {
	id   TaskID
	cfg  TaskConfig
	body Body
	next time.Time
	wake chan struct{}
}

// Scheduler implements Host with one supervised service per task.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[TaskID]*task
	order []TaskID

	telemetry *telemetry.Telemetry
}

var _ Host = (*Scheduler)(nil)

func NewScheduler(tel *telemetry.Telemetry) *Scheduler {
	return &Scheduler{tasks: make(map[TaskID]*task), telemetry: tel}
}

// Register adds a task. Its first run happens after one interval unless
// ScheduleRecurring says otherwise.
func (s *Scheduler) Register(id TaskID, cfg TaskConfig, body Body) error {
	if cfg.Interval <= 0 || cfg.Budget <= 0 {
		return fmt.Errorf("task %s: interval and budget must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; ok {
		return fmt.Errorf("task %s already registered", id)
	}

	s.tasks[id] = &task{
		id:   id,
		cfg:  cfg,
		body: body,
		next: time.Now().Add(cfg.Interval),
		wake: make(chan struct{}, 1),
	}
	s.order = append(s.order, id)

	return nil
}

// ScheduleRecurring moves the next run of id to earliestStart.
func (s *Scheduler) ScheduleRecurring(id TaskID, earliestStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	t.next = earliestStart

	select {
	case t.wake <- struct{}{}:
	default:
	}

	return nil
}

// Run executes body once under a fresh grant sized by the task's budget.
// Cancelling ctx expires the grant; it does not interrupt body.
func (s *Scheduler) Run(ctx context.Context, id TaskID, body Body) error {
	cfg, err := s.config(id)
	if err != nil {
		return err
	}

	ctx, logger := logctx.With(ctx, "task", string(id))

	grant := NewGrant(cfg.Budget)
	stop := context.AfterFunc(ctx, grant.Expire)

	defer stop()

	start := time.Now()

	logger.DebugContext(ctx, "pass started", "budget", cfg.Budget)

	err = body(context.WithoutCancel(ctx), grant)

	outcome := "success"

	switch {
	case err != nil:
		outcome = "failed"

		logger.ErrorContext(ctx, "pass failed", "err", err, "duration", time.Since(start))
	case grant.Expired():
		outcome = "expired"

		logger.InfoContext(ctx, "pass ran out of budget", "duration", time.Since(start))
	default:
		logger.DebugContext(ctx, "pass finished", "duration", time.Since(start))
	}

	s.telemetry.RecordPass(string(id), outcome, time.Since(start))

	return err
}

// Serve runs every registered task until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	handler := &sutureslog.Handler{Logger: logger}

	sup := suture.New("host", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   10 * time.Second,
	})

	s.mu.Lock()
	for _, id := range s.order {
		sup.Add(&taskService{scheduler: s, task: s.tasks[id], logger: logger.With("task", string(id))})
	}
	s.mu.Unlock()

	return sup.Serve(ctx)
}

func (s *Scheduler) String() string {
	return "host"
}

func (s *Scheduler) config(id TaskID) (TaskConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return TaskConfig{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	return t.cfg, nil
}

func (s *Scheduler) nextRun(t *task) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return t.next
}

// taskService is the suture.Service that fires one task on its schedule.
type taskService struct {
	scheduler *Scheduler
	task      *task
	logger    *slog.Logger
}

func (ts *taskService) Serve(ctx context.Context) error {
	ctx = logctx.WithLogger(ctx, ts.logger)

	for {
		timer := time.NewTimer(max(time.Until(ts.scheduler.nextRun(ts.task)), 0))

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-ts.task.wake:
			timer.Stop()

			continue
		case <-timer.C:
		}

		// A failed pass is recorded by Run; the task keeps its schedule.
		_ = ts.scheduler.Run(ctx, ts.task.id, ts.task.body)

		if err := ts.scheduler.ScheduleRecurring(ts.task.id, time.Now().Add(ts.task.cfg.Interval)); err != nil {
			return err
		}

		// drop the wake-up our own reschedule just queued
		select {
		case <-ts.task.wake:
		default:
		}
	}
}

func (ts *taskService) String() string {
	return "host-task-" + string(ts.task.id)
}
