package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/correlation"
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

// --- Command types ---

type schedulerCmd interface{ schedulerCmd() }

type cmdCreateTask struct {
	task    ScheduledTask
	replyCh chan createResult
}

func (cmdCreateTask) schedulerCmd() {}

type cmdCancelByID struct {
	position int
	replyCh  chan cancelResult
}

func (cmdCancelByID) schedulerCmd() {}

type cmdCancelByObjective struct {
	objective domain.Objective
	replyCh   chan cancelResult
}

func (cmdCancelByObjective) schedulerCmd() {}

type cmdHydrate struct {
	tasks   []ScheduledTask
	replyCh chan int
}

func (cmdHydrate) schedulerCmd() {}

type cmdListTasks struct {
	replyCh chan []ScheduledTask
}

func (cmdListTasks) schedulerCmd() {}

// cmdTaskCompleted is sent by a timer after its side effect ran.
type cmdTaskCompleted struct {
	objective  domain.Objective
	generation uint64
}

func (cmdTaskCompleted) schedulerCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) schedulerCmd() {}

type createResult struct {
	outcome CreateOutcome
	err     error
}

type cancelResult struct {
	task ScheduledTask
	err  error
}

// liveTask pairs a task with its armed timer. generation identifies the timer
// so that a completion from a replaced timer is ignored. stopRun cancels the
// timer's wait and any side effect in progress.
type liveTask struct {
	ScheduledTask
	generation uint64
	stopRun    context.CancelFunc
	timer      clockwork.Timer
}

func (t *liveTask) cancel() {
	t.timer.Stop()
	t.stopRun()
}

// --- Scheduler ---

// Scheduler owns the list of scheduled tasks and one timer per task. Timers
// wait on their own goroutine and report back with a completion message, so
// the task list is only ever touched by the actor goroutine.
type Scheduler struct {
	cmdCh     chan schedulerCmd
	stoppedCh chan struct{}
	stopOnce  sync.Once
	timers    sync.WaitGroup

	tasks      []*liveTask
	generation uint64

	clock   clockwork.Clock
	runner  domain.ObjectiveRunner
	saver   domain.Saver
	metrics *metrics.SchedulerMetrics
}

func NewScheduler(clock clockwork.Clock, runner domain.ObjectiveRunner, saver domain.Saver, m *metrics.SchedulerMetrics) *Scheduler {
	s := &Scheduler{
		cmdCh:     make(chan schedulerCmd, 16),
		stoppedCh: make(chan struct{}),
		clock:     clock,
		runner:    runner,
		saver:     saver,
		metrics:   m,
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	ctx := context.Background()
	for cmd := range s.cmdCh {
		switch c := cmd.(type) {
		case cmdCreateTask:
			outcome, err := s.handleCreate(ctx, c.task)
			c.replyCh <- createResult{outcome: outcome, err: err}

		case cmdCancelByID:
			if c.position < 1 || c.position > len(s.tasks) {
				c.replyCh <- cancelResult{err: fmt.Errorf("task %d: %w: valid ids are 1..%d", c.position, domain.ErrInvalidID, len(s.tasks))}
				break
			}
			c.replyCh <- cancelResult{task: s.removeAt(ctx, c.position-1)}

		case cmdCancelByObjective:
			idx := s.find(c.objective)
			if idx < 0 {
				c.replyCh <- cancelResult{err: fmt.Errorf("task for %s: %w", c.objective, domain.ErrNotFound)}
				break
			}
			c.replyCh <- cancelResult{task: s.removeAt(ctx, idx)}

		case cmdHydrate:
			c.replyCh <- s.handleHydrate(ctx, c.tasks)

		case cmdListTasks:
			c.replyCh <- s.snapshot()

		case cmdTaskCompleted:
			idx := s.find(c.objective)
			if idx < 0 || s.tasks[idx].generation != c.generation {
				slog.DebugContext(ctx, "Ignoring completion of superseded timer", "objective", c.objective.String(), "generation", c.generation)
				break
			}
			s.tasks[idx].cancel()
			s.tasks = slices.Delete(s.tasks, idx, idx+1)
			s.save(ctx)
			slog.InfoContext(ctx, "Scheduled task completed", "objective", c.objective.String())

		case cmdStop:
			for _, t := range s.tasks {
				t.cancel()
			}
			s.tasks = nil
			s.metrics.ActiveTasks.Set(0)
			close(s.stoppedCh)
			close(c.doneCh)
			return
		}
	}
}

func (s *Scheduler) handleCreate(ctx context.Context, task ScheduledTask) (CreateOutcome, error) {
	if !task.Target.Time().After(s.clock.Now()) {
		return CreateOutcome{}, fmt.Errorf("schedule %s for %d: %w: must be in the future", task.Objective, task.Target, domain.ErrInvalidTimestamp)
	}

	var outcome CreateOutcome
	if idx := s.find(task.Objective); idx >= 0 {
		existing := s.tasks[idx]
		existing.cancel()
		outcome = CreateOutcome{Replaced: true, Previous: existing.Target}
		existing.Target = task.Target
		s.arm(existing)
		slog.InfoContext(ctx, "Scheduled task replaced", "objective", task.Objective.String(), "previous", int32(outcome.Previous), "target", int32(task.Target))
	} else {
		live := &liveTask{ScheduledTask: task}
		s.arm(live)
		s.tasks = append(s.tasks, live)
		slog.InfoContext(ctx, "Scheduled task created", "objective", task.Objective.String(), "target", int32(task.Target))
	}

	s.save(ctx)
	return outcome, nil
}

// handleHydrate re-arms persisted tasks and returns how many were dropped.
func (s *Scheduler) handleHydrate(ctx context.Context, tasks []ScheduledTask) int {
	now := s.clock.Now()
	dropped := 0
	for _, task := range tasks {
		switch {
		case !task.Target.Time().After(now):
			slog.WarnContext(ctx, "Dropping scheduled task whose time has passed", "objective", task.Objective.String(), "target", int32(task.Target))
		case s.find(task.Objective) >= 0:
			slog.WarnContext(ctx, "Dropping duplicate scheduled task", "objective", task.Objective.String(), "target", int32(task.Target))
		default:
			live := &liveTask{ScheduledTask: task}
			s.arm(live)
			s.tasks = append(s.tasks, live)
			continue
		}
		dropped++
		s.metrics.Dropped.Inc()
	}

	slog.InfoContext(ctx, "Schedule hydrated", "armed", len(s.tasks), "dropped", dropped)
	s.save(ctx)
	return dropped
}

// arm starts a fresh timer for t. The timer is created on the actor goroutine
// so it is registered with the clock before the caller gets a reply.
func (s *Scheduler) arm(t *liveTask) {
	s.generation++
	t.generation = s.generation
	runCtx, stopRun := context.WithCancel(context.Background())
	t.stopRun = stopRun
	t.timer = s.clock.NewTimer(t.Target.Time().Sub(s.clock.Now()))

	s.timers.Add(1)
	go s.wait(runCtx, t.ScheduledTask, t.generation, t.timer.Chan())
}

func (s *Scheduler) wait(runCtx context.Context, task ScheduledTask, generation uint64, fire <-chan time.Time) {
	defer s.timers.Done()

	select {
	case <-fire:
	case <-runCtx.Done():
		return
	}
	// Both may be ready when a replacement races the deadline; abort wins.
	if runCtx.Err() != nil {
		return
	}

	ctx := correlation.WithID(runCtx, correlation.NewID())
	slog.InfoContext(ctx, "Scheduled task firing", "objective", task.Objective.String(), "target", int32(task.Target))

	err := s.runner.RunObjective(ctx, task.Objective, task.Target)
	s.metrics.ObserveFired(task.Objective.String(), err)
	switch {
	case err != nil && runCtx.Err() != nil:
		slog.WarnContext(ctx, "Scheduled task aborted while running", "objective", task.Objective.String(), "error", err)
	case err != nil:
		slog.ErrorContext(ctx, "Scheduled task failed", "objective", task.Objective.String(), "error", err)
	}

	select {
	case s.cmdCh <- cmdTaskCompleted{objective: task.Objective, generation: generation}:
	case <-s.stoppedCh:
	}
}

func (s *Scheduler) removeAt(ctx context.Context, idx int) ScheduledTask {
	t := s.tasks[idx]
	t.cancel()
	s.tasks = slices.Delete(s.tasks, idx, idx+1)
	s.save(ctx)
	slog.InfoContext(ctx, "Scheduled task cancelled", "objective", t.Objective.String(), "target", int32(t.Target))
	return t.ScheduledTask
}

func (s *Scheduler) find(objective domain.Objective) int {
	return slices.IndexFunc(s.tasks, func(t *liveTask) bool { return t.Objective == objective })
}

func (s *Scheduler) snapshot() []ScheduledTask {
	out := make([]ScheduledTask, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.ScheduledTask
	}
	return out
}

func (s *Scheduler) save(ctx context.Context) {
	s.saver.Save(ctx, domain.KeyScheduledTasks, Tasks{Data: s.snapshot()})
	s.metrics.ActiveTasks.Set(float64(len(s.tasks)))
}

func ask[T any](ctx context.Context, s *Scheduler, cmd schedulerCmd, replyCh chan T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case s.cmdCh <- cmd:
	case <-s.stoppedCh:
		return zero, ErrSchedulerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-replyCh:
		return v, nil
	case <-s.stoppedCh:
		return zero, ErrSchedulerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CreateTask schedules objective at target, replacing any existing task for
// the same objective. The replaced timer is aborted before the new one is armed.
func (s *Scheduler) CreateTask(ctx context.Context, objective domain.Objective, target domain.UnixTimestamp) (CreateOutcome, error) {
	replyCh := make(chan createResult, 1)
	res, err := ask(ctx, s, cmdCreateTask{task: ScheduledTask{Objective: objective, Target: target}, replyCh: replyCh}, replyCh)
	if err != nil {
		return CreateOutcome{}, err
	}
	return res.outcome, res.err
}

// CancelTaskByID cancels the task at the 1-based position shown by Display.
func (s *Scheduler) CancelTaskByID(ctx context.Context, position int) (ScheduledTask, error) {
	replyCh := make(chan cancelResult, 1)
	res, err := ask(ctx, s, cmdCancelByID{position: position, replyCh: replyCh}, replyCh)
	if err != nil {
		return ScheduledTask{}, err
	}
	return res.task, res.err
}

func (s *Scheduler) CancelTaskByObjective(ctx context.Context, objective domain.Objective) (ScheduledTask, error) {
	replyCh := make(chan cancelResult, 1)
	res, err := ask(ctx, s, cmdCancelByObjective{objective: objective, replyCh: replyCh}, replyCh)
	if err != nil {
		return ScheduledTask{}, err
	}
	return res.task, res.err
}

// Hydrate arms timers for tasks restored after a restart. Tasks whose time
// has already passed are dropped, never fired late. It returns the number dropped.
func (s *Scheduler) Hydrate(ctx context.Context, persisted Tasks) (int, error) {
	replyCh := make(chan int, 1)
	return ask(ctx, s, cmdHydrate{tasks: persisted.Data, replyCh: replyCh}, replyCh)
}

func (s *Scheduler) Tasks(ctx context.Context) ([]ScheduledTask, error) {
	replyCh := make(chan []ScheduledTask, 1)
	return ask(ctx, s, cmdListTasks{replyCh: replyCh}, replyCh)
}

func (s *Scheduler) Display(ctx context.Context) (string, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return "", err
	}
	return Render(tasks), nil
}

// Stop cancels every timer and any side effect in progress, then waits for
// them to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		s.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
		s.timers.Wait()
	})
}
