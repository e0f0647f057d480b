// Package scheduler drives maintenance tasks from a single control loop.
//
// Tasks never run concurrently: the loop always executes the task with the
// earliest pending due time, sleeping until that time arrives. Serializing
// all storage-mutating activities through one loop is what makes locking
// unnecessary elsewhere.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Task is a maintenance activity with a self-reported schedule.
type Task interface {
	// Name identifies the task in logs and errors.
	Name() string
	// Run executes the activity. An error is fatal to the whole scheduler;
	// a task decides internally what is retryable.
	Run(ctx context.Context) error
	// NextDue reports when the task should next run. ok=false means never
	// again: the task is permanently removed.
	NextDue(ctx context.Context) (due time.Time, ok bool, err error)
}

// Clock abstracts wall-clock time so scheduling order can be tested against
// a simulated clock.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d, or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type entry struct {
	due  time.Time
	seq  int // insertion order, ties broken deterministically
	task Task
}

type queue []*entry

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)        { *q = append(*q, x.(*entry)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

type Scheduler struct {
	clock Clock
	log   *zap.Logger
	q     queue
	seq   int
}

func New(log *zap.Logger) *Scheduler {
	return NewWithClock(log, realClock{})
}

func NewWithClock(log *zap.Logger, clock Clock) *Scheduler {
	return &Scheduler{clock: clock, log: log}
}

// Add registers a task, querying its first due time. A task that reports no
// due time is never queued.
func (s *Scheduler) Add(ctx context.Context, t Task) error {
	due, ok, err := t.NextDue(ctx)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.Name(), err)
	}
	if !ok {
		s.log.Debug("task opted out at registration", zap.String("task", t.Name()))
		return nil
	}
	heap.Push(&s.q, &entry{due: due, seq: s.seq, task: t})
	s.seq++
	return nil
}

// Run executes tasks in due-time order until every task has opted out or
// ctx is cancelled. Cancellation is honored between tasks, never in the
// middle of one, so a shutdown signal leaves no transfer half-done.
// Task failures are not caught here: the first error ends the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for s.q.Len() > 0 {
		head := s.q[0]
		if wait := head.due.Sub(s.clock.Now()); wait > 0 {
			s.log.Debug("sleeping until next task",
				zap.String("task", head.task.Name()),
				zap.Duration("wait", wait))
			s.clock.Sleep(ctx, wait)
		}
		if ctx.Err() != nil {
			s.log.Info("shutting down", zap.String("next_task", head.task.Name()))
			return nil
		}

		s.log.Info("running task", zap.String("task", head.task.Name()))
		if err := head.task.Run(ctx); err != nil {
			return fmt.Errorf("task %s: %w", head.task.Name(), err)
		}

		due, ok, err := head.task.NextDue(ctx)
		if err != nil {
			return fmt.Errorf("task %s: %w", head.task.Name(), err)
		}
		if !ok {
			s.log.Info("task finished for good", zap.String("task", head.task.Name()))
			heap.Pop(&s.q)
			continue
		}
		head.due = due
		heap.Fix(&s.q, 0)
	}
	return nil
}
