// Package scheduler provides the foreground queue: a single consumer that
// executes every state-changing task one at a time in submission order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.scheduler")

// ErrStopped is returned for tasks submitted after StopScheduler.
var ErrStopped = errors.New("scheduler: stopped")

type Task struct {
	Name    string
	Execute func() error
}

type Scheduler struct {
	mu              sync.RWMutex // guards closed and sends on taskQueue
	closed          bool
	taskQueue       chan Task
	lowPriorityLock sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the specified queue size.
// Schedule blocks while the queue is full.
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// RunScheduler starts the consumer loop.
func (s *Scheduler) RunScheduler() {
	go func() {
		for {
			select {
			case task, ok := <-s.taskQueue:
				if !ok {
					return
				}
				s.execute(task)
			case <-s.stopChan:
				// Drain what was submitted before the stop.
				for task := range s.taskQueue {
					log.Debug("draining task", "task", task.Name)
					s.execute(task)
				}
				return
			}
		}
	}()
}

func (s *Scheduler) execute(task Task) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := task.Execute(); err != nil {
		log.Error("task failed", "task", task.Name, "error", err)
	}
}

// Schedule submits task without waiting for it.
func (s *Scheduler) Schedule(task Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrStopped, task.Name)
	}
	s.wg.Add(1)
	s.taskQueue <- task
	return nil
}

// ScheduleOrDrop submits task like Schedule. A task submitted after stop is
// dropped with a warning; it reports whether task was queued.
func (s *Scheduler) ScheduleOrDrop(task Task) bool {
	if err := s.Schedule(task); err != nil {
		log.Warning("dropped task", "task", task.Name, "error", err)
		return false
	}
	return true
}

func (s *Scheduler) trySchedule(task Task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	select {
	case s.taskQueue <- task:
		return true
	default:
		s.wg.Done()
		return false
	}
}

// Run submits task and waits until it has executed. It must not be called
// from a task running on the same scheduler.
func (s *Scheduler) Run(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	wrapped := Task{
		Name: task.Name,
		Execute: func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task %s panicked: %v", task.Name, r)
				}
				done <- err
			}()
			return task.Execute()
		},
	}
	if err := s.Schedule(wrapped); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every task submitted before the call has executed.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.Run(ctx, Task{Name: "flush", Execute: func() error { return nil }})
}

// SchedulePeriodicTask submits lowTask every interval. A tick is skipped when
// the queue is full.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, lowTask Task) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.lowPriorityLock.Lock()
				if s.trySchedule(lowTask) {
					log.Debug("scheduled periodic task", "task", lowTask.Name)
				} else {
					log.Debug("skipped periodic task", "task", lowTask.Name)
				}
				s.lowPriorityLock.Unlock()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// StopScheduler rejects new tasks, runs the queued ones and waits for them.
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	log.Info("stopping scheduler")
	s.closed = true
	close(s.stopChan)
	close(s.taskQueue)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("scheduler stopped")
}
