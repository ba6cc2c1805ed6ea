// Package scheduler runs the periodic background sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shopora/affiliate-backend/internal/common/logger"
)

// Scheduler drives a set of interval tasks.
type Scheduler struct {
	tasks  []*Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context) error
}

// NewScheduler creates the scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make([]*Task, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask registers a task.
func (s *Scheduler) AddTask(name string, interval time.Duration, handler func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	})
}

// Start launches every task in its own goroutine.
func (s *Scheduler) Start() {
	logger.Infof("scheduler starting with %d tasks", len(s.tasks))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop cancels all tasks and waits for them to finish.
func (s *Scheduler) Stop() {
	logger.Info("scheduler stopping")
	s.cancel()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) runTask(task *Task) {
	defer s.wg.Done()

	logger.Infof("task %q started, interval %v", task.Name, task.Interval)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	s.executeTask(task)

	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("task %q stopped", task.Name)
			return
		case <-ticker.C:
			s.executeTask(task)
		}
	}
}

func (s *Scheduler) executeTask(task *Task) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := task.Handler(ctx); err != nil {
		logger.Errorf("task %q failed: %v", task.Name, err)
	} else {
		logger.Debugf("task %q completed in %v", task.Name, time.Since(start))
	}
}
