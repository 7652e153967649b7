// Package scheduler runs a panel session's poll tasks.
//
// A Session owns a context that is cancelled when the session closes, so
// every task started on it stops with the session. Tasks and events run
// one at a time under the session lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrStop may be returned by a task to end its schedule.
var ErrStop = errors.New("stop task")

// ErrClosed is returned when scheduling on a closed session.
var ErrClosed = errors.New("session closed")

// Task is one scheduled unit of work. Tasks run under the session lock and
// must not call Do.
type Task func(ctx context.Context) error

// Session schedules tasks tied to a single panel session.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// run serializes task executions and events.
	run sync.Mutex

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewSession creates a session whose tasks stop when parent is cancelled
// or Close is called.
func NewSession(parent context.Context, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Do runs fn under the session lock, serialized with scheduled tasks.
func (s *Session) Do(fn Task) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	s.run.Lock()
	defer s.run.Unlock()
	return fn(s.ctx)
}

// Every runs fn on a standard cron spec ("*/5 * * * *", "@every 15s").
// Scheduling a name that is already running replaces the old task.
func (s *Session) Every(name, spec string, fn Task) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s.EverySchedule(name, sched, fn)
}

// EverySchedule runs fn each time sched fires.
func (s *Session) EverySchedule(name string, sched cron.Schedule, fn Task) error {
	return s.start(name, func(ctx context.Context) {
		for {
			now := time.Now()
			wait := sched.Next(now).Sub(now)
			if !s.sleep(ctx, wait) {
				return
			}
			if s.execute(ctx, name, fn) {
				return
			}
		}
	})
}

// After runs fn once after delay.
func (s *Session) After(name string, delay time.Duration, fn Task) error {
	return s.start(name, func(ctx context.Context) {
		if s.sleep(ctx, delay) {
			s.execute(ctx, name, fn)
		}
	})
}

// Running reports whether a task with name is scheduled.
func (s *Session) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Stop cancels the named task. Stopping an unknown task is a no-op.
func (s *Session) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tasks[name]; ok {
		cancel()
		delete(s.tasks, name)
	}
}

// Close cancels all tasks and waits for running ones to return.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	for name, cancel := range s.tasks {
		cancel()
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) start(name string, loop func(ctx context.Context)) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if old, ok := s.tasks[name]; ok {
		old()
	}
	s.tasks[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(name, ctx)
		loop(ctx)
	}()
	return nil
}

// forget removes name from the task table if it still refers to ctx's task.
func (s *Session) forget(name string, ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() == nil {
		// Task ended by itself; its cancel func is still registered.
		if cancel, ok := s.tasks[name]; ok {
			cancel()
			delete(s.tasks, name)
		}
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// execute runs fn under the session lock and reports whether the task
// should stop.
func (s *Session) execute(ctx context.Context, name string, fn Task) bool {
	s.run.Lock()
	defer s.run.Unlock()

	if ctx.Err() != nil {
		return true
	}
	err := fn(ctx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStop):
		s.logger.Debug("task finished", "task", name)
		return true
	default:
		s.logger.Warn("task failed", "task", name, "error", err)
		return false
	}
}
