package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/scheduler"
)

const newSamplesTask = "new-samples"

func computingTask(issue models.IssueType) string {
	return "computing:" + string(issue)
}

// Poller drives an engine's recurring checks on a scheduler session: one
// poll task per computing issue, and the new-sample check until it
// completes. Events and polls share the session lock, so the engine only
// ever sees one of them at a time.
type Poller struct {
	engine   *Engine
	session  *scheduler.Session
	schedule cron.Schedule
	delay    time.Duration
	metrics  *metrics.Collector
}

// interval fires at a fixed delay after each run. Unlike cron.Every it
// keeps sub-second delays.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

// ParsePollSchedule parses a computing status poll spec ("@every 15s").
func ParsePollSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// NewPoller creates a poller. schedule paces computing status polls
// (every 15 seconds when nil); delay spaces the new-sample checks.
func NewPoller(e *Engine, s *scheduler.Session, schedule cron.Schedule, delay time.Duration) *Poller {
	if schedule == nil {
		schedule = interval(15 * time.Second)
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Poller{engine: e, session: s, schedule: schedule, delay: delay, metrics: e.metrics}
}

// Start schedules the new-sample check and polls for computing issues.
func (p *Poller) Start() error {
	return p.Do(func(ctx context.Context) error {
		if !p.engine.state.NewSampleScan {
			return nil
		}
		return p.session.EverySchedule(newSamplesTask, interval(p.delay), func(ctx context.Context) error {
			if err := p.engine.CheckForNewSamples(ctx); err != nil {
				return err
			}
			if !p.engine.state.NewSampleScan {
				return scheduler.ErrStop
			}
			return nil
		})
	})
}

// Do runs an event against the engine under the session lock, then starts
// polls for any issue that began computing.
func (p *Poller) Do(fn scheduler.Task) error {
	return p.session.Do(func(ctx context.Context) error {
		err := fn(ctx)
		if serr := p.sync(); err == nil {
			err = serr
		}
		return err
	})
}

// sync starts a poll task for each computing issue without one.
func (p *Poller) sync() error {
	for _, issue := range p.engine.state.ComputingIssues() {
		name := computingTask(issue)
		if p.session.Running(name) {
			continue
		}
		if err := p.session.EverySchedule(name, p.schedule, p.poll(issue)); err != nil {
			return err
		}
		p.engine.logger.Debug("polling computing status", "issue", issue)
	}
	return nil
}

func (p *Poller) poll(issue models.IssueType) scheduler.Task {
	return func(ctx context.Context) error {
		done := p.metrics.Track(metrics.OpPoll)
		err := p.engine.CheckComputingStatus(ctx, issue, p.engine.state.Computing[issue].DelegationRunID)
		done(err)
		if err != nil {
			return err
		}
		if !p.engine.state.Computing[issue].IsComputing {
			return scheduler.ErrStop
		}
		return nil
	}
}

// Close stops every task and flushes the engine's computing state.
func (p *Poller) Close(ctx context.Context) error {
	p.session.Close()
	return p.engine.Unload(ctx)
}
