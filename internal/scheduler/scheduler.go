// Package scheduler drives the price check chain on a fixed interval and on
// demand, never running two chains at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBusy is returned by TriggerNow while a run is in flight.
var ErrBusy = errors.New("a price check is already running")

// Job is one execution of the chain.
type Job func(ctx context.Context) error

// Config holds the scheduler settings.
type Config struct {
	Interval time.Duration
	// RunOnStart runs the job once as soon as Start is called.
	RunOnStart bool
}

// Scheduler owns the busy flag shared by scheduled and manual runs.
type Scheduler struct {
	job  Job
	cfg  Config
	busy atomic.Bool
	runs atomic.Int64
	log  logrus.FieldLogger
}

func New(job Job, cfg Config, logger logrus.FieldLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &Scheduler{
		job: job,
		cfg: cfg,
		log: logger.WithField("component", "scheduler"),
	}
}

// Start blocks until ctx is cancelled, running the job every interval. A
// tick that fires while a run is in flight is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.cfg.Interval.String()).Info("Scheduler started")
	if s.cfg.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopping: context cancelled")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.TriggerNow(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			s.log.Warn("Skipping scheduled run: previous run still in flight")
			return
		}
		s.log.WithError(err).Error("Scheduled run finished with errors")
	}
}

// TriggerNow runs the job synchronously. It returns ErrBusy without
// running anything when another run is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	return s.run(ctx)
}

// Busy reports whether a run is in flight.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Runs returns the number of runs started so far.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

func (s *Scheduler) run(ctx context.Context) (err error) {
	n := s.runs.Add(1)
	log := s.log.WithField("run", n)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("Run panicked: %v", r)
			err = fmt.Errorf("run %d panicked: %v", n, r)
		}
		log.WithField("duration", time.Since(start).String()).Info("Run finished")
	}()

	log.Info("Run started")
	return s.job(ctx)
}
