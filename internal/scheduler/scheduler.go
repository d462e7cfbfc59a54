package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/pipeline"
)

const (
	MinInterval = 1
	MaxInterval = 1440
)

// Runner executes one pipeline cycle.
type Runner interface {
	Run(ctx context.Context) *pipeline.Summary
}

// Scheduler triggers cycles on a fixed interval and never lets two cycles
// overlap: a trigger that fires while a cycle is running is skipped, not
// queued.
type Scheduler struct {
	runner  Runner
	spec    string
	cron    *cron.Cron
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	running atomic.Bool
	skipped atomic.Int64

	mu   sync.Mutex
	ctx  context.Context
	last *pipeline.Summary
	done chan struct{}
}

// New creates a scheduler running every intervalMinutes (1..1440).
func New(runner Runner, intervalMinutes int, m *metrics.Metrics, log logrus.FieldLogger) (*Scheduler, error) {
	if intervalMinutes < MinInterval || intervalMinutes > MaxInterval {
		return nil, fmt.Errorf("interval must be between %d and %d minutes, got %d", MinInterval, MaxInterval, intervalMinutes)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		runner:  runner,
		spec:    fmt.Sprintf("@every %dm", intervalMinutes),
		cron:    cron.New(),
		metrics: m,
		log:     log,
		ctx:     context.Background(),
	}, nil
}

// Spec returns the cron schedule expression.
func (s *Scheduler) Spec() string { return s.spec }

// Start runs one cycle immediately and then one per interval. Cycles run
// with ctx; cancelling it is the only way to interrupt one.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.spec, s.trigger); err != nil {
		return fmt.Errorf("scheduling %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.WithField("spec", s.spec).Info("scheduler started")

	// Claim the first cycle before returning so a Wait right after Start
	// blocks on it.
	if done, ok := s.begin(); ok {
		go s.run(done)
	}
	return nil
}

// Stop cancels future triggers. An in-flight cycle keeps running; use Wait
// to block until it ends.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// Wait blocks until the in-flight cycle, if any, has finished.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Skipped returns how many triggers were dropped because a cycle was running.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// LastSummary returns the summary of the most recently finished cycle.
func (s *Scheduler) LastSummary() *pipeline.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) trigger() {
	if done, ok := s.begin(); ok {
		s.run(done)
	}
}

// begin claims the running flag and publishes the done channel for Wait. It
// reports false, counting a skip, when a cycle is already in progress.
func (s *Scheduler) begin() (chan struct{}, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.metrics.CycleSkipped()
		s.log.Warn("previous cycle still running, skipping this trigger")
		return nil, false
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()
	return done, true
}

func (s *Scheduler) run(done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Errorf("cycle panicked\n%s", debug.Stack())
		}
		s.running.Store(false)
		close(done)
	}()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	summary := s.runner.Run(ctx)
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
}
