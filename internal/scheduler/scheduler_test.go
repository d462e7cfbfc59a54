package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/BidScout/internal/logging"
	"github.com/TobiSchelling/BidScout/internal/pipeline"
)

type fakeRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	panics  bool
}

func (f *fakeRunner) Run(ctx context.Context) *pipeline.Summary {
	n := f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("boom")
	}
	return &pipeline.Summary{CycleID: string(rune('A' + n - 1))}
}

func TestNewValidatesInterval(t *testing.T) {
	for _, n := range []int{0, -5, 1441} {
		if _, err := New(&fakeRunner{}, n, nil, logging.Discard()); err == nil {
			t.Errorf("interval %d: expected error", n)
		}
	}
	s, err := New(&fakeRunner{}, 30, nil, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if s.Spec() != "@every 30m" {
		t.Errorf("spec = %q", s.Spec())
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	r := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := New(r, 1, nil, logging.Discard())

	go s.trigger()
	<-r.started
	if !s.Running() {
		t.Fatal("expected cycle to be running")
	}

	s.trigger() // overlapping trigger returns immediately
	if got := r.calls.Load(); got != 1 {
		t.Errorf("runner called %d times during overlap, want 1", got)
	}
	if s.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", s.Skipped())
	}

	close(r.release)
	s.Wait()
	if s.Running() {
		t.Error("flag should be cleared after the cycle")
	}
	if s.LastSummary() == nil || s.LastSummary().CycleID != "A" {
		t.Errorf("last summary = %+v", s.LastSummary())
	}

	r.started = nil
	s.trigger()
	if got := r.calls.Load(); got != 2 {
		t.Errorf("runner called %d times, want 2", got)
	}
}

func TestTriggerRecoversFromPanic(t *testing.T) {
	r := &fakeRunner{panics: true}
	s, _ := New(r, 1, nil, logging.Discard())

	s.trigger()
	if s.Running() {
		t.Fatal("flag must be cleared after a panic")
	}
	r.panics = false
	s.trigger()
	if r.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", r.calls.Load())
	}
	if s.LastSummary() == nil {
		t.Error("expected a summary from the second cycle")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	r := &fakeRunner{started: make(chan struct{}, 1)}
	s, _ := New(r, 60, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not start")
	}
}

func TestWaitAfterStartBlocksOnFirstCycle(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{})}
	s, _ := New(r, 60, nil, logging.Discard())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if !s.Running() {
		t.Fatal("first cycle should be claimed before Start returns")
	}
	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the first cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the cycle finished")
	}
	if r.calls.Load() != 1 || s.LastSummary() == nil {
		t.Errorf("calls = %d, last = %+v", r.calls.Load(), s.LastSummary())
	}
}
