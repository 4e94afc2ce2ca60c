package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingTask struct {
	name     string
	interval time.Duration
	runs     atomic.Int32
	run      func(n int32) error
}

func (c *countingTask) Name() string            { return c.name }
func (c *countingTask) Interval() time.Duration { return c.interval }
func (c *countingTask) Run(ctx context.Context) error {
	n := c.runs.Add(1)
	if c.run != nil {
		return c.run(n)
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestRegistryRejectsDuplicatesAndBadIntervals(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&countingTask{name: "outbox", interval: time.Second}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&countingTask{name: "outbox", interval: time.Second}); err == nil {
		t.Fatalf("expected duplicate name to fail")
	}
	if err := r.Register(&countingTask{name: "idle", interval: 0}); err == nil {
		t.Fatalf("expected zero interval to fail")
	}
	if err := r.Register(&countingTask{name: "archive", interval: time.Minute}); err != nil {
		t.Fatalf("register: %v", err)
	}
	tasks := r.Tasks()
	if len(tasks) != 2 || tasks[0].Name() != "archive" || tasks[1].Name() != "outbox" {
		t.Fatalf("unexpected task order")
	}
}

func TestSupervisorSurvivesErrorsAndPanics(t *testing.T) {
	failing := &countingTask{name: "failing", interval: 10 * time.Millisecond, run: func(n int32) error {
		return errors.New("broker down")
	}}
	panicking := &countingTask{name: "panicking", interval: 10 * time.Millisecond, run: func(n int32) error {
		if n == 1 {
			panic("boom")
		}
		return nil
	}}
	r := NewRegistry()
	for _, task := range []Task{failing, panicking} {
		if err := r.Register(task); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(r)
	sup.Start(ctx)
	waitFor(t, func() bool { return failing.runs.Load() >= 3 && panicking.runs.Load() >= 3 })
	cancel()
	if err := sup.Wait(time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitTimesOutOnStuckTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := &countingTask{name: "stuck", interval: time.Hour, run: func(n int32) error {
		<-release
		return nil
	}}
	r := NewRegistry()
	if err := r.Register(stuck); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(r)
	sup.Start(ctx)
	waitFor(t, func() bool { return stuck.runs.Load() == 1 })
	cancel()
	if err := sup.Wait(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected shutdown timeout got %v", err)
	}
}
