package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"supplychain-orchestrator/internal/telemetry"
)

// Task is a unit of periodic work run by the supervisor.
type Task interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// ErrShutdownTimeout is returned by Wait when tasks are still running after the deadline.
var ErrShutdownTimeout = errors.New("tasks still running after shutdown timeout")

// Registry holds the tasks of one process, keyed by name.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Names must be unique and intervals positive.
func (r *Registry) Register(t Task) error {
	if t == nil {
		return errors.New("nil task")
	}
	if t.Interval() <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.Name()]; ok {
		return fmt.Errorf("task %s already registered", t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

// Tasks returns the registered tasks ordered by name.
func (r *Registry) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Supervisor runs every registered task on its own ticker until the context ends.
type Supervisor struct {
	registry *Registry
	wg       sync.WaitGroup
}

func NewSupervisor(r *Registry) *Supervisor {
	return &Supervisor{registry: r}
}

// Start launches one goroutine per task. The first cycle runs immediately.
func (s *Supervisor) Start(ctx context.Context) {
	for _, t := range s.registry.Tasks() {
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
	}
}

// Wait blocks until every task has returned or timeout elapses.
func (s *Supervisor) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (s *Supervisor) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()
	log.Printf("agent: %s started interval=%s", t.Name(), t.Interval())
	for {
		s.cycle(ctx, t)
		select {
		case <-ctx.Done():
			log.Printf("agent: %s stopped", t.Name())
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one iteration. Errors and panics are logged; the loop continues on the next tick.
func (s *Supervisor) cycle(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			log.Printf("agent: %s panicked: %v\n%s", t.Name(), r, debug.Stack())
		}
		telemetry.TaskCycles.WithLabelValues(t.Name(), outcome).Inc()
		telemetry.TaskCycleDuration.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())
	}()
	if err := t.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		outcome = "error"
		log.Printf("agent: %s cycle failed: %v", t.Name(), err)
	}
}
