package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// Inbound streams with a dedicated handler. Every other configured stream is treated
// as a domain event stream that updates subject snapshots.
const (
	StreamApprovalRequests   = "approvals.requests"
	StreamProcurementActions = "procurement.actions"
)

// Bus is the part of the message bus the orchestrator consumes from.
type Bus interface {
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]bus.Message, error)
	ClaimAbandoned(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]bus.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	DeadLetter(ctx context.Context, msg bus.Message, cause error) error
}

// Orchestrator drives one decision cycle at a time. A single active instance is assumed.
type Orchestrator struct {
	cfg       config.Config
	bus       Bus
	store     store.Store
	policies  *policy.Engine
	decisions *decision.Service
	consumer  string
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Consumed         int
	DeadLettered     int
	Generated        int
	AutoApproved     int
	Queued           int
	Escalated        int
	TimedOut         int
	Warned           int
	Superseded       int
	PoliciesReloaded bool
}

func New(cfg config.Config, b Bus, st store.Store, engine *policy.Engine, svc *decision.Service) *Orchestrator {
	consumer := cfg.ConsumerName
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("orchestrator-%s-%d", host, os.Getpid())
	}
	return &Orchestrator{
		cfg:       cfg,
		bus:       b,
		store:     st,
		policies:  engine,
		decisions: svc,
		consumer:  consumer,
	}
}

// Name identifies the task to the supervisor.
func (o *Orchestrator) Name() string { return "orchestrator" }

// Interval is the fixed period between cycles.
func (o *Orchestrator) Interval() time.Duration { return o.cfg.OrchestratorInterval }

// Run executes one cycle for the supervisor.
func (o *Orchestrator) Run(ctx context.Context) error {
	report, err := o.RunCycle(ctx)
	log.Printf("orchestrator: cycle consumed=%d dead_lettered=%d generated=%d auto_approved=%d queued=%d escalated=%d timed_out=%d warned=%d superseded=%d",
		report.Consumed, report.DeadLettered, report.Generated, report.AutoApproved, report.Queued,
		report.Escalated, report.TimedOut, report.Warned, report.Superseded)
	return err
}

// RunCycle drains inbound streams, generates decision items from subject populations,
// reprioritizes the queue, escalates overdue items, resolves conflicts and refreshes the
// policy table. A failing phase does not stop later phases; all failures are joined.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	var (
		report CycleReport
		errs   []error
	)

	for _, stream := range o.cfg.InboundStreams {
		consumed, deadLettered, err := o.drain(ctx, stream)
		report.Consumed += consumed
		report.DeadLettered += deadLettered
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	generated, autoApproved, err := o.Generate(ctx)
	report.Generated, report.AutoApproved = generated, autoApproved
	if err != nil {
		errs = append(errs, fmt.Errorf("generate: %w", err))
	}

	queue, err := o.decisions.Prioritize(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("prioritize: %w", err))
	}
	report.Queued = len(queue)

	escalation, err := o.decisions.EscalateOverdue(ctx)
	report.Escalated, report.TimedOut, report.Warned = escalation.Escalated, escalation.TimedOut, escalation.Warned
	if err != nil {
		errs = append(errs, fmt.Errorf("escalate: %w", err))
	}

	superseded, err := o.decisions.ResolveConflicts(ctx)
	report.Superseded = superseded
	if err != nil {
		errs = append(errs, fmt.Errorf("resolve conflicts: %w", err))
	}

	reloaded, err := o.RefreshPolicies()
	report.PoliciesReloaded = reloaded
	if err != nil {
		errs = append(errs, fmt.Errorf("refresh policies: %w", err))
	}
	return report, errors.Join(errs...)
}

// drain reclaims abandoned entries, then reads new ones, and handles each. Decode
// failures are dead-lettered and acknowledged; other failures leave the entry pending
// so it is reclaimed on a later cycle.
func (o *Orchestrator) drain(ctx context.Context, stream string) (int, int, error) {
	var errs []error
	claimed, err := o.bus.ClaimAbandoned(ctx, stream, o.cfg.ConsumerGroup, o.consumer, o.cfg.ClaimMinIdle, o.cfg.ConsumeCount)
	if err != nil {
		return 0, 0, err
	}
	fresh, err := o.bus.Consume(ctx, stream, o.cfg.ConsumerGroup, o.consumer, o.cfg.ConsumeCount, o.cfg.ConsumeBlock)
	if err != nil {
		errs = append(errs, err)
	}

	consumed, deadLettered := 0, 0
	for _, msg := range append(claimed, fresh...) {
		consumed++
		herr := o.handle(ctx, msg)
		if herr != nil && !bus.IsDeserialization(herr) {
			log.Printf("orchestrator: %s %s left pending: %v", stream, msg.ID, herr)
			errs = append(errs, herr)
			continue
		}
		if herr != nil {
			if err := o.bus.DeadLetter(ctx, msg, herr); err != nil {
				errs = append(errs, err)
				continue
			}
			deadLettered++
			log.Printf("orchestrator: dead-lettered %s %s: %v", stream, msg.ID, herr)
		}
		if err := o.bus.Ack(ctx, stream, o.cfg.ConsumerGroup, msg.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return consumed, deadLettered, errors.Join(errs...)
}

func (o *Orchestrator) handle(ctx context.Context, msg bus.Message) error {
	switch msg.Stream {
	case StreamApprovalRequests:
		return o.handleApprovalRequest(ctx, msg)
	case StreamProcurementActions:
		return o.handleProcurementAction(ctx, msg)
	default:
		return o.handleDomainEvent(ctx, msg)
	}
}

// RefreshPolicies reloads the rule table when it is file backed. On error the previous
// table stays active.
func (o *Orchestrator) RefreshPolicies() (bool, error) {
	changed, err := o.policies.Refresh()
	if err != nil {
		return false, err
	}
	if changed {
		telemetry.PolicyReloads.Inc()
	}
	return changed, nil
}
