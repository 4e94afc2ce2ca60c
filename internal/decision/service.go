package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// StreamEvents carries decision lifecycle events for downstream consumers.
const StreamEvents = "decisions.events"

// OrchestratorActor is the actor id recorded for automated lifecycle changes.
const OrchestratorActor = "orchestrator"

var (
	// ErrNotPending is returned when a decision is approved or rejected outside the pending state.
	ErrNotPending = errors.New("decision is not pending")
	// ErrMissingActor is returned when a human decision has no actor.
	ErrMissingActor = errors.New("actor is required")
)

// Executor dispatches an approved decision to its related object.
type Executor interface {
	Execute(ctx context.Context, item models.DecisionItem) error
}

// Service owns every DecisionItem transition.
type Service struct {
	cfg   config.Config
	store store.Store
	exec  Executor
	now   func() time.Time
}

func NewService(cfg config.Config, st store.Store, exec Executor) *Service {
	return &Service{
		cfg:   cfg,
		store: st,
		exec:  exec,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Now returns the service's current time.
func (s *Service) Now() time.Time { return s.now() }

// Create inserts item as pending unless an open item already covers its related object and rule.
// It returns the stored item (the covering one on dedup) and whether a row was written.
func (s *Service) Create(ctx context.Context, item models.DecisionItem) (models.DecisionItem, bool, error) {
	now := s.now()
	item = s.fill(item, now)
	item.Status = models.StatusPending
	item.PriorityScore = PriorityScore(item, now)

	fx := store.Effects{
		Audit: []models.AuditLogEntry{s.audit("decision_created", item.CreatedByType, item.CreatedBy, item, map[string]any{
			"trigger_rule":  item.TriggerRule,
			"severity":      item.Severity,
			"required_role": item.RequiredRole,
		})},
		Outbox: []models.OutboxEvent{s.event("decision_created", item)},
	}
	if item.RequiresApproval {
		fx.Notifications = []models.Notification{{
			WorkspaceID: item.WorkspaceID,
			Type:        "approval_required",
			Title:       "Approval Required: " + item.Title,
			Message:     fmt.Sprintf("%s requires %s approval by %s", item.Title, item.RequiredRole, item.ApprovalDeadline.Format(time.RFC3339)),
			Data:        map[string]any{"decision_id": item.ID, "required_role": item.RequiredRole},
			DedupKey:    "approval_required:" + item.ID,
			CreatedAt:   now,
		}}
	}

	stored, created, err := s.store.CreateDecision(ctx, store.CreateDecisionParams{
		Item:          item,
		DedupStatuses: []models.Status{models.StatusPending},
		Effects:       fx,
	})
	if err != nil {
		return models.DecisionItem{}, false, fmt.Errorf("create decision for %s/%s: %w", item.RelatedObjectType, item.RelatedObjectID, err)
	}
	if created {
		telemetry.DecisionsCreated.WithLabelValues(stored.DecisionType, string(stored.Status)).Inc()
	}
	return stored, created, nil
}

// AutoApprove records item directly as approved by the system actor and dispatches execution.
// Redelivered requests are absorbed: an existing pending or approved item for the same
// object and rule is returned instead.
func (s *Service) AutoApprove(ctx context.Context, item models.DecisionItem, reason string) (models.DecisionItem, bool, error) {
	now := s.now()
	item = s.fill(item, now)
	actor := models.SystemActor
	item.Status = models.StatusApproved
	item.RequiresApproval = false
	item.DecisionMadeAt = &now
	item.DecisionMadeBy = &actor
	item.DecisionRationale = &reason

	fx := store.Effects{
		Audit: []models.AuditLogEntry{s.audit("auto_approved", models.ActorSystem, OrchestratorActor, item, map[string]any{
			"reason":       reason,
			"trigger_rule": item.TriggerRule,
		})},
		Notifications: []models.Notification{{
			WorkspaceID: item.WorkspaceID,
			Type:        "approval_completed",
			Title:       "Auto-approved: " + item.Title,
			Message:     reason,
			Data:        map[string]any{"decision_id": item.ID, "status": item.Status, "auto_approved": true},
			DedupKey:    "approval_completed:" + item.ID,
			CreatedAt:   now,
		}},
		Outbox: []models.OutboxEvent{s.event("decision_auto_approved", item)},
	}
	stored, created, err := s.store.CreateDecision(ctx, store.CreateDecisionParams{
		Item:          item,
		DedupStatuses: []models.Status{models.StatusPending, models.StatusApproved},
		Effects:       fx,
	})
	if err != nil {
		return models.DecisionItem{}, false, fmt.Errorf("auto-approve %s/%s: %w", item.RelatedObjectType, item.RelatedObjectID, err)
	}
	if !created {
		return stored, false, nil
	}
	telemetry.DecisionsCreated.WithLabelValues(stored.DecisionType, string(stored.Status)).Inc()
	telemetry.DecisionsResolved.WithLabelValues(string(models.StatusApproved)).Inc()
	s.execute(ctx, stored)
	return stored, true, nil
}

// AutoApproveEligible is the aggregate check for the fast path: nothing blocking,
// amount within the limit and risk within the ceiling.
func (s *Service) AutoApproveEligible(violations []policy.Violation, amount, risk float64) bool {
	a := policy.Assess(violations)
	return !a.Blocking && amount <= s.cfg.AutoApproveLimit && risk <= s.cfg.AutoApproveRiskCeil
}

// RequiresHumanReview reports whether a request must go to the approval queue regardless
// of eligibility.
func (s *Service) RequiresHumanReview(violations []policy.Violation, amount, risk float64) bool {
	a := policy.Assess(violations)
	return a.Blocking || amount > s.cfg.AutoApproveLimit || risk > s.cfg.HumanReviewRisk
}

// Approve moves a pending item to approved and dispatches execution. Execution failures
// are recorded on the related object and do not affect the returned decision.
func (s *Service) Approve(ctx context.Context, id, actor, rationale string) (models.DecisionItem, error) {
	item, err := s.decide(ctx, id, models.StatusApproved, actor, rationale)
	if err != nil {
		return models.DecisionItem{}, err
	}
	s.execute(ctx, item)
	return item, nil
}

// Reject moves a pending item to rejected.
func (s *Service) Reject(ctx context.Context, id, actor, rationale string) (models.DecisionItem, error) {
	return s.decide(ctx, id, models.StatusRejected, actor, rationale)
}

func (s *Service) decide(ctx context.Context, id string, to models.Status, actor, rationale string) (models.DecisionItem, error) {
	if actor == "" {
		return models.DecisionItem{}, ErrMissingActor
	}
	item, err := s.store.GetDecision(ctx, id)
	if err != nil {
		return models.DecisionItem{}, err
	}
	if !models.CanTransition(item.Status, to) {
		return models.DecisionItem{}, fmt.Errorf("%w: decision %s is %s", ErrNotPending, id, item.Status)
	}

	now := s.now()
	next := item.Clone()
	next.Status = to
	next.UpdatedAt = now
	next.DecisionMadeAt = &now
	next.DecisionMadeBy = &actor
	if rationale != "" {
		next.DecisionRationale = &rationale
	}
	action := "decision_" + string(to)
	err = s.store.ApplyTransitions(ctx, []store.Transition{{
		Item:         next,
		ExpectStatus: models.StatusPending,
		Effects: store.Effects{
			Audit: []models.AuditLogEntry{s.audit(action, models.ActorUser, actor, next, map[string]any{
				"from_status": item.Status,
				"rationale":   rationale,
			})},
			Outbox: []models.OutboxEvent{s.event(action, next)},
		},
	}})
	if errors.Is(err, store.ErrStatusConflict) {
		return models.DecisionItem{}, fmt.Errorf("%w: %w", ErrNotPending, err)
	}
	if err != nil {
		return models.DecisionItem{}, err
	}
	telemetry.DecisionsResolved.WithLabelValues(string(to)).Inc()
	log.Printf("decision: %s %s by %s", id, to, actor)
	return next, nil
}

func (s *Service) execute(ctx context.Context, item models.DecisionItem) {
	if s.exec == nil {
		return
	}
	if err := s.exec.Execute(ctx, item); err != nil {
		log.Printf("decision: execution of %s failed: %v", item.ID, err)
	}
}

// Prioritize recomputes the score of every pending item that requires approval, persists
// the scores and returns the queue best first.
func (s *Service) Prioritize(ctx context.Context) ([]models.DecisionItem, error) {
	items, err := s.store.ListDecisions(ctx, store.DecisionFilter{
		WorkspaceID: s.cfg.WorkspaceID,
		Statuses:    []models.Status{models.StatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	now := s.now()
	queue := make([]models.DecisionItem, 0, len(items))
	scores := make(map[string]float64, len(items))
	for _, item := range items {
		if !item.RequiresApproval {
			continue
		}
		item.PriorityScore = PriorityScore(item, now)
		scores[item.ID] = item.PriorityScore
		queue = append(queue, item)
	}
	SortQueue(queue)
	if err := s.store.UpdatePriorityScores(ctx, scores); err != nil {
		return nil, err
	}
	telemetry.PendingDecisions.Set(float64(len(queue)))
	return queue, nil
}

// SortQueue orders items by priority score descending, earlier creation first on ties.
func SortQueue(items []models.DecisionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *Service) fill(item models.DecisionItem, now time.Time) models.DecisionItem {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.WorkspaceID == 0 {
		item.WorkspaceID = s.cfg.WorkspaceID
	}
	if item.CreatedBy == "" {
		item.CreatedBy = OrchestratorActor
	}
	if item.CreatedByType == "" {
		item.CreatedByType = models.ActorAgent
	}
	if item.ContextData == nil {
		item.ContextData = map[string]any{}
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ApprovalDeadline.Before(now) {
		item.ApprovalDeadline = now
	}
	return item
}

func (s *Service) audit(action, actorType, actorID string, item models.DecisionItem, details map[string]any) models.AuditLogEntry {
	return models.AuditLogEntry{
		Action:     action,
		ActorType:  actorType,
		ActorID:    actorID,
		ObjectType: "decision_item",
		ObjectID:   item.ID,
		Details:    details,
		CreatedAt:  s.now(),
	}
}

func (s *Service) event(eventType string, item models.DecisionItem) models.OutboxEvent {
	return models.OutboxEvent{
		Stream:        StreamEvents,
		EventType:     eventType,
		AggregateType: "decision_item",
		AggregateID:   item.ID,
		Payload: map[string]any{
			"event_type":          eventType,
			"decision_id":         item.ID,
			"decision_type":       item.DecisionType,
			"status":              item.Status,
			"severity":            item.Severity,
			"required_role":       item.RequiredRole,
			"related_object_type": item.RelatedObjectType,
			"related_object_id":   item.RelatedObjectID,
			"trigger_rule":        item.TriggerRule,
			"approval_deadline":   item.ApprovalDeadline.UTC().Format(time.RFC3339),
		},
		CreatedAt: s.now(),
	}
}
