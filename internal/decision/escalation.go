package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// EscalationReport counts the outcomes of one overdue pass.
type EscalationReport struct {
	Escalated int
	TimedOut  int
	Warned    int
}

// EscalateOverdue escalates every pending item past its deadline, times out items that
// already hit the escalation limit, and sends one deadline warning for items due soon.
// A failure on one item does not stop the pass; failures are joined into the result.
func (s *Service) EscalateOverdue(ctx context.Context) (EscalationReport, error) {
	var (
		report EscalationReport
		errs   []error
	)
	now := s.now()
	overdue, err := s.store.ListDecisions(ctx, store.DecisionFilter{
		WorkspaceID:    s.cfg.WorkspaceID,
		Statuses:       []models.Status{models.StatusPending},
		DeadlineBefore: now,
	})
	if err != nil {
		return report, fmt.Errorf("list overdue: %w", err)
	}
	for _, item := range overdue {
		if !item.RequiresApproval {
			continue
		}
		if s.cfg.MaxEscalations > 0 && item.EscalationCount() >= s.cfg.MaxEscalations {
			ok, err := s.timeout(ctx, item, now)
			if err != nil {
				errs = append(errs, err)
			} else if ok {
				report.TimedOut++
			}
			continue
		}
		ok, err := s.escalate(ctx, item, now)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			report.Escalated++
		}
	}

	upcoming, err := s.store.ListDecisions(ctx, store.DecisionFilter{
		WorkspaceID:    s.cfg.WorkspaceID,
		Statuses:       []models.Status{models.StatusPending},
		DeadlineBefore: now.Add(s.cfg.DeadlineWarningWindow),
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("list upcoming deadlines: %w", err))
		return report, errors.Join(errs...)
	}
	for _, item := range upcoming {
		if !item.RequiresApproval || item.ApprovalDeadline.Before(now) {
			continue
		}
		created, err := s.warn(ctx, item, now)
		if err != nil {
			errs = append(errs, err)
		} else if created {
			report.Warned++
		}
	}
	return report, errors.Join(errs...)
}

func (s *Service) escalate(ctx context.Context, item models.DecisionItem, now time.Time) (bool, error) {
	fromRole, fromSeverity := item.RequiredRole, item.Severity
	count := item.EscalationCount() + 1

	next := item.Clone()
	next.RequiredRole = NextRole(fromRole)
	next.Severity = NextSeverity(fromSeverity)
	next.ApprovalDeadline = now.Add(s.cfg.EscalationExtension)
	next.UpdatedAt = now
	next.ContextData["escalated_from"] = string(fromRole)
	next.ContextData["escalated_at"] = now.Format(time.RFC3339)
	next.ContextData["escalation_reason"] = "Approval deadline exceeded"
	next.ContextData["escalation_count"] = count
	next.PriorityScore = PriorityScore(next, now)

	err := s.store.ApplyTransitions(ctx, []store.Transition{{
		Item:         next,
		ExpectStatus: models.StatusPending,
		Effects: store.Effects{
			Audit: []models.AuditLogEntry{s.audit("approval_escalated", models.ActorSystem, OrchestratorActor, next, map[string]any{
				"from_role":        fromRole,
				"to_role":          next.RequiredRole,
				"from_severity":    fromSeverity,
				"to_severity":      next.Severity,
				"reason":           "deadline_exceeded",
				"escalation_count": count,
			})},
			Notifications: []models.Notification{{
				WorkspaceID: next.WorkspaceID,
				Type:        "escalation",
				Title:       "Approval Escalated to " + displayRole(next.RequiredRole),
				Message: fmt.Sprintf("Decision %q has been escalated from %s to %s due to missed deadline",
					next.Title, fromRole, next.RequiredRole),
				Data:      map[string]any{"decision_id": next.ID, "from_role": fromRole, "to_role": next.RequiredRole},
				DedupKey:  fmt.Sprintf("escalation:%s:%d", next.ID, count),
				CreatedAt: now,
			}},
			Outbox: []models.OutboxEvent{s.event("decision_escalated", next)},
		},
	}})
	if errors.Is(err, store.ErrStatusConflict) {
		log.Printf("decision: %s resolved before escalation, skipping", item.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("escalate %s: %w", item.ID, err)
	}
	telemetry.DecisionsEscalated.Inc()
	log.Printf("decision: escalated %s from %s to %s", item.ID, fromRole, next.RequiredRole)
	return true, nil
}

func (s *Service) timeout(ctx context.Context, item models.DecisionItem, now time.Time) (bool, error) {
	actor := models.SystemActor
	rationale := fmt.Sprintf("Escalation limit of %d reached without a decision", s.cfg.MaxEscalations)

	next := item.Clone()
	next.Status = models.StatusTimeout
	next.UpdatedAt = now
	next.DecisionMadeAt = &now
	next.DecisionMadeBy = &actor
	next.DecisionRationale = &rationale

	err := s.store.ApplyTransitions(ctx, []store.Transition{{
		Item:         next,
		ExpectStatus: models.StatusPending,
		Effects: store.Effects{
			Audit: []models.AuditLogEntry{s.audit("approval_timeout", models.ActorSystem, OrchestratorActor, next, map[string]any{
				"escalation_count": item.EscalationCount(),
				"reason":           "max_escalations_reached",
			})},
			Notifications: []models.Notification{{
				WorkspaceID: next.WorkspaceID,
				Type:        "approval_timeout",
				Title:       "Approval Timeout: " + next.Title,
				Message:     rationale,
				Data:        map[string]any{"decision_id": next.ID},
				DedupKey:    "approval_timeout:" + next.ID,
				CreatedAt:   now,
			}},
			Outbox: []models.OutboxEvent{s.event("decision_timeout", next)},
		},
	}})
	if errors.Is(err, store.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("timeout %s: %w", item.ID, err)
	}
	telemetry.DecisionsResolved.WithLabelValues(string(models.StatusTimeout)).Inc()
	log.Printf("decision: %s timed out after %d escalations", item.ID, item.EscalationCount())
	return true, nil
}

// warn sends the deadline warning for the item's current deadline at most once.
func (s *Service) warn(ctx context.Context, item models.DecisionItem, now time.Time) (bool, error) {
	hours := item.ApprovalDeadline.Sub(now).Hours()
	created, err := s.store.CreateNotification(ctx, models.Notification{
		WorkspaceID: item.WorkspaceID,
		Type:        "deadline_warning",
		Title:       "Approval Deadline Approaching",
		Message:     fmt.Sprintf("Decision %q requires approval within %.1f hours", item.Title, hours),
		Data: map[string]any{
			"decision_id":       item.ID,
			"approval_deadline": item.ApprovalDeadline.UTC().Format(time.RFC3339),
			"required_role":     item.RequiredRole,
		},
		DedupKey:  fmt.Sprintf("deadline_warning:%s:%d", item.ID, item.ApprovalDeadline.Unix()),
		CreatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("deadline warning %s: %w", item.ID, err)
	}
	return created, nil
}

func displayRole(r models.Role) string {
	words := strings.Split(string(r), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
