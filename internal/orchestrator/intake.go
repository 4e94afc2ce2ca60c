package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
)

// AutoApproveReason is the rationale recorded on fast-path approvals.
const AutoApproveReason = "Met auto-approval criteria"

// Identifier keys searched in domain events, most specific first.
var subjectKeys = []struct {
	key         string
	subjectType string
}{
	{"recommendation_id", models.SubjectRecommendation},
	{"alert_id", models.SubjectAlert},
	{"po_id", models.SubjectPurchaseOrder},
	{"supplier_id", models.SubjectSupplier},
	{"shipment_id", models.SubjectShipment},
}

// Status given to a subject first seen without one.
var initialStatus = map[string]string{
	models.SubjectShipment:       "planned",
	models.SubjectPurchaseOrder:  "draft",
	models.SubjectSupplier:       "active",
	models.SubjectRecommendation: "pending",
	models.SubjectAlert:          "open",
}

func malformed(msg bus.Message, format string, args ...any) error {
	return &bus.DeserializationError{Stream: msg.Stream, ID: msg.ID, Err: fmt.Errorf(format, args...)}
}

// handleApprovalRequest turns a direct approval request into an approval_request item,
// or approves it immediately when the fast path applies.
func (o *Orchestrator) handleApprovalRequest(ctx context.Context, msg bus.Message) error {
	var req decision.ApprovalRequest
	if err := bus.Decode(msg, &req); err != nil {
		return err
	}
	id := models.IDString(req.RecommendationID)
	if id == "" {
		return malformed(msg, "missing recommendation_id")
	}
	now := o.decisions.Now()

	checks := policy.Context{}
	for k, v := range req.Details {
		checks[k] = v
	}
	if _, ok := checks[string(policy.FieldPurchaseAmount)]; !ok {
		checks[string(policy.FieldPurchaseAmount)] = req.Amount()
	}
	violations := o.policies.EvaluateProcurementPolicies(checks, now)

	attrs := map[string]any{
		"recommendation_type": req.RecommendationType,
		"requested_by":        req.RequestedBy,
	}
	for k, v := range req.Details {
		attrs[k] = v
	}
	if _, err := o.upsertSubject(ctx, models.SubjectRecommendation, id, "approval_requested", attrs, now); err != nil {
		return err
	}

	item := o.decisions.FromApprovalRequest(req, violations, now)
	amount, risk := req.Amount(), req.Risk()
	if o.decisions.AutoApproveEligible(violations, amount, risk) && !o.decisions.RequiresHumanReview(violations, amount, risk) {
		_, _, err := o.decisions.AutoApprove(ctx, item, AutoApproveReason)
		return err
	}
	_, _, err := o.decisions.Create(ctx, item)
	return err
}

// handleProcurementAction keeps the purchase order snapshot in step with procurement
// actions, including the po_approved events emitted after execution.
func (o *Orchestrator) handleProcurementAction(ctx context.Context, msg bus.Message) error {
	var payload map[string]any
	if err := bus.Decode(msg, &payload); err != nil {
		return err
	}
	action, _ := payload["type"].(string)
	if action == "" {
		return malformed(msg, "missing type")
	}
	id := models.IDString(payload["po_id"])
	if id == "" {
		return malformed(msg, "missing po_id")
	}

	status, _ := payload["status"].(string)
	switch action {
	case "po_approved":
		status = "approved"
	case "cancel", "po_cancelled":
		status = "cancelled"
	}
	attrs := map[string]any{"last_action": action}
	for k, v := range payload {
		switch k {
		case "type", "po_id", "status":
		default:
			attrs[k] = v
		}
	}
	_, err := o.upsertSubject(ctx, models.SubjectPurchaseOrder, id, status, attrs, o.decisions.Now())
	return err
}

// handleDomainEvent merges an agent event into the snapshot of the subject it names.
func (o *Orchestrator) handleDomainEvent(ctx context.Context, msg bus.Message) error {
	var payload map[string]any
	if err := bus.Decode(msg, &payload); err != nil {
		return err
	}
	subjectType, id := subjectOf(payload)
	if id == "" {
		return malformed(msg, "no subject identifier in event")
	}
	status, _ := payload["status"].(string)
	attrs := map[string]any{}
	for k, v := range payload {
		switch k {
		case "status", "subject_type", "subject_id":
		default:
			attrs[k] = v
		}
	}
	_, err := o.upsertSubject(ctx, subjectType, id, status, attrs, o.decisions.Now())
	return err
}

func subjectOf(payload map[string]any) (string, string) {
	if t, _ := payload["subject_type"].(string); t != "" {
		if id := models.IDString(payload["subject_id"]); id != "" {
			return t, id
		}
	}
	for _, k := range subjectKeys {
		if id := models.IDString(payload[k.key]); id != "" {
			return k.subjectType, id
		}
	}
	return "", ""
}

// upsertSubject merges attrs over the stored snapshot. An empty status keeps the stored
// one, or the type's initial status for a new subject.
func (o *Orchestrator) upsertSubject(ctx context.Context, subjectType, id, status string, attrs map[string]any, now time.Time) (models.Subject, error) {
	merged := map[string]any{}
	existing, err := o.store.GetSubject(ctx, subjectType, id)
	switch {
	case err == nil:
		for k, v := range existing.Attributes {
			merged[k] = v
		}
		if status == "" {
			status = existing.Status
		}
	case errors.Is(err, store.ErrNotFound):
		if status == "" {
			status = initialStatus[subjectType]
		}
	default:
		return models.Subject{}, err
	}
	for k, v := range attrs {
		merged[k] = v
	}
	return o.store.UpsertSubject(ctx, models.Subject{
		Type:        subjectType,
		ID:          id,
		WorkspaceID: o.cfg.WorkspaceID,
		Status:      status,
		Attributes:  merged,
		UpdatedAt:   now,
	})
}
