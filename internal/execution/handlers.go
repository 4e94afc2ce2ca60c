package execution

import (
	"context"
	"fmt"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
)

// Outbound streams written by the default handlers.
const (
	StreamDecisions   = "decisions.events"
	StreamShipments   = "shipments.status"
	StreamProcurement = "procurement.actions"
	StreamAlerts      = "alerts.updates"
	StreamSuppliers   = "suppliers.reviews"
)

// EventPOApproved is published on the procurement stream when a purchase order decision is approved.
const EventPOApproved = "po_approved"

// RegisterDefaults binds the outbox-backed handlers for every monitored object type.
func RegisterDefaults(r *Registry) {
	r.Register(models.SubjectShipment, OutboxHandler(r.store, StreamShipments, "shipment_decision_approved"))
	r.Register(models.SubjectPurchaseOrder, OutboxHandler(r.store, StreamProcurement, EventPOApproved))
	r.Register(models.SubjectSupplier, OutboxHandler(r.store, StreamSuppliers, "supplier_review_approved"))
	r.Register(models.SubjectAlert, OutboxHandler(r.store, StreamAlerts, "alert_resolution_approved"))
	r.Register(models.SubjectRecommendation, OutboxHandler(r.store, StreamDecisions, "recommendation_approved"))
}

// OutboxHandler hands the approved decision to downstream systems by enqueueing an
// outbound event; the outbox publisher delivers it.
func OutboxHandler(st store.Store, stream, eventType string) Handler {
	return func(ctx context.Context, item models.DecisionItem, subject models.Subject) error {
		payload := map[string]any{
			"decision_id":   item.ID,
			"decision_type": item.DecisionType,
			"object_type":   subject.Type,
			"object_id":     subject.ID,
			"trigger_rule":  item.TriggerRule,
			"approved_by":   deref(item.DecisionMadeBy),
		}
		if subject.Type == models.SubjectPurchaseOrder {
			payload["type"] = eventType
			payload["po_id"] = subject.ID
			payload["status"] = "approved"
		}
		err := st.EnqueueOutbox(ctx, models.OutboxEvent{
			Stream:        stream,
			EventType:     eventType,
			AggregateType: subject.Type,
			AggregateID:   subject.ID,
			Payload:       payload,
		})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", eventType, err)
		}
		return nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
