package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
)

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func approvedItem(objectType, objectID string) models.DecisionItem {
	by := "alice"
	return models.DecisionItem{
		ID:                "dec-1",
		WorkspaceID:       1,
		DecisionType:      models.DecisionPolicyViolation,
		Status:            models.StatusApproved,
		RelatedObjectType: objectType,
		RelatedObjectID:   objectID,
		TriggerRule:       "high_value_procurement",
		DecisionMadeBy:    &by,
	}
}

func TestExecuteDefaultHandlerEnqueuesEvent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reg := NewRegistry(st)
	RegisterDefaults(reg)

	if _, err := st.UpsertSubject(ctx, models.Subject{Type: models.SubjectPurchaseOrder, ID: "PO-7", WorkspaceID: 1, Status: "pending_approval"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := reg.Execute(ctx, approvedItem(models.SubjectPurchaseOrder, "PO-7")); err != nil {
		t.Fatalf("execute: %v", err)
	}

	events, err := st.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("pending outbox: %v", err)
	}
	if len(events) != 1 || events[0].Stream != StreamProcurement || events[0].EventType != EventPOApproved {
		t.Fatalf("unexpected outbox events %+v", events)
	}
	subj, _ := st.GetSubject(ctx, models.SubjectPurchaseOrder, "PO-7")
	if subj.ExecutionStatus != models.ExecutionSucceeded {
		t.Fatalf("expected executed got %q", subj.ExecutionStatus)
	}
}

func TestExecuteFailureIsRecordedOnSubject(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reg := NewRegistry(st)
	reg.Register(models.SubjectShipment, func(ctx context.Context, item models.DecisionItem, subject models.Subject) error {
		return errors.New("carrier rejected reroute")
	})

	err := reg.Execute(ctx, approvedItem(models.SubjectShipment, "42"))
	if err == nil {
		t.Fatalf("expected handler error")
	}
	subj, err := st.GetSubject(ctx, models.SubjectShipment, "42")
	if err != nil {
		t.Fatalf("expected placeholder subject: %v", err)
	}
	if subj.ExecutionStatus != models.ExecutionFailed || subj.ExecutionError != "carrier rejected reroute" {
		t.Fatalf("unexpected outcome %+v", subj)
	}
	audit, _ := st.ListAudit(ctx, models.SubjectShipment, "42")
	if len(audit) != 1 || audit[0].Action != "execution_failed" {
		t.Fatalf("expected execution_failed audit got %+v", audit)
	}
}

func TestExecuteUnknownTypeFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reg := NewRegistry(st)
	if err := reg.Execute(ctx, approvedItem("warehouse", "W1")); err == nil {
		t.Fatalf("expected error for unregistered type")
	}
}
