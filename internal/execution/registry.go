package execution

import (
	"context"
	"errors"
	"fmt"
	"log"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// Handler applies an approved decision to its related object.
type Handler func(ctx context.Context, item models.DecisionItem, subject models.Subject) error

// Registry dispatches approved decisions to handlers keyed by related object type.
// The outcome is recorded on the subject; it never changes the decision itself.
type Registry struct {
	store    store.Store
	handlers map[string]Handler
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{
		store:    st,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a related object type.
func (r *Registry) Register(objectType string, handler Handler) {
	if objectType == "" || handler == nil {
		return
	}
	r.handlers[objectType] = handler
}

// Execute runs the handler for item and records the outcome on the related subject.
// The handler's error is returned after it has been recorded.
func (r *Registry) Execute(ctx context.Context, item models.DecisionItem) error {
	subject, err := r.subject(ctx, item)
	if err != nil {
		return err
	}

	var runErr error
	handler, ok := r.handlers[item.RelatedObjectType]
	if !ok {
		runErr = fmt.Errorf("no handler registered for type %q", item.RelatedObjectType)
	} else {
		runErr = handler(ctx, item, subject)
	}

	status, reason, action := models.ExecutionSucceeded, "", "decision_executed"
	if runErr != nil {
		status, reason, action = models.ExecutionFailed, runErr.Error(), "execution_failed"
		telemetry.ExecutionFailures.Inc()
		log.Printf("execution: decision=%s %s/%s failed: %v", item.ID, item.RelatedObjectType, item.RelatedObjectID, runErr)
	}
	if err := r.store.RecordExecution(ctx, item.RelatedObjectType, item.RelatedObjectID, status, reason); err != nil {
		return errors.Join(runErr, fmt.Errorf("record execution: %w", err))
	}
	details := map[string]any{"decision_id": item.ID, "status": status}
	if reason != "" {
		details["error"] = reason
	}
	if err := r.store.AppendAudit(ctx, models.AuditLogEntry{
		Action:     action,
		ActorType:  models.ActorSystem,
		ActorID:    "orchestrator",
		ObjectType: item.RelatedObjectType,
		ObjectID:   item.RelatedObjectID,
		Details:    details,
	}); err != nil {
		return errors.Join(runErr, fmt.Errorf("append audit: %w", err))
	}
	return runErr
}

// subject loads the related object, registering a placeholder snapshot when the
// object has not been seen on any stream yet so the outcome has somewhere to live.
func (r *Registry) subject(ctx context.Context, item models.DecisionItem) (models.Subject, error) {
	subj, err := r.store.GetSubject(ctx, item.RelatedObjectType, item.RelatedObjectID)
	if err == nil {
		return subj, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Subject{}, fmt.Errorf("load subject: %w", err)
	}
	subj, err = r.store.UpsertSubject(ctx, models.Subject{
		Type:        item.RelatedObjectType,
		ID:          item.RelatedObjectID,
		WorkspaceID: item.WorkspaceID,
		Status:      "unknown",
	})
	if err != nil {
		return models.Subject{}, fmt.Errorf("register subject: %w", err)
	}
	return subj, nil
}
