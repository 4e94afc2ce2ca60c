package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"supplychain-orchestrator/internal/models"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a compare-and-set transition finds the row
	// no longer in the expected status.
	ErrStatusConflict = errors.New("decision status changed concurrently")
)

// MaxOutboxRetries bounds how often a failed outbox event is re-attempted.
const MaxOutboxRetries = 10

// BroadcastStreamPrefix marks outbox events that are fanned out over pub/sub instead of a stream.
const BroadcastStreamPrefix = "ui.broadcast."

// Store is the persistence contract shared by the Postgres and SQLite implementations.
type Store interface {
	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	UpsertSubject(ctx context.Context, s models.Subject) (models.Subject, error)
	GetSubject(ctx context.Context, subjectType, id string) (models.Subject, error)
	ListSubjects(ctx context.Context, subjectType string, statuses []string) ([]models.Subject, error)
	RecordExecution(ctx context.Context, subjectType, id, status, execErr string) error

	CreateDecision(ctx context.Context, p CreateDecisionParams) (models.DecisionItem, bool, error)
	GetDecision(ctx context.Context, id string) (models.DecisionItem, error)
	ListDecisions(ctx context.Context, f DecisionFilter) ([]models.DecisionItem, error)
	UpdatePriorityScores(ctx context.Context, scores map[string]float64) error
	ApplyTransitions(ctx context.Context, ts []Transition) error

	AppendAudit(ctx context.Context, e models.AuditLogEntry) error
	ListAudit(ctx context.Context, objectType, objectID string) ([]models.AuditLogEntry, error)
	CreateNotification(ctx context.Context, n models.Notification) (bool, error)
	ListNotifications(ctx context.Context, workspaceID int64, limit int) ([]models.Notification, error)

	EnqueueOutbox(ctx context.Context, ev models.OutboxEvent) error
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id string, reason string) error
	MarkOutboxDeferred(ctx context.Context, id string, reason string) error
}

// Effects are rows written in the same transaction as a decision change.
type Effects struct {
	Audit         []models.AuditLogEntry
	Notifications []models.Notification
	Outbox        []models.OutboxEvent
}

// CreateDecisionParams collects inputs required to insert a decision item.
// The insert is skipped when an item in one of DedupStatuses already covers
// (related object, trigger rule); the covering item is returned instead.
type CreateDecisionParams struct {
	Item          models.DecisionItem
	DedupStatuses []models.Status
	Effects       Effects
}

// Transition is a compare-and-set update of a decision item: it applies only if the
// stored status still equals ExpectStatus.
type Transition struct {
	Item         models.DecisionItem
	ExpectStatus models.Status
	Effects      Effects
}

// DecisionFilter narrows ListDecisions. Zero values mean no constraint.
type DecisionFilter struct {
	WorkspaceID       int64
	Statuses          []models.Status
	RelatedObjectType string
	RelatedObjectID   string
	CreatedAfter      time.Time
	DeadlineBefore    time.Time
	OrderByPriority   bool
	Limit             int
}

const decisionColumns = `id, workspace_id, decision_type, title, description, status, severity, requires_approval,
	approval_deadline, required_role, related_object_type, related_object_id, trigger_rule, priority_score,
	estimated_impact_usd, affected_count, risk_if_delayed, context_data, created_by, created_by_type,
	created_at, updated_at, decision_made_at, decision_made_by, decision_rationale`

func prepareItem(item models.DecisionItem) (models.DecisionItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.ContextData == nil {
		item.ContextData = map[string]any{}
	}
	if item.ApprovalDeadline.Before(item.CreatedAt) {
		return item, fmt.Errorf("approval deadline %s before creation %s", item.ApprovalDeadline, item.CreatedAt)
	}
	if item.PriorityScore < 0 {
		item.PriorityScore = 0
	}
	return item, nil
}

func coveringItem(items []models.DecisionItem, rule string) (models.DecisionItem, bool) {
	for _, it := range items {
		if it.Covers(rule) {
			return it, true
		}
	}
	return models.DecisionItem{}, false
}

func statusStrings(in []models.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// broadcastFor derives the outbox event that fans a notification out to UI listeners.
func broadcastFor(n models.Notification) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New().String(),
		Stream:        BroadcastStreamPrefix + n.Type,
		EventType:     n.Type,
		AggregateType: "notification",
		AggregateID:   n.DedupKey,
		Payload: map[string]any{
			"title":   n.Title,
			"message": n.Message,
			"data":    n.Data,
		},
		Status:    models.OutboxPending,
		CreatedAt: n.CreatedAt,
	}
}

func prepareOutbox(ev models.OutboxEvent) models.OutboxEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = models.OutboxPending
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return ev
}

func prepareNotification(n models.Notification) models.Notification {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return n
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
