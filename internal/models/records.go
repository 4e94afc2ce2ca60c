package models

import "time"

// AuditLogEntry is an append-only record of a state change.
type AuditLogEntry struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Subject types monitored by the orchestrator.
const (
	SubjectShipment       = "shipment"
	SubjectPurchaseOrder  = "purchase_order"
	SubjectSupplier       = "supplier"
	SubjectRecommendation = "recommendation"
	SubjectAlert          = "alert"
)

// Execution outcomes recorded on a subject after an approved decision is dispatched.
const (
	ExecutionSucceeded = "executed"
	ExecutionFailed    = "execution_failed"
)

// Subject is the latest snapshot of a monitored domain object, fed by agent streams.
type Subject struct {
	Type            string         `json:"type"`
	ID              string         `json:"id"`
	WorkspaceID     int64          `json:"workspace_id"`
	Status          string         `json:"status"`
	Attributes      map[string]any `json:"attributes"`
	ExecutionStatus string         `json:"execution_status,omitempty"`
	ExecutionError  string         `json:"execution_error,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Notification is a persisted user-facing message that is also fanned out to the UI bridge.
type Notification struct {
	ID          int64          `json:"id"`
	WorkspaceID int64          `json:"workspace_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data"`
	DedupKey    string         `json:"dedup_key,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Outbox statuses.
const (
	OutboxPending   = "pending"
	OutboxPublished = "published"
	OutboxFailed    = "failed"
)

// OutboxEvent is an outbound domain event written in the same transaction as the change it describes.
type OutboxEvent struct {
	ID            string         `json:"id"`
	Stream        string         `json:"stream"`
	EventType     string         `json:"event_type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	Payload       map[string]any `json:"payload"`
	Status        string         `json:"status"`
	RetryCount    int            `json:"retry_count"`
	LastError     *string        `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
}
