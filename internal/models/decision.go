package models

import (
	"time"
)

// Status enumerates decision item lifecycle states persisted in the store.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusTimeout    Status = "timeout"
	StatusSuperseded Status = "superseded"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTimeout, StatusSuperseded:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle graph has an edge from -> to.
// Escalation is not a status change and is therefore not an edge here.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusApproved, StatusRejected, StatusTimeout, StatusSuperseded:
		return true
	}
	return false
}

// Decision types created by the orchestrator.
const (
	DecisionPolicyViolation = "policy_violation_approval"
	DecisionRecommendation  = "recommendation_approval"
	DecisionAlertEscalation = "alert_escalation"
	DecisionApprovalRequest = "approval_request"
)

// Actor types recorded on decisions and audit rows.
const (
	ActorAgent  = "agent"
	ActorSystem = "system"
	ActorUser   = "user"
)

// SystemActor is the actor id used for automatic decisions.
const SystemActor = "system"

// DecisionItem is the durable unit of human-or-system adjudication.
type DecisionItem struct {
	ID                 string         `json:"id"`
	WorkspaceID        int64          `json:"workspace_id"`
	DecisionType       string         `json:"decision_type"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Status             Status         `json:"status"`
	Severity           Severity       `json:"severity"`
	RequiresApproval   bool           `json:"requires_approval"`
	ApprovalDeadline   time.Time      `json:"approval_deadline"`
	RequiredRole       Role           `json:"required_role"`
	RelatedObjectType  string         `json:"related_object_type"`
	RelatedObjectID    string         `json:"related_object_id"`
	TriggerRule        string         `json:"trigger_rule"`
	PriorityScore      float64        `json:"priority_score"`
	EstimatedImpactUSD float64        `json:"estimated_impact_usd"`
	AffectedCount      int            `json:"affected_count"`
	RiskIfDelayed      float64        `json:"risk_if_delayed"`
	ContextData        map[string]any `json:"context_data"`
	CreatedBy          string         `json:"created_by"`
	CreatedByType      string         `json:"created_by_type"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DecisionMadeAt     *time.Time     `json:"decision_made_at,omitempty"`
	DecisionMadeBy     *string        `json:"decision_made_by,omitempty"`
	DecisionRationale  *string        `json:"decision_rationale,omitempty"`
}

// Confidence is the agent-reported confidence carried in context data, 0 when absent.
func (d DecisionItem) Confidence() float64 {
	f, _ := AsFloat(d.ContextData["confidence"])
	return f
}

// MergedRules lists the triggering rules folded into this item by conflict resolution.
func (d DecisionItem) MergedRules() []string {
	raw, ok := d.ContextData["merged_rules"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Covers reports whether the item already accounts for rule on its related object.
func (d DecisionItem) Covers(rule string) bool {
	if d.TriggerRule == rule {
		return true
	}
	for _, r := range d.MergedRules() {
		if r == rule {
			return true
		}
	}
	return false
}

// EscalationCount returns how many times the item has been escalated.
func (d DecisionItem) EscalationCount() int {
	f, _ := AsFloat(d.ContextData["escalation_count"])
	return int(f)
}

// Clone returns a copy whose context map can be mutated independently.
func (d DecisionItem) Clone() DecisionItem {
	out := d
	out.ContextData = make(map[string]any, len(d.ContextData))
	for k, v := range d.ContextData {
		out.ContextData[k] = v
	}
	return out
}
