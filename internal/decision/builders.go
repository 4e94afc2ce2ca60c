package decision

import (
	"fmt"
	"time"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/policy"
)

// Trigger rules for decision items that do not come from a policy rule.
const (
	RuleRecommendationReview = "recommendation_review"
	RuleCriticalAlert        = "critical_alert"
	RuleApprovalRequest      = "approval_request"
)

// FromViolation builds the pending item for a violation on a subject observed at now.
func FromViolation(objectType, objectID string, v policy.Violation, now time.Time) models.DecisionItem {
	ctx := map[string]any{
		"rule_name":          v.RuleName,
		"violation_severity": string(v.Severity),
		"violation_context":  map[string]any(v.Context),
		"current_value":      v.CurrentValue,
		"threshold_value":    v.Threshold,
		"workflow_type":      "approval_required",
	}
	if !v.EscalationDeadline.IsZero() {
		ctx["escalation_deadline"] = v.EscalationDeadline.UTC().Format(time.RFC3339)
	}
	affected := 0
	if n, ok := models.AsFloat(v.Context["affected_shipments_count"]); ok && n > 0 {
		affected = int(n)
	}
	return models.DecisionItem{
		DecisionType:       models.DecisionPolicyViolation,
		Title:              "Policy Violation: " + v.RuleName,
		Description:        fmt.Sprintf("Policy violation detected requiring approval for %s #%s", objectType, objectID),
		Severity:           v.Severity,
		RequiresApproval:   true,
		ApprovalDeadline:   DeadlineFor(v.Severity, now, v.EscalationDeadline),
		RequiredRole:       ApprovalRole(v.RuleName, v.Severity),
		RelatedObjectType:  objectType,
		RelatedObjectID:    objectID,
		TriggerRule:        v.RuleName,
		EstimatedImpactUSD: EstimateImpact(objectType, v.Severity),
		AffectedCount:      affected,
		RiskIfDelayed:      RiskIfDelayed(objectType, v.Severity),
		ContextData:        ctx,
		CreatedBy:          OrchestratorActor,
		CreatedByType:      models.ActorAgent,
	}
}

// RecommendationNeedsReview reports whether a pending recommendation must be approved by
// a human: low confidence, large expected benefit, or a route or supplier change.
func RecommendationNeedsReview(attrs map[string]any) bool {
	if c, ok := confidence(attrs); ok && c < 0.7 {
		return true
	}
	if b, _ := models.AsFloat(attrs["expected_benefit"]); b > 10000 {
		return true
	}
	switch recommendationType(attrs) {
	case "route_change", "supplier_change":
		return true
	}
	return false
}

// FromRecommendation builds the review item for a pending recommendation subject.
func FromRecommendation(subj models.Subject, now time.Time) models.DecisionItem {
	attrs := subj.Attributes
	benefit, _ := models.AsFloat(attrs["expected_benefit"])
	conf, hasConf := confidence(attrs)
	kind := recommendationType(attrs)

	severity := models.SeverityLow
	switch {
	case benefit > 50000:
		severity = models.SeverityHigh
	case hasConf && conf < 0.5:
		severity = models.SeverityMedium
	}
	role := models.RoleAnalyst
	switch {
	case benefit > 25000:
		role = models.RoleDirector
	case kind == "route_change" || kind == "supplier_change":
		role = models.RoleManager
	}
	ctx := map[string]any{
		"recommendation_type":       kind,
		"expected_benefit":          benefit,
		"implementation_complexity": stringOr(attrs["complexity"], "medium"),
	}
	if hasConf {
		ctx["confidence"] = conf
	}
	return models.DecisionItem{
		DecisionType:       models.DecisionRecommendation,
		Title:              "Approve Recommendation: " + stringOr(attrs["title"], subj.ID),
		Description:        kind + " recommendation requires approval",
		Severity:           severity,
		RequiresApproval:   true,
		ApprovalDeadline:   now.Add(48 * time.Hour),
		RequiredRole:       role,
		RelatedObjectType:  models.SubjectRecommendation,
		RelatedObjectID:    subj.ID,
		TriggerRule:        RuleRecommendationReview,
		EstimatedImpactUSD: benefit,
		RiskIfDelayed:      0.3,
		ContextData:        ctx,
		CreatedBy:          OrchestratorActor,
		CreatedByType:      models.ActorAgent,
	}
}

var alertImpact = map[string]float64{
	"shipment_delay":   5000,
	"route_disruption": 15000,
	"supplier_issue":   10000,
	"system_error":     2000,
}

// FromAlert builds the escalation item for an open critical alert.
func FromAlert(subj models.Subject, now time.Time) models.DecisionItem {
	attrs := subj.Attributes
	alertType := stringOr(attrs["alert_type"], "unknown")
	impact, ok := alertImpact[alertType]
	if !ok {
		impact = 5000
	}
	ctx := map[string]any{
		"alert_type":        alertType,
		"alert_data":        attrs["alert_data"],
		"affected_shipment": attrs["related_shipment_id"],
	}
	affected := 0
	if attrs["related_shipment_id"] != nil {
		affected = 1
	}
	return models.DecisionItem{
		DecisionType:       models.DecisionAlertEscalation,
		Title:              "Critical Alert Escalation: " + stringOr(attrs["title"], subj.ID),
		Description:        "Critical alert requires immediate attention and decision",
		Severity:           models.SeverityCritical,
		RequiresApproval:   true,
		ApprovalDeadline:   now.Add(4 * time.Hour),
		RequiredRole:       models.RoleManager,
		RelatedObjectType:  models.SubjectAlert,
		RelatedObjectID:    subj.ID,
		TriggerRule:        RuleCriticalAlert,
		EstimatedImpactUSD: impact,
		AffectedCount:      affected,
		RiskIfDelayed:      1,
		ContextData:        ctx,
		CreatedBy:          OrchestratorActor,
		CreatedByType:      models.ActorAgent,
	}
}

// ApprovalRequest is the payload agents publish on approvals.requests.
type ApprovalRequest struct {
	RecommendationID   any            `json:"recommendation_id"`
	RecommendationType string         `json:"recommendation_type"`
	Details            map[string]any `json:"details"`
	RequestedBy        string         `json:"requested_by"`
}

// Amount is the monetary value under review, 0 when absent.
func (r ApprovalRequest) Amount() float64 {
	for _, k := range []string{"amount", "purchase_amount", "total_amount"} {
		if v, ok := models.AsFloat(r.Details[k]); ok {
			return v
		}
	}
	return 0
}

// Risk is the requester's risk estimate in [0,1], 0 when absent.
func (r ApprovalRequest) Risk() float64 {
	v, _ := models.AsFloat(r.Details["risk_score"])
	return v
}

// FromApprovalRequest builds the item for a direct approval request. The policy
// violations found for the request raise its severity and are kept in context.
func (s *Service) FromApprovalRequest(req ApprovalRequest, violations []policy.Violation, now time.Time) models.DecisionItem {
	id := models.IDString(req.RecommendationID)
	amount, risk := req.Amount(), req.Risk()
	assessment := policy.Assess(violations)

	severity := models.SeverityLow
	switch {
	case assessment.CriticalCount > 0:
		severity = models.SeverityCritical
	case assessment.HighCount > 0 || risk > s.cfg.HumanReviewRisk:
		severity = models.SeverityHigh
	case assessment.Total > 0 || amount > s.cfg.AutoApproveLimit:
		severity = models.SeverityMedium
	}
	rules := make([]string, 0, len(violations))
	for _, v := range violations {
		if v.Violated {
			rules = append(rules, v.RuleName)
		}
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = models.SystemActor
	}
	return models.DecisionItem{
		DecisionType:       models.DecisionApprovalRequest,
		Title:              fmt.Sprintf("Approval Request: %s recommendation %s", req.RecommendationType, id),
		Description:        fmt.Sprintf("%s requested approval for recommendation %s", requestedBy, id),
		Severity:           severity,
		RequiresApproval:   true,
		ApprovalDeadline:   now.Add(s.cfg.ApprovalTimeout),
		RequiredRole:       ApprovalRole(RuleApprovalRequest, severity),
		RelatedObjectType:  models.SubjectRecommendation,
		RelatedObjectID:    id,
		TriggerRule:        RuleApprovalRequest,
		EstimatedImpactUSD: amount,
		RiskIfDelayed:      risk,
		ContextData: map[string]any{
			"recommendation_type": req.RecommendationType,
			"details":             req.Details,
			"requested_by":        requestedBy,
			"policy_checks":       rules,
			"risk_score":          assessment.RiskScore,
			"recommended_action":  assessment.RecommendedAction,
		},
		CreatedBy:     requestedBy,
		CreatedByType: models.ActorAgent,
	}
}

func confidence(attrs map[string]any) (float64, bool) {
	for _, k := range []string{"confidence", "confidence_score"} {
		if v, ok := models.AsFloat(attrs[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func recommendationType(attrs map[string]any) string {
	if v := stringOr(attrs["recommendation_type"], ""); v != "" {
		return v
	}
	return stringOr(attrs["type"], "")
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
