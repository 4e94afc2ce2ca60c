package decision

import (
	"math"
	"strings"
	"time"

	"supplychain-orchestrator/internal/models"
)

var severityScores = map[models.Severity]float64{
	models.SeverityCritical: 100,
	models.SeverityHigh:     75,
	models.SeverityMedium:   50,
	models.SeverityLow:      25,
}

var deadlineHours = map[models.Severity]int{
	models.SeverityCritical: 4,
	models.SeverityHigh:     24,
	models.SeverityMedium:   48,
	models.SeverityLow:      72,
}

// senior_manager sits between manager and director.
var roleScores = map[models.Role]float64{
	models.RoleDirector:      30,
	models.RoleSeniorManager: 25,
	models.RoleManager:       20,
	models.RoleAnalyst:       10,
}

// Alert escalations weigh as risk mitigation, approval requests as procurement and
// recommendations as route approvals.
var typeScores = map[string]float64{
	models.DecisionAlertEscalation: 25,
	models.DecisionPolicyViolation: 20,
	models.DecisionRecommendation:  20,
	models.DecisionApprovalRequest: 15,
}

// Escalation skips senior_manager; that role is only assigned at creation.
var nextRole = map[models.Role]models.Role{
	models.RoleAnalyst:       models.RoleManager,
	models.RoleManager:       models.RoleDirector,
	models.RoleSeniorManager: models.RoleDirector,
	models.RoleDirector:      models.RoleDirector,
}

var nextSeverity = map[models.Severity]models.Severity{
	models.SeverityLow:      models.SeverityMedium,
	models.SeverityMedium:   models.SeverityHigh,
	models.SeverityHigh:     models.SeverityCritical,
	models.SeverityCritical: models.SeverityCritical,
}

// SeverityScore is the base priority of a severity; unknown severities score as low.
func SeverityScore(s models.Severity) float64 {
	if v, ok := severityScores[s]; ok {
		return v
	}
	return severityScores[models.SeverityLow]
}

// ApprovalRole picks the authority for a policy violation from its rule name and severity.
func ApprovalRole(rule string, s models.Severity) models.Role {
	name := strings.ToLower(rule)
	switch {
	case s == models.SeverityCritical || strings.Contains(name, "high_value"):
		return models.RoleDirector
	case s == models.SeverityHigh || strings.Contains(name, "emergency"):
		return models.RoleSeniorManager
	default:
		return models.RoleManager
	}
}

// DeadlineFor returns the approval deadline for an item created at created. The severity
// table applies unless the violation carries an earlier escalation deadline. The result
// is never before created.
func DeadlineFor(s models.Severity, created, escalation time.Time) time.Time {
	hours, ok := deadlineHours[s]
	if !ok {
		hours = deadlineHours[models.SeverityMedium]
	}
	deadline := created.Add(time.Duration(hours) * time.Hour)
	if !escalation.IsZero() && escalation.Before(deadline) {
		deadline = escalation
	}
	if deadline.Before(created) {
		deadline = created
	}
	return deadline
}

// NextRole returns the role one step up the ladder; director is terminal.
func NextRole(r models.Role) models.Role {
	if next, ok := nextRole[r]; ok {
		return next
	}
	return models.RoleManager
}

// NextSeverity returns the severity one step up; critical is terminal.
func NextSeverity(s models.Severity) models.Severity {
	if next, ok := nextSeverity[s]; ok {
		return next
	}
	return models.SeverityHigh
}

// PriorityScore computes the queue score of item at now from its current fields only.
func PriorityScore(item models.DecisionItem, now time.Time) float64 {
	score := SeverityScore(item.Severity)

	switch impact := item.EstimatedImpactUSD; {
	case impact > 100000:
		score += 50
	case impact > 50000:
		score += 30
	case impact > 10000:
		score += 15
	default:
		score += 5
	}

	switch left := item.ApprovalDeadline.Sub(now); {
	case left < 2*time.Hour:
		score += 40
	case left < 8*time.Hour:
		score += 25
	case left < 24*time.Hour:
		score += 15
	case left < 72*time.Hour:
		score += 5
	}

	if item.AffectedCount > 0 {
		score += math.Min(float64(item.AffectedCount*5), 30)
	}

	if v, ok := roleScores[item.RequiredRole]; ok {
		score += v
	} else {
		score += 10
	}

	if v, ok := typeScores[item.DecisionType]; ok {
		score += v
	} else {
		score += 10
	}

	if age := now.Sub(item.CreatedAt).Hours(); age > 0 {
		score += math.Min(age*0.5, 20)
	}
	return score
}

// impactBase and impactMultiplier estimate the cost of leaving a violation unresolved.
var impactBase = map[string]float64{
	models.SubjectShipment:      5000,
	models.SubjectPurchaseOrder: 10000,
	models.SubjectSupplier:      15000,
}

var impactMultiplier = map[models.Severity]float64{
	models.SeverityLow:      0.5,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 5,
}

// EstimateImpact returns the estimated USD impact of a violation on an object type.
func EstimateImpact(objectType string, s models.Severity) float64 {
	base, ok := impactBase[objectType]
	if !ok {
		base = 5000
	}
	mult, ok := impactMultiplier[s]
	if !ok {
		mult = 1
	}
	return base * mult
}

var typeRisk = map[string]float64{
	models.SubjectShipment:      0.3,
	models.SubjectPurchaseOrder: 0.6,
	models.SubjectSupplier:      0.8,
}

var severityRisk = map[models.Severity]float64{
	models.SeverityLow:      0.2,
	models.SeverityMedium:   0.5,
	models.SeverityHigh:     0.8,
	models.SeverityCritical: 1,
}

// RiskIfDelayed scores, in [0,1], the risk of not deciding a violation.
func RiskIfDelayed(objectType string, s models.Severity) float64 {
	base, ok := typeRisk[objectType]
	if !ok {
		base = 0.5
	}
	factor, ok := severityRisk[s]
	if !ok {
		factor = 0.5
	}
	return math.Round(math.Min(1, base+factor*0.5)*100) / 100
}
